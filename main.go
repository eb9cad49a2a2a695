// Package main provides the entry point for VPN+RDP Manager, which opens an
// OpenVPN 3 session and a FreeRDP remote desktop on top of it as one
// connection, from the command line, a terminal dashboard or the tray.
//
// Usage:
//
//	vpnrdp [command] [flags]
//
// Environment:
//
//	The application requires openvpn3 and xfreerdp (or wlfreerdp) in PATH.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yllada/vpnrdp-manager/cli"
	"github.com/yllada/vpnrdp-manager/common"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

func main() {
	if err := common.InitLogger(common.LogConfig{
		Level:       common.LevelInfo,
		EnableFile:  true,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	// Setup graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals (SIGINT, SIGTERM)
	setupSignalHandler(cancel)

	cli.SetBuildInfo(cli.BuildInfo{
		Version:   appVersion,
		BuildTime: buildTime,
		Commit:    commitSHA,
	})
	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		common.CloseLogger()
		os.Exit(1)
	}
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// The first signal cancels the context so connections are torn down; a
// second one exits at once.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		sig = <-sigChan
		common.LogWarn("Received signal %v again, exiting without cleanup", sig)
		os.Exit(1)
	}()
}
