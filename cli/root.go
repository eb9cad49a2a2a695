// Package cli implements the vpnrdp command line: profile management,
// connecting and disconnecting, and the dashboard, tray and API front ends.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yllada/vpnrdp-manager/common"
)

// BuildInfo is injected by main from ldflags.
type BuildInfo struct {
	Version   string
	BuildTime string
	Commit    string
}

var (
	appInstance *App
	buildInfo   = BuildInfo{Version: "dev", BuildTime: "unknown", Commit: "unknown"}
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vpnrdp",
	Short: "VPN+RDP Manager - OpenVPN 3 tunnels with FreeRDP sessions on top",
	Long: `VPN+RDP Manager

  Each profile pairs an OpenVPN 3 configuration with a remote desktop host.
  Connecting starts the VPN session, waits for the tunnel to settle and then
  opens the RDP client. Closing the RDP window tears the VPN down again.

  Quick start:
    vpnrdp add office --vpn-config ~/office.ovpn --vpn-user alice --rdp-host 10.0.0.5 --rdp-user alice
    vpnrdp connect office --wait
    vpnrdp tui

  Run without a command to open the dashboard.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		configPath, _ := cmd.Flags().GetString("config")
		return initApp(configPath, verbose)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appInstance != nil {
			return appInstance.Close()
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd)
	},
}

func initApp(configPath string, verbose bool) error {
	app, err := NewApp(configPath)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	level := common.ParseLevel(app.Config.LogLevel)
	if verbose {
		level = common.LevelDebug
	}
	common.GetLogger().SetLevel(level)

	appInstance = app
	return nil
}

// SetBuildInfo records the version shown by "vpnrdp version".
func SetBuildInfo(info BuildInfo) {
	buildInfo = info
	rootCmd.Version = info.Version
}

// Execute runs the root command. ctx is canceled on SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default ~/.config/vpnrdp/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(listCmd, addCmd, editCmd, removeCmd, showCmd)
	rootCmd.AddCommand(connectCmd, disconnectCmd)
	rootCmd.AddCommand(configsCmd, monitorsCmd, historyCmd, checkCmd)
	rootCmd.AddCommand(tuiCmd, trayCmd, serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// No application state is needed.
	PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
	PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", common.AppName, buildInfo.Version)
		if buildInfo.BuildTime != "unknown" {
			fmt.Fprintf(out, "  Build:  %s\n", buildInfo.BuildTime)
			fmt.Fprintf(out, "  Commit: %s\n", buildInfo.Commit)
		}
	},
}

// completeProfileNames offers profile names for shell completion.
func completeProfileNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	configPath, _ := cmd.Flags().GetString("config")
	if appInstance == nil {
		if err := initApp(configPath, false); err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
	}
	return appInstance.Profiles.Names(), cobra.ShellCompDirectiveNoFileComp
}
