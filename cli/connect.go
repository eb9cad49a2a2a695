package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/connection"
	"github.com/yllada/vpnrdp-manager/credential"
)

var connectCmd = &cobra.Command{
	Use:   "connect NAME",
	Short: "Connect a profile: VPN first, then the remote desktop",
	Long: `Connect a profile.

  If a dashboard, tray or "vpnrdp serve" is running, the request is handed to
  it and the command returns at once. Otherwise, or with --wait, the
  connection runs in this process: passwords that are not stored are asked
  for on the terminal and Ctrl+C disconnects.`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeProfileNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if _, err := appInstance.Profiles.Get(name); err != nil {
			return err
		}

		wait, _ := cmd.Flags().GetBool("wait")
		if !wait {
			if client := appInstance.Client(); client != nil && instanceRunning(cmd.Context()) {
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				defer cancel()
				if _, err := client.Connect(ctx, name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Connecting %s in the running instance\n", name)
				return nil
			}
		}

		return connectInProcess(cmd, name)
	},
}

// instanceRunning reports whether another process answers on the status API.
func instanceRunning(ctx context.Context) bool {
	return runningStatuses(ctx) != nil
}

func connectInProcess(cmd *cobra.Command, name string) error {
	prompter := credential.NewPrompterIO(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err := appInstance.Start(prompter); err != nil {
		return err
	}
	appInstance.ServeAPIBackground(cmd.Context())

	events, unsubscribe := appInstance.Manager.Subscribe(32)
	defer unsubscribe()

	if err := appInstance.Manager.Connect(name); err != nil {
		return err
	}
	return follow(cmd.Context(), cmd.OutOrStdout(), name, events, appInstance.Manager.Disconnect)
}

// follow prints the status events of name until the connection ends. When
// ctx is done, stop is called once and follow keeps reading until the
// teardown is reported.
func follow(ctx context.Context, out io.Writer, name string, events <-chan connection.StatusEvent, stop func(string) error) error {
	done := ctx.Done()
	stopping := false

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Profile != name {
				continue
			}
			fmt.Fprintf(out, "[%s] %s\n", ev.Time.Format("15:04:05"), ev.Message)

			switch {
			case ev.Status == connection.StatusConnected:
				fmt.Fprintln(out, "Press Ctrl+C to disconnect.")
			case ev.Status == connection.StatusDisconnected:
				return nil
			case ev.Status == connection.StatusCanceled:
				if stopping {
					return nil
				}
				return fmt.Errorf("%w: %s", common.ErrCanceled, ev.Message)
			case ev.Status.Failed():
				return fmt.Errorf("%s: %s", ev.Status, ev.Message)
			}

		case <-done:
			done = nil
			stopping = true
			fmt.Fprintln(out, "Disconnecting...")
			if err := stop(name); err != nil {
				if errors.Is(err, common.ErrNotConnected) {
					return nil
				}
				return err
			}
		}
	}
}

var disconnectCmd = &cobra.Command{
	Use:               "disconnect [NAME]",
	Short:             "Disconnect a profile in the running instance",
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeProfileNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return errors.New("give either a profile name or --all")
		}

		client := appInstance.Client()
		if client == nil {
			return errors.New("the status API is disabled (api_listen is empty)")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		names := args
		if all {
			conns, err := client.Connections(ctx)
			if err != nil {
				return fmt.Errorf("no running instance at %s: %w", appInstance.Config.APIListen, err)
			}
			names = names[:0]
			for _, c := range conns {
				names = append(names, c.Profile)
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing is connected.")
				return nil
			}
		}

		var errs []error
		for _, name := range names {
			if err := client.Disconnect(ctx, name); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Disconnected %s\n", name)
		}
		return errors.Join(errs...)
	},
}

func init() {
	connectCmd.Flags().BoolP("wait", "w", false, "run the connection in this process and wait until it ends")
	disconnectCmd.Flags().BoolP("all", "a", false, "disconnect every profile")
}
