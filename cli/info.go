package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/history"
)

var configsCmd = &cobra.Command{
	Use:   "configs",
	Short: "List the configurations imported into OpenVPN 3",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		names, err := appInstance.Supervisor.ListVPNConfigs(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(names) == 0 {
			fmt.Fprintln(out, "No imported configurations.")
			return nil
		}
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return nil
	},
}

var monitorsCmd = &cobra.Command{
	Use:   "monitors",
	Short: "List connected monitors and their indices for --monitors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		monitors, err := appInstance.Supervisor.ListMonitors(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(monitors) == 0 {
			fmt.Fprintln(out, "No monitors detected.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tOUTPUT\tSIZE\tPOSITION")
		for _, m := range monitors {
			fmt.Fprintf(w, "%d\t%s\t%dx%d\t+%d+%d\n", m.Index, m.Name, m.Width, m.Height, m.X, m.Y)
		}
		return w.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:               "history [NAME]",
	Short:             "Show recent connection attempts",
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeProfileNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		var name string
		if len(args) == 1 {
			name = args[0]
		}

		store, err := history.Open(appInstance.path(common.HistoryFileName))
		if err != nil {
			return err
		}
		defer store.Close()

		sessions, err := store.Recent(cmd.Context(), name, limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No connections recorded.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tPROFILE\tSTATUS\tDURATION\tIN\tOUT")
		for _, s := range sessions {
			duration := "-"
			if d := s.Duration(); d > 0 {
				duration = d.Truncate(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.StartedAt.Local().Format("2006-01-02 15:04"),
				s.Profile, s.Status, duration,
				formatBytes(s.BytesIn), formatBytes(s.BytesOut))
		}
		return w.Flush()
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the VPN and RDP clients are installed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		missing := 0
		for _, dep := range appInstance.Supervisor.CheckDependencies() {
			switch {
			case dep.Found():
				fmt.Fprintf(out, "✓ %s: %s\n", dep.Name, dep.Path)
			case dep.Required:
				missing++
				fmt.Fprintf(out, "✗ %s: not found\n", dep.Name)
			default:
				fmt.Fprintf(out, "- %s: not found (optional)\n", dep.Name)
			}
		}
		if missing > 0 {
			return fmt.Errorf("%d required program(s) missing", missing)
		}
		return nil
	},
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func homeDir() string {
	home, _ := os.UserHomeDir()
	return home
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of entries to show")
}
