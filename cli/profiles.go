package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/connection"
	"github.com/yllada/vpnrdp-manager/credential"
	"github.com/yllada/vpnrdp-manager/process"
	"github.com/yllada/vpnrdp-manager/profile"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List connection profiles",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		profiles := appInstance.Profiles.List()
		if len(profiles) == 0 {
			fmt.Fprintln(out, "No profiles configured.")
			fmt.Fprintln(out, `Use "vpnrdp add" to create one.`)
			return nil
		}

		statuses := runningStatuses(cmd.Context())

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVPN CONFIG\tRDP HOST\tSTATUS")
		fmt.Fprintln(w, "----\t----------\t--------\t------")
		for _, p := range profiles {
			status := connection.StatusDisconnected
			if s, ok := statuses[p.Name]; ok {
				status = s
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.VPNConfig, rdpTarget(p), status)
		}
		return w.Flush()
	},
}

// runningStatuses asks a running instance for profile statuses. It
// returns nil when none answers.
func runningStatuses(ctx context.Context) map[string]connection.Status {
	client := appInstance.Client()
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	list, err := client.Profiles(ctx)
	if err != nil {
		common.LogDebug("No running instance: %v", err)
		return nil
	}
	statuses := make(map[string]connection.Status, len(list))
	for _, p := range list {
		statuses[p.Name] = p.Status
	}
	return statuses
}

func rdpTarget(p profile.Profile) string {
	user := p.RDPUsername
	if p.RDPDomain != "" {
		user = p.RDPDomain + `\` + user
	}
	if user == "" {
		return p.RDPHost
	}
	return user + "@" + p.RDPHost
}

var addCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create a connection profile",
	Example: `  vpnrdp add office --vpn-config ~/office.ovpn --vpn-user alice \
      --rdp-host 10.0.0.5 --rdp-user alice --rdp-domain CORP --save-password`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := profile.New(args[0])
		if err := applyProfileFlags(cmd.Flags(), &p); err != nil {
			return err
		}
		warnMissingConfig(cmd, p.VPNConfig)

		if err := appInstance.Profiles.Add(p); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Profile %s created\n", p.Name)

		if save, _ := cmd.Flags().GetBool("save-password"); save {
			return savePasswords(cmd, p)
		}
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:               "edit NAME",
	Short:             "Change a connection profile",
	Example:           `  vpnrdp edit office --windowed --resolution 2560x1440 --name hq`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeProfileNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		oldName := args[0]
		p, err := appInstance.Profiles.Get(oldName)
		if err != nil {
			return err
		}
		if err := applyProfileFlags(cmd.Flags(), &p); err != nil {
			return err
		}
		if cmd.Flags().Changed("vpn-config") {
			warnMissingConfig(cmd, p.VPNConfig)
		}

		if err := appInstance.Profiles.Update(oldName, p); err != nil {
			return err
		}
		if p.Name != oldName {
			resolver, err := appInstance.Resolver()
			if err != nil {
				common.LogWarn("Stored passwords of %s were not moved: %v", oldName, err)
			} else {
				resolver.Rename(oldName, p.Name)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Profile %s updated\n", p.Name)

		if save, _ := cmd.Flags().GetBool("save-password"); save {
			return savePasswords(cmd, p)
		}
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:               "remove NAME",
	Aliases:           []string{"rm"},
	Short:             "Delete a connection profile and its stored passwords",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeProfileNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := appInstance.Profiles.Remove(name); err != nil {
			return err
		}

		resolver, err := appInstance.Resolver()
		if err == nil {
			err = resolver.Forget(name)
		}
		if err != nil {
			common.LogWarn("Failed to delete stored passwords of %s: %v", name, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✓ Profile %s removed\n", name)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:               "show NAME",
	Short:             "Show a connection profile",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeProfileNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := appInstance.Profiles.Get(args[0])
		if err != nil {
			return err
		}
		printProfile(cmd.OutOrStdout(), p)

		if showArgs, _ := cmd.Flags().GetBool("args"); showArgs {
			rdpArgs := process.BuildRDPArgs(&p, "", process.ArgOptions{
				IgnoreCertificate: appInstance.Config.IgnoreCertificate,
				HomeDir:           homeDir(),
			})
			fmt.Fprintf(cmd.OutOrStdout(), "\nRDP arguments:\n  %s\n", strings.Join(process.RedactArgs(rdpArgs), " "))
		}
		return nil
	},
}

func printProfile(out io.Writer, p profile.Profile) {
	display := "fullscreen"
	if !p.Fullscreen {
		display = "windowed " + p.EffectiveResolution()
	}
	if p.Multimon {
		display += ", multi-monitor"
		if len(p.Monitors) > 0 {
			display += " (" + profile.FormatMonitorList(p.Monitors) + ")"
		}
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Name", p.Name},
		{"VPN config", p.VPNConfig},
		{"VPN user", p.VPNUsername},
		{"RDP target", rdpTarget(p)},
		{"Display", display},
		{"Audio", string(p.EffectiveAudio())},
		{"Clipboard", yesNo(p.Clipboard)},
		{"Drives", yesNo(p.RedirectDrives)},
		{"NLA", yesNo(p.NLA)},
		{"Compression", yesNo(p.Compression)},
		{"Performance", performanceSummary(p)},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s:\t%s\n", r[0], r[1])
	}
	w.Flush()
}

func performanceSummary(p profile.Profile) string {
	var parts []string
	if p.FontSmoothing {
		parts = append(parts, "font smoothing")
	}
	if p.DisableWallpaper {
		parts = append(parts, "no wallpaper")
	}
	if p.DisableThemes {
		parts = append(parts, "no themes")
	}
	if p.DesktopComposition {
		parts = append(parts, "desktop composition")
	}
	if p.DisableWindowDrag {
		parts = append(parts, "no full window drag")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func warnMissingConfig(cmd *cobra.Command, path string) {
	if path == "" || common.FileExists(path) {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Warning: VPN configuration %s does not exist\n", path)

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	if names, err := appInstance.Supervisor.ListVPNConfigs(ctx); err == nil && len(names) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Imported OpenVPN 3 configurations: %s\n", strings.Join(names, ", "))
	}
}

// savePasswords asks for both secrets and stores them in the vault.
func savePasswords(cmd *cobra.Command, p profile.Profile) error {
	resolver, err := appInstance.Resolver()
	if err != nil {
		return err
	}
	prompter := credential.NewPrompterIO(cmd.InOrStdin(), cmd.ErrOrStderr())

	for _, req := range []credential.Request{
		{Profile: p.Name, Kind: credential.KindVPN, Username: p.VPNUsername},
		{Profile: p.Name, Kind: credential.KindRDP, Username: p.RDPUsername},
	} {
		secret, err := prompter.ReadSecret(req.Label())
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Skipped %s\n", req.Label())
			continue
		}
		if err := resolver.Store(p.Name, req.Kind, secret); err != nil {
			return fmt.Errorf("failed to store %s: %w", req.Label(), err)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Passwords stored")
	return nil
}

func registerProfileFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("vpn-config", "", "OpenVPN 3 configuration file")
	f.String("vpn-user", "", "VPN username")
	f.String("rdp-host", "", "remote desktop host")
	f.String("rdp-user", "", "remote desktop username")
	f.String("rdp-domain", "", "remote desktop domain")

	f.Bool("fullscreen", true, "open the remote desktop fullscreen")
	f.Bool("windowed", false, "open the remote desktop in a window (same as --fullscreen=false)")
	f.String("resolution", profile.DefaultResolution, "window size as WIDTHxHEIGHT")
	f.Bool("multimon", false, "span all or the selected monitors")
	f.String("monitors", "", `monitor indices for --multimon, e.g. "0,1" (see "vpnrdp monitors")`)

	f.Bool("font-smoothing", true, "enable font smoothing")
	f.Bool("disable-wallpaper", true, "hide the desktop wallpaper")
	f.Bool("disable-themes", true, "disable visual themes")
	f.Bool("desktop-composition", true, "enable desktop composition")
	f.Bool("disable-window-drag", false, "disable full window drag")
	f.Bool("compression", true, "enable compression")

	f.String("audio", string(profile.AudioLocal), "audio mode: local, remote or disabled")
	f.Bool("clipboard", true, "share the clipboard")
	f.Bool("drives", false, "share the home directory")
	f.Bool("nla", true, "use network level authentication")

	f.Bool("save-password", false, "ask for the VPN and RDP passwords and store them")
}

// applyProfileFlags copies every flag the user set onto p.
func applyProfileFlags(f *pflag.FlagSet, p *profile.Profile) error {
	var err error
	setString := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, err = f.GetString(name)
		}
	}
	setBool := func(name string, dst *bool) {
		if f.Changed(name) {
			*dst, err = f.GetBool(name)
		}
	}

	if f.Lookup("name") != nil {
		setString("name", &p.Name)
	}
	setString("vpn-config", &p.VPNConfig)
	setString("vpn-user", &p.VPNUsername)
	setString("rdp-host", &p.RDPHost)
	setString("rdp-user", &p.RDPUsername)
	setString("rdp-domain", &p.RDPDomain)

	setBool("fullscreen", &p.Fullscreen)
	if f.Changed("windowed") {
		windowed, _ := f.GetBool("windowed")
		p.Fullscreen = !windowed
	}
	setString("resolution", &p.Resolution)
	setBool("multimon", &p.Multimon)
	if f.Changed("monitors") {
		s, _ := f.GetString("monitors")
		monitors, perr := profile.ParseMonitorList(s)
		if perr != nil {
			return perr
		}
		p.Monitors = monitors
	}

	setBool("font-smoothing", &p.FontSmoothing)
	setBool("disable-wallpaper", &p.DisableWallpaper)
	setBool("disable-themes", &p.DisableThemes)
	setBool("desktop-composition", &p.DesktopComposition)
	setBool("disable-window-drag", &p.DisableWindowDrag)
	setBool("compression", &p.Compression)

	if f.Changed("audio") {
		s, _ := f.GetString("audio")
		mode := profile.AudioMode(strings.ToLower(s))
		if !mode.Valid() {
			return fmt.Errorf("%w: unknown audio mode %q", common.ErrInvalidProfile, s)
		}
		p.AudioMode = mode
	}
	setBool("clipboard", &p.Clipboard)
	setBool("drives", &p.RedirectDrives)
	setBool("nla", &p.NLA)
	return err
}

func init() {
	registerProfileFlags(addCmd)
	registerProfileFlags(editCmd)
	editCmd.Flags().String("name", "", "rename the profile")
	showCmd.Flags().Bool("args", false, "print the RDP client arguments (passwords masked)")
}
