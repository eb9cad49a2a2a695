package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/credential"
	"github.com/yllada/vpnrdp-manager/tray"
	"github.com/yllada/vpnrdp-manager/tui"
)

var tuiCmd = &cobra.Command{
	Use:     "tui",
	Aliases: []string{"dashboard"},
	Short:   "Open the interactive dashboard",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd)
	},
}

// runTUI runs the dashboard until the user quits or ctx is canceled.
// Password prompts open inside the dashboard.
func runTUI(cmd *cobra.Command) error {
	ctx := cmd.Context()
	prompter := tui.NewPrompter()
	if err := appInstance.Start(prompter); err != nil {
		return err
	}
	appInstance.ServeAPIBackground(ctx)

	statuses, unsubStatuses := appInstance.Manager.Subscribe(64)
	defer unsubStatuses()
	samples, unsubSamples := appInstance.Sampler.Subscribe(64)
	defer unsubSamples()

	program := tui.NewProgram(tui.Deps{
		Controller: appInstance.Manager,
		Profiles:   appInstance.Profiles,
		Traffic:    appInstance.Sampler,
		Statuses:   statuses,
		Samples:    samples,
	}, prompter)
	defer prompter.Detach()

	go func() {
		<-ctx.Done()
		program.Quit()
	}()

	common.GetLogger().SetQuiet(true)
	defer common.GetLogger().SetQuiet(false)

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}

var trayCmd = &cobra.Command{
	Use:   "tray",
	Short: "Run in the system tray",
	Long: `Run in the system tray.

  The tray cannot ask for passwords; store them first with
  "vpnrdp add --save-password" or "vpnrdp edit NAME --save-password".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := appInstance.Start(credential.DeclinePrompter{}); err != nil {
			return err
		}
		appInstance.ServeAPIBackground(ctx)

		statuses, unsubscribe := appInstance.Manager.Subscribe(64)
		defer unsubscribe()

		indicator := tray.New(tray.Deps{
			Controller: appInstance.Manager,
			Profiles:   appInstance.Profiles,
			Statuses:   statuses,
			OnQuit: func() {
				common.LogInfo("Quit requested from the tray")
			},
		})

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				indicator.Quit()
			case <-stop:
			}
		}()

		common.LogInfo("Starting %s %s in the system tray", common.AppName, buildInfo.Version)
		indicator.Run()
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run headless and serve the status API",
	Long: `Run without a user interface and serve the local status API so that
  "vpnrdp connect", "vpnrdp disconnect" and "vpnrdp list" control this
  process. Passwords must be stored in the keyring.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if appInstance.Config.APIListen == "" {
			return errors.New("the status API is disabled (api_listen is empty)")
		}
		if err := appInstance.Start(credential.DeclinePrompter{}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s/api/v1 (Ctrl+C to stop)\n", appInstance.Config.APIListen)
		return appInstance.ServeAPI(cmd.Context())
	},
}
