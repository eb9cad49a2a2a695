package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yllada/vpnrdp-manager/api"
	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/config"
	"github.com/yllada/vpnrdp-manager/connection"
	"github.com/yllada/vpnrdp-manager/credential"
	"github.com/yllada/vpnrdp-manager/history"
	"github.com/yllada/vpnrdp-manager/keyring"
	"github.com/yllada/vpnrdp-manager/monitor"
	"github.com/yllada/vpnrdp-manager/notify"
	"github.com/yllada/vpnrdp-manager/process"
	"github.com/yllada/vpnrdp-manager/profile"
	"github.com/yllada/vpnrdp-manager/traffic"
)

// historyRetention is how long finished sessions are kept.
const historyRetention = 90 * 24 * time.Hour

const logRotationInterval = 10 * time.Minute

// openVault opens the credential vault in dir.
var openVault = func(dir string) (keyring.Vault, error) {
	return keyring.Open(dir)
}

// App wires the application components together. Profiles, config and the
// supervisor are always available; the connection runtime is started only
// by commands that connect.
type App struct {
	Config     *config.Config
	Profiles   *profile.Store
	Supervisor *process.Supervisor

	dir      string
	resolver *credential.Resolver

	// Runtime, set by Start.
	Manager  *connection.Manager
	Sampler  *traffic.Sampler
	sched    *monitor.Scheduler
	history  *history.Store
	notifier *notify.Notifier
	ctx      context.Context
	cancel   context.CancelFunc
	feeds    sync.WaitGroup // event consumers
	servers  sync.WaitGroup
}

// NewApp loads the configuration at configPath (the default location when
// empty) and opens the profile store next to it.
func NewApp(configPath string) (*App, error) {
	if configPath == "" {
		path, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = path
	}

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(configPath)
	store, err := profile.NewStore(filepath.Join(dir, common.ProfilesFileName))
	if err != nil {
		return nil, err
	}

	return &App{
		Config:     cfg,
		Profiles:   store,
		Supervisor: process.NewSupervisor(process.OptionsFromConfig(cfg)),
		dir:        dir,
	}, nil
}

// path returns name inside the configuration directory.
func (a *App) path(name string) string {
	return filepath.Join(a.dir, name)
}

// Resolver returns the credential resolver, opening the vault on first use.
func (a *App) Resolver() (*credential.Resolver, error) {
	if a.resolver != nil {
		return a.resolver, nil
	}
	vault, err := openVault(a.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential vault: %w", err)
	}
	a.resolver = credential.NewResolver(vault, credential.DeclinePrompter{})
	return a.resolver, nil
}

// Start brings up the connection runtime: orchestrator, traffic sampler,
// reconciliation loop, history recorder and desktop notifications.
// Password prompts go to prompter.
func (a *App) Start(prompter credential.Prompter) error {
	if a.Manager != nil {
		return errors.New("runtime already started")
	}

	for _, dep := range a.Supervisor.CheckDependencies() {
		if dep.Required && !dep.Found() {
			common.LogWarn("%s not found in PATH", dep.Name)
		}
	}

	resolver, err := a.Resolver()
	if err != nil {
		return err
	}

	cfg := a.Config
	a.Manager = connection.NewManager(a.Profiles, resolver.WithPrompter(prompter), a.Supervisor, connection.OptionsFromConfig(cfg))
	a.Sampler = traffic.NewSampler(a.Supervisor, a.Manager, cfg.HistoryPoints, cfg.SampleInterval)

	reconciler := monitor.NewReconciler(a.Manager, a.Supervisor)
	reconciler.SetOnReaped(a.Sampler.Forget)

	a.sched, err = monitor.NewScheduler()
	if err != nil {
		return err
	}
	if err := a.sched.Every("reconcile", cfg.ReconcileInterval, func(ctx context.Context) {
		reconciler.Tick(ctx)
	}); err != nil {
		return err
	}
	if err := a.sched.Every("traffic", cfg.SampleInterval, func(ctx context.Context) {
		a.Sampler.Tick(ctx)
	}); err != nil {
		return err
	}

	if err := a.sched.Every("log-rotation", logRotationInterval, func(context.Context) {
		common.GetLogger().CheckRotation()
	}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.ctx, a.cancel = ctx, cancel

	if cfg.RecordHistory {
		a.startHistory(ctx)
	}
	if cfg.ShowNotifications {
		a.startNotifications(ctx)
	}

	return a.sched.Start()
}

func (a *App) startHistory(ctx context.Context) {
	store, err := history.Open(a.path(common.HistoryFileName))
	if err != nil {
		common.LogWarn("Connection history disabled: %v", err)
		return
	}
	a.history = store

	if n, err := store.Prune(ctx, time.Now().Add(-historyRetention)); err != nil {
		common.LogWarn("Failed to prune connection history: %v", err)
	} else if n > 0 {
		common.LogDebug("Pruned %d old history entries", n)
	}

	statuses, _ := a.Manager.Subscribe(64)
	samples, _ := a.Sampler.Subscribe(64)
	recorder := history.NewRecorder(store)
	a.feeds.Add(1)
	go func() {
		defer a.feeds.Done()
		recorder.Run(ctx, statuses, samples)
	}()
}

func (a *App) startNotifications(ctx context.Context) {
	notifier, err := notify.NewNotifier()
	if err != nil {
		common.LogWarn("Desktop notifications disabled: %v", err)
		return
	}
	a.notifier = notifier

	statuses, _ := a.Manager.Subscribe(16)
	listener := notify.NewListener(notifier, true)
	a.feeds.Add(1)
	go func() {
		defer a.feeds.Done()
		listener.Run(ctx, statuses)
	}()
}

// ServeAPI runs the status API on the configured address until ctx is
// done. It is a no-op when the API is disabled.
func (a *App) ServeAPI(ctx context.Context) error {
	if a.Config.APIListen == "" || a.Manager == nil {
		return nil
	}
	token, err := api.NewToken()
	if err != nil {
		return err
	}
	// The token is published only once the port is ours, so a second
	// instance that fails to bind leaves the first one's token alone.
	lis, err := api.Listen(a.Config.APIListen)
	if err != nil {
		return err
	}
	tokenPath := a.path(common.APITokenFileName)
	if err := api.WriteTokenFile(tokenPath, token); err != nil {
		lis.Close()
		return err
	}
	defer os.Remove(tokenPath)

	srv := api.NewServer(a.Profiles, a.Manager, a.Sampler, token)
	return srv.Serve(ctx, lis)
}

// ServeAPIBackground is ServeAPI on its own goroutine; failures are logged.
// The server also stops when the runtime is closed.
func (a *App) ServeAPIBackground(ctx context.Context) {
	if a.ctx == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(a.ctx, cancel)
	a.servers.Add(1)
	go func() {
		defer a.servers.Done()
		defer stop()
		defer cancel()
		if err := a.ServeAPI(ctx); err != nil {
			common.LogWarn("Status API not available: %v", err)
		}
	}()
}

// Client returns a client for a running instance's status API, or nil
// when the API is disabled.
func (a *App) Client() *api.Client {
	if a.Config.APIListen == "" {
		return nil
	}
	return api.NewClient(a.Config.APIListen, api.ReadTokenFile(a.path(common.APITokenFileName)))
}

// Close disconnects everything and stops the runtime.
func (a *App) Close() error {
	if a.Manager == nil {
		return nil
	}

	var errs []error
	if a.sched != nil && a.sched.IsRunning() {
		if err := a.sched.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	cancelRuntime := func() {
		if a.cancel != nil {
			a.cancel()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Manager.Shutdown(ctx); err != nil {
		errs = append(errs, err)
		// The status bus stays open on a failed shutdown.
		cancelRuntime()
	}
	a.Sampler.Close()

	// With the event channels closed, recorder and listener drain what is
	// left and return on their own.
	a.feeds.Wait()
	cancelRuntime()
	a.servers.Wait()

	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if a.notifier != nil {
		errs = append(errs, a.notifier.Close())
	}
	a.Manager = nil
	return errors.Join(errs...)
}
