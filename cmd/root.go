package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/ariasync/internal/config"
	"github.com/surge-downloader/ariasync/internal/core"
	"github.com/surge-downloader/ariasync/internal/metrics"
	"github.com/surge-downloader/ariasync/internal/store"
	"github.com/surge-downloader/ariasync/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ariasync",
	Short: "Keep a local download list in sync with aria2 daemons",
	Long: `ariasync tracks downloads locally and drives one or more aria2 daemons over JSON-RPC.
Tasks survive daemon restarts: 'ariasync sync' notices a new daemon session and
resubmits what the daemon lost.`,
	Version:      Version,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Settings file (default: <app dir>/settings.json)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (default from settings)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Also write logs to stderr")
	rootCmd.SetVersionTemplate(fmt.Sprintf("ariasync version {{.Version}} (built %s)\n", BuildTime))
}

// app is what one command invocation works with: settings, logger, the locked state
// store and a running sync service.
type app struct {
	settings *config.Settings
	log      *logrus.Logger
	closeLog func() error
	store    *store.SQLite
	svc      *core.Service

	cancel context.CancelFunc
	done   chan error
}

type openOptions struct {
	autoSync bool
	metrics  metrics.Recorder
}

// openApp loads settings, sets up logging, takes the state lock and starts the
// service loop. Close undoes all of it.
func openApp(cmd *cobra.Command, opts openOptions) (*app, error) {
	if err := config.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("create app dirs: %w", err)
	}

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.GetSettingsPath()
	}
	settings, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		level = settings.General.LogLevel
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	var console io.Writer
	if verbose {
		console = cmd.ErrOrStderr()
	}
	logger, closeLog, err := utils.NewLogger(config.GetLogsDir(), level, console)
	if err != nil {
		return nil, err
	}
	if err := utils.CleanupLogs(config.GetLogsDir(), settings.General.LogRetentionCount); err != nil {
		logger.WithError(err).Warn("Failed to clean up old logs")
	}

	st, err := store.Open(config.GetStateDir())
	if err != nil {
		_ = closeLog()
		if errors.Is(err, store.ErrLocked) {
			return nil, errors.New("state is in use by another ariasync process (is 'ariasync sync' running?)")
		}
		return nil, err
	}

	svc, err := core.New(core.Options{
		Store:    st,
		Settings: settings,
		Logger:   logger,
		Metrics:  opts.metrics,
		AutoSync: opts.autoSync,
	})
	if err != nil {
		_ = st.Close()
		_ = closeLog()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &app{
		settings: settings,
		log:      logger,
		closeLog: closeLog,
		store:    st,
		svc:      svc,
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go func() { a.done <- svc.Run(ctx) }()
	logger.WithField("command", cmd.CommandPath()).Debug("Service started")
	return a, nil
}

// Close stops the service loop and releases the state lock.
func (a *app) Close() error {
	a.cancel()
	runErr := <-a.done
	_ = a.svc.Shutdown()
	errs := []error{runErr, a.store.Close()}
	if err := a.closeLog(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// syncPools reconciles every pool so one-shot commands act on fresh handles. An
// unreachable daemon is logged, not fatal.
func (a *app) syncPools(ctx context.Context) {
	pools, err := a.svc.Pools(ctx)
	if err != nil {
		return
	}
	for _, p := range pools {
		if err := a.svc.Reconcile(ctx, p.ID); err != nil {
			a.log.WithField("pool_id", p.ID).WithError(err).Warn("Pool not reachable")
		}
	}
}

// withApp runs fn with an open app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cmd, openOptions{})
	if err != nil {
		return err
	}
	err = fn(cmd.Context(), a)
	return errors.Join(err, a.Close())
}
