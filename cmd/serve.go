package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/viralboost/boostd/internal/api"
	"github.com/viralboost/boostd/internal/backend"
	"github.com/viralboost/boostd/internal/build"
	"github.com/viralboost/boostd/internal/config"
	"github.com/viralboost/boostd/internal/eventbus"
	"github.com/viralboost/boostd/internal/logger"
	"github.com/viralboost/boostd/internal/notifier"
	"github.com/viralboost/boostd/internal/platform"
	"github.com/viralboost/boostd/internal/pushstream"
	"github.com/viralboost/boostd/internal/querycache"
	"github.com/viralboost/boostd/internal/scheduler"
	"github.com/viralboost/boostd/internal/server"
	"github.com/viralboost/boostd/internal/service"
	"github.com/viralboost/boostd/internal/storage"
)

// NewServeCmd returns the "serve" subcommand that starts the daemon.
func NewServeCmd(cfg *config.AppConfig) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the boostd daemon",
		Long: `Start the daemon: the local REST API for the web app, the window
websocket endpoint, the backend push subscription, and the maintenance
scheduler.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// CLI flags override env config.
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			logFile := filepath.Join(cfg.LogDir(), "boostd.log")
			printBanner(build.Version, cfg.Port, logFile)

			if err := runServe(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "An error occurred. Please check the logs at: %s\n", logFile)
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", cfg.Port, "HTTP server port (overrides PORT env var)")
	return cmd
}

func runServe(cfg *config.AppConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return fmt.Errorf("creating data directory %s: %w", cfg.DataDir, err)
	}

	sysLogger, err := logger.NewSystemLogger(cfg.LogDir(), cfg.SlogLevel())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	sysLogger.Info("boostd starting",
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
		slog.String("backend_url", cfg.BackendURL),
		slog.String("version", build.Version),
		slog.String("commit", build.CommitSHA),
	)

	db, created, err := storage.NewSQLiteDB(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if created {
		sysLogger.Info("created new database", "path", cfg.DBPath())
	}
	metrics := api.NewMetrics()
	store := storage.NewInstrumentedNotificationStore(storage.NewSQLiteNotificationStore(db), metrics)
	cache := querycache.New(querycache.Options{
		StaleTime:    cfg.CacheStaleTime,
		GCIdle:       cfg.CacheGCIdle,
		FetchTimeout: cfg.CacheFetchTimeout,
		RetryCount:   cfg.CacheRetryCount,
		Debug:        cfg.Debug,
	}, sysLogger, metrics)
	defer cache.Close()

	bus := eventbus.New(0, sysLogger)
	defer bus.Close()
	bus.Subscribe(func(e eventbus.Event) {
		sysLogger.Debug("event", "type", e.Type, "payload", e.Payload)
	})

	client := backend.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.BackendTimeout, sysLogger)
	registry := platform.NewWindowRegistry(cfg.WindowOrigin, sysLogger)
	registry.OnFocus(func() { cache.RefreshOnFocus() })

	resolver, err := notifier.LoadRouteResolver(cfg.RoutesFile())
	if err != nil {
		return fmt.Errorf("loading route overrides: %w", err)
	}

	dispatcher := notifier.New(registry, resolver, store, sysLogger)
	defer dispatcher.Close()

	// Domain events become local notifications without a backend round trip.
	bus.Subscribe(notifier.NewEventBridge(dispatcher, sysLogger).Handle)

	listener := pushstream.New(pushstream.Config{
		URL:         cfg.PushURL,
		Token:       cfg.BackendToken,
		Sink:        dispatcher,
		Logger:      sysLogger,
		OnReconnect: func() { cache.RefreshOnReconnect() },
	})
	go func() { _ = listener.Run(ctx) }()

	var mailer platform.Provider
	smtpCfg := platform.SMTPConfig{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Username:   cfg.SMTPUsername,
		Password:   cfg.SMTPPassword,
		FromAddr:   cfg.SMTPFrom,
		ToAddrs:    cfg.SMTPTo,
		Encryption: cfg.SMTPEncryption,
	}
	if smtpCfg.Enabled() {
		mailer = platform.NewSMTPProvider(smtpCfg)
	} else {
		sysLogger.Info("SMTP not configured, digest fallback disabled")
	}

	sched, err := scheduler.New(scheduler.Config{
		Cache:          cache,
		Store:          store,
		Mailer:         mailer,
		Logger:         sysLogger,
		DigestInterval: cfg.DigestInterval,
	})
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer func() { _ = sched.Stop() }()

	apiSrv := api.New(api.Config{
		Tasks:         service.NewTaskService(cache, client, bus, sysLogger),
		Wallet:        service.NewWalletService(cache, client, bus, sysLogger),
		Memberships:   service.NewMembershipService(cache, client, bus, sysLogger),
		Complaints:    service.NewComplaintService(cache, client, bus),
		Referrals:     service.NewReferralService(cache, client),
		Notifications: service.NewNotificationService(store),
		Dispatcher:    dispatcher,
		Cache:         cache,
		Logger:        sysLogger,
	})

	srv := server.New(server.Config{
		API:         apiSrv,
		Registry:    registry,
		Metrics:     metrics,
		Port:        cfg.Port,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      sysLogger,
	})

	sysLogger.Info("daemon ready", "url", fmt.Sprintf("http://127.0.0.1:%d", cfg.Port))
	return srv.Run(ctx)
}

func printBanner(version string, port int, logFile string) {
	fmt.Print(`
 _                    _      _
| |__   ___   ___ ___| |_ __| |
| '_ \ / _ \ / _ \ __| __/ _` + "`" + ` |
| |_) | (_) | (_) \__ \ || (_| |
|_.__/ \___/ \___/|___/\__\__,_|

`)
	fmt.Printf("boostd %s running.\n", version)
	fmt.Printf("Local API on http://127.0.0.1:%d\n", port)
	fmt.Printf("Logs: %s\n\n", logFile)
}
