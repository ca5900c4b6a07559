package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odvcencio/issuestream/internal/api"
	"github.com/odvcencio/issuestream/internal/auth"
	"github.com/odvcencio/issuestream/internal/cache"
	"github.com/odvcencio/issuestream/internal/config"
	"github.com/odvcencio/issuestream/internal/database"
	"github.com/odvcencio/issuestream/internal/poller"
	"github.com/odvcencio/issuestream/internal/remote"
	"github.com/odvcencio/issuestream/internal/scheduler"
	"github.com/odvcencio/issuestream/internal/service"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: issuestream <command>\n\nCommands:\n  serve    Start the sync engine and control API\n  migrate  Run database migrations\n  token    Issue a control API token\n")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "migrate":
		cmdMigrate(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func loadConfig(name string, args []string) (*config.Config, string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	return cfg, *configPath
}

func cmdServe(args []string) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, configPath := loadConfig("serve", args)
	if err := cfg.ValidateServe(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog.Close()
	slog.SetDefault(logger)

	if err := serve(cfg, configPath, logger); err != nil {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}

func serve(cfg *config.Config, configPath string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	traceShutdown, err := initTracing(ctx)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traceShutdown(shutdownCtx); err != nil {
			logger.Error("shutdown tracing", "error", err)
		}
	}()

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Auto-migrate on startup
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	settings := syncSettings(cfg)
	client := remote.NewGitHubClient(remote.Options{
		APIURL:     cfg.Remote.APIURL,
		GraphQLURL: cfg.Remote.GraphQLURL,
		Token:      cfg.Remote.Token,
		Timeout:    cfg.Remote.Timeout,
		Breaker:    breakerSettings(cfg),
		Logger:     logger,
	})
	engine := cache.NewEngine(db, cache.Options{Logger: logger})
	events := api.NewEventBroker()
	notifier := service.MultiNotifier{service.LogNotifier{Logger: logger}, events}
	notifications := service.NewNotificationService(db, notifier, logger)
	notifications.SetSettings(settings.Poller.Merge)

	sched := scheduler.New(scheduler.Options{
		Streams: db,
		Factory: scheduler.NewPollerFactory(scheduler.PollerDeps{
			Client:   client,
			Timeline: client,
			Sources:  poller.Sources{Membership: client, Subscriptions: db},
			Merger:   engine,
			Store:    db,
			Events:   notifications,
			Logger:   logger,
		}),
		Logger: logger,
	})
	streams := service.NewStreamService(db, nil, sched)
	items := service.NewItemService(db, engine, service.ItemServiceOptions{
		Client:   client,
		Settings: settings.Poller.Merge,
	})

	system, err := streams.EnsureSystemStreams(ctx)
	if err != nil {
		return fmt.Errorf("ensure system streams: %w", err)
	}
	logger.Info("system streams ready", "count", len(system))

	if err := sched.Start(ctx, settings); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			logger.Warn("scheduler did not stop in time", "error", err)
		}
	}()

	control := &syncRuntime{
		configPath:    configPath,
		sched:         sched,
		items:         items,
		notifications: notifications,
		logger:        logger,
	}
	if configPath != "" {
		go func() {
			if err := watchConfig(ctx, configPath, logger, control.Restart); err != nil {
				logger.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	authSvc := auth.NewService(cfg.Auth.TokenSecret, tokenDuration(cfg))
	server := api.NewServer(db, authSvc, streams, items, api.ServerOptions{
		Logger:    logger,
		Scheduler: control,
		Events:    events,
	})
	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("issuestream listening", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func cmdMigrate(args []string) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, _ := loadConfig("migrate", args)
	db, err := openDB(cfg)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("migrate", "error", err)
		os.Exit(1)
	}
	system, err := service.NewStreamService(db, nil, nil).EnsureSystemStreams(ctx)
	if err != nil {
		slog.Error("ensure system streams", "error", err)
		os.Exit(1)
	}
	slog.Info("migrations complete", "driver", cfg.Database.Driver, "system_streams", len(system))
}

func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	subject := fs.String("subject", "cli", "token subject")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	token, err := auth.NewService(cfg.Auth.TokenSecret, tokenDuration(cfg)).GenerateToken(*subject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func openDB(cfg *config.Config) (database.DB, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return database.OpenSQLite(cfg.Database.DSN)
	case "postgres":
		return database.OpenPostgres(cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

func tokenDuration(cfg *config.Config) time.Duration {
	dur, err := time.ParseDuration(cfg.Auth.TokenDuration)
	if err != nil {
		return 24 * time.Hour
	}
	return dur
}
