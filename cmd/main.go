package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snoosync/internal/api"
	"snoosync/internal/auth"
	"snoosync/internal/config"
	"snoosync/internal/database"
	"snoosync/internal/logging"
	"snoosync/internal/payload"
	"snoosync/internal/ratelimiter"
	"snoosync/internal/scheduler"
)

const credentialCheckInterval = time.Minute

type app struct {
	cfg         config.Config
	db          *database.Database
	credentials *auth.Store
	client      *api.Client
	scheduler   *scheduler.Scheduler
	log         *slog.Logger
}

func main() {
	bootLog := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(config.DefaultEnvFile)
	if err != nil {
		bootLog.Error("Failed to load config",
			"error", err)
		os.Exit(1)
	}

	log, err := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		bootLog.Error("Failed to create logger",
			"error", err,
			"logFormat", cfg.LogFormat,
			"logLevel", cfg.LogLevel)
		os.Exit(1)
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg, log, os.Args[1:]); err != nil {
		log.ErrorContext(ctx, "Command failed",
			"error", err,
			"args", os.Args[1:])
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger, args []string) error {
	db, err := database.New(ctx, cfg.DBPath, log)
	if err != nil {
		return fmt.Errorf("initialize db: %w", err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", cfg.DBPath)

	a, err := newApp(ctx, cfg, db, log)
	if err != nil {
		return err
	}

	if err = a.signIn(ctx); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	return a.dispatch(ctx, args)
}

// newApp wires every service explicitly; nothing is process-global.
func newApp(ctx context.Context, cfg config.Config, db *database.Database, log *slog.Logger) (*app, error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	deviceID, err := auth.EnsureDeviceID(ctx, db, cfg.DeviceID)
	if err != nil {
		return nil, err
	}

	var authorizer auth.Authorizer
	if !cfg.Anonymous {
		authorizer = auth.NewTerminalAuthorizer(os.Stdin, os.Stdout)
	}

	credentials := auth.New(auth.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURL,
		Scopes:      cfg.Scopes,
		BaseURL:     cfg.AuthBaseURL,
		DeviceID:    deviceID,
		HTTPClient:  httpClient,
	}, db, authorizer, log)

	if err = credentials.Load(ctx); err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	client := api.New(api.Config{
		BaseURL:    cfg.APIBaseURL,
		UserAgent:  cfg.UserAgent,
		HTTPClient: httpClient,
	}, credentials, ratelimiter.New(log), payload.NewDecoder(log), log)

	sched := scheduler.New(ctx, scheduler.Config{
		Spec:        cfg.ScheduleSpec,
		Concurrency: cfg.UpdateConcurrency,
	}, db, client, log)

	return &app{
		cfg:         cfg,
		db:          db,
		credentials: credentials,
		client:      client,
		scheduler:   sched,
		log:         log,
	}, nil
}

func (a *app) signIn(ctx context.Context) error {
	if !a.cfg.Anonymous {
		return a.credentials.SignInIfNeeded(ctx)
	}

	if _, ok := a.credentials.AccessToken(); ok {
		return a.credentials.RefreshIfNeeded(ctx)
	}

	return a.credentials.AuthorizeAnonymously(ctx)
}

func (a *app) serve(ctx context.Context) error {
	start := time.Now()

	if !a.cfg.Anonymous {
		if _, _, err := a.scheduler.SyncSubscriptions(ctx); err != nil {
			a.log.WarnContext(ctx, "Failed to sync subscriptions",
				"error", err)
		}
	}

	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer a.scheduler.Stop()
	a.log.InfoContext(ctx, "Scheduler is started",
		"spec", a.cfg.ScheduleSpec,
		"concurrency", a.cfg.UpdateConcurrency)

	go func() {
		if err := a.scheduler.UpdateAll(ctx); err != nil {
			a.log.ErrorContext(ctx, "Failed to run initial update",
				"error", err)
		}
	}()

	t := time.NewTicker(credentialCheckInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.InfoContext(ctx, "Exiting...",
				"uptimeSeconds", time.Since(start).Seconds())

			return nil
		case <-t.C:
			if err := a.credentials.RefreshIfNeeded(ctx); err != nil {
				a.log.ErrorContext(ctx, "Failed to refresh credential",
					"error", err,
					"state", a.credentials.State().String())
			}
		}
	}
}
