package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rtb-inventory-api/internal"
	"rtb-inventory-api/internal/config"
	"rtb-inventory-api/internal/events"
	"rtb-inventory-api/internal/store"
	"rtb-inventory-api/internal/store/memory"
	"rtb-inventory-api/internal/store/postgres"
	"rtb-inventory-api/internal/workflow"
)

func main() {
	cfg, err := config.LoadAndValidate()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(ctx, store.Config{
		Provider:    cfg.StoreProvider,
		PostgresDSN: cfg.DBDSN,
	}, map[string]store.Constructor{
		store.ProviderMemory: func(context.Context, string) (store.Store, error) {
			return memory.New(), nil
		},
		store.ProviderPostgres: func(ctx context.Context, dsn string) (store.Store, error) {
			pg, err := postgres.Open(ctx, dsn, cfg.DBLockTimeout)
			if err != nil {
				return nil, err
			}
			applied, err := postgres.Migrate(ctx, pg.DB())
			if err != nil {
				pg.Close()
				return nil, err
			}
			if len(applied) > 0 {
				logger.Info("migrations applied", "files", applied)
			}
			return pg, nil
		},
	})
	if err != nil {
		return err
	}

	notifiers := events.Notifiers{events.LogNotifier{Logger: logger}}
	if cfg.SlackBotToken != "" {
		notifiers = append(notifiers, events.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel))
	}
	dispatcher := events.NewDispatcher(events.LogAuditSink{Logger: logger}, notifiers, logger, events.DefaultBuffer)

	ctl := workflow.NewController(st, dispatcher, logger)
	srv, err := internal.NewServer(st, ctl, cfg, logger)
	if err != nil {
		dispatcher.Close()
		st.Close()
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting RTB inventory API",
			"addr", cfg.HTTPAddr,
			"store", cfg.StoreProvider,
			"environment", cfg.Environment,
			"jwt_issuer", cfg.JWTIssuer,
			"jwt_expiry", cfg.JWTExpiry.String(),
			"metrics", cfg.EnableMetrics,
			"slack", cfg.SlackBotToken != "",
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		dispatcher.Close()
		srv.Close(context.Background())
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = httpServer.Shutdown(shutdownCtx)

	// pending notifications drain before the store goes away
	dispatcher.Close()
	if cerr := srv.Close(shutdownCtx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
