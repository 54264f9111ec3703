package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/sqltj/oura-streaming/internal/config"
	"github.com/sqltj/oura-streaming/internal/db"
	"github.com/sqltj/oura-streaming/internal/events"
	"github.com/sqltj/oura-streaming/internal/observability"
	"github.com/sqltj/oura-streaming/internal/oura"
	"github.com/sqltj/oura-streaming/internal/poller"
	"github.com/sqltj/oura-streaming/internal/server"
	"github.com/sqltj/oura-streaming/internal/server/routes"
	"github.com/sqltj/oura-streaming/internal/sink"
	"github.com/sqltj/oura-streaming/internal/stream"
	"github.com/sqltj/oura-streaming/internal/webhook"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()

	store := events.NewStore(database, events.StoreOptions{MaxEvents: int64(cfg.Store.MaxEvents)})

	broadcaster := stream.New(
		stream.WithBufferSize(cfg.Stream.BufferSize),
		stream.WithDropHook(observability.BroadcastDropped.Inc),
	)
	defer broadcaster.Close()

	verifier := webhook.NewVerifier(cfg.Oura.WebhookSecret, cfg.SignatureTolerance())
	if !verifier.Enabled() {
		slog.Warn("OURA_WEBHOOK_SECRET not set, webhook signature verification is DISABLED")
	}

	var forwardSink webhook.Sink
	if cfg.SinkEnabled() {
		forwardSink = &sink.Forwarder{
			Endpoint: cfg.Sink.Endpoint,
			Token:    cfg.Sink.Token,
			Secret:   cfg.Sink.Secret,
			Log:      log,
		}
		slog.Info("Forward sink enabled", "endpoint", cfg.Sink.Endpoint)
	}

	pipeline := webhook.NewPipeline(verifier, store, broadcaster, forwardSink, log)

	tokens := oura.NewTokenStore(database)
	client := oura.NewClient(oura.ClientConfig{
		ClientID:     cfg.Oura.ClientID,
		ClientSecret: cfg.Oura.ClientSecret,
		RedirectURL:  cfg.Oura.RedirectURI,
		AuthURL:      cfg.Oura.AuthURL,
		TokenURL:     cfg.Oura.TokenURL,
		APIBaseURL:   cfg.Oura.APIBaseURL,
	}, tokens)
	states := oura.NewStateStore(database, oura.StateTTL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runPruner(ctx, log, store, cfg.Retention(), cfg.PruneInterval())

	if cfg.Polling.Enabled {
		p := poller.New(client, store, broadcaster, poller.Options{
			Interval:              cfg.PollInterval(),
			Lookback:              time.Duration(cfg.Polling.LookbackDays) * 24 * time.Hour,
			DataTypes:             cfg.Polling.DataTypes,
			BootstrapRefreshToken: cfg.Oura.InitialRefreshToken,
		}, log)
		go p.Run(ctx)
		slog.Info("Poller enabled", "interval", cfg.PollInterval(), "data_types", cfg.Polling.DataTypes)
	}

	srv := server.New(log)
	srv.RegisterRouter(routes.NewSystemRoutes(store, client))
	srv.RegisterRouter(routes.NewWebhookRoutes(verifier, pipeline, store))
	srv.RegisterRouter(routes.NewStreamRoutes(broadcaster))
	srv.RegisterRouter(routes.NewAuthRoutes(client, states))
	srv.RegisterRouter(routes.NewSubscriptionRoutes(client))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down server", "error", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	slog.Info("Starting server", "port", cfg.Server.Port)
	slog.Error("Closing server", "error", srv.Start(addr))
}

func runPruner(ctx context.Context, log *slog.Logger, store *events.Store, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		count, err := store.Prune(ctx, retention)
		if err != nil {
			log.Error("Failed to prune old events", "error", err)
		} else if count > 0 {
			log.Info("Pruned old events", "count", count)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
