// Command chatrelay serves the direct-messaging WebSocket relay.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/orchestra-mcp/chatrelay/config"
	"github.com/orchestra-mcp/chatrelay/providers"
	"github.com/orchestra-mcp/chatrelay/src/metrics"
	"github.com/orchestra-mcp/chatrelay/src/store"
	"github.com/orchestra-mcp/chatrelay/src/store/postgres"
	"github.com/orchestra-mcp/chatrelay/src/store/sqlite"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("load config")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func newLogger(cfg *config.SocketConfig) zerolog.Logger {
	if cfg.IsProduction() {
		return zerolog.New(os.Stdout).With().Timestamp().Str("service", "chatrelay").Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()
}

func run(ctx context.Context, cfg *config.SocketConfig, logger zerolog.Logger) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("close store")
		}
	}()

	provider := providers.NewSocketProvider(cfg, st, metrics.New(prometheus.DefaultRegisterer), logger)
	if err := provider.Activate(ctx); err != nil {
		return errors.Wrap(err, "activate socket provider")
	}

	app := fiber.New()
	provider.RegisterRoutes(app)

	srv := &fasthttp.Server{
		Name:    "chatrelay",
		Handler: route(provider.FastHTTPHandler(), fasthttpadaptor.NewFastHTTPHandler(metrics.Handler()), app.Handler()),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("server listening")
		errCh <- srv.ListenAndServe(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server crashed")
		}
	}
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by the HTTP server.
	if err := provider.Deactivate(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("websocket shutdown incomplete")
	}
	if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

// route sends /ws to the upgrader, /metrics to Prometheus and everything else
// to Fiber.
func route(ws, metricsHandler, app fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/ws":
			ws(ctx)
		case "/metrics":
			metricsHandler(ctx)
		default:
			app(ctx)
		}
	}
}

func openStore(ctx context.Context, cfg *config.SocketConfig, logger zerolog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite store")
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("sqlite store opened")
		return s, nil
	case config.StorePostgres:
		s, err := postgres.New(ctx, cfg.PGURL, cfg.PGMaxConns, logger)
		if err != nil {
			return nil, errors.Wrap(err, "open postgres store")
		}
		return s, nil
	case config.StoreMemory, "":
		logger.Warn().Msg("using in-memory store, history is lost on restart")
		return store.NewMemory(), nil
	}
	return nil, errors.Errorf("unknown store driver %q", cfg.StoreDriver)
}
