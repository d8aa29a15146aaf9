// Package app wires every corevox subsystem into a running daemon: telemetry,
// storage, the live-session provider, the per-call bridge, and the HTTP
// surface (carrier WebSocket endpoint, health probes, Prometheus scrape).
//
// Grounded on the teacher's internal/app/app.go: a struct that owns every
// subsystem's lifetime, a New that wires them in dependency order and records
// a closer per subsystem, a Run that blocks until ctx is cancelled, and a
// Shutdown that unwinds the closers in order under a sync.Once guard. The
// teacher's NPC/engine/MCP subsystems have no equivalent here; they are
// replaced by this domain's storage/llmsession/bridge subsystems.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/corevox/corevox/internal/bridge"
	"github.com/corevox/corevox/internal/config"
	"github.com/corevox/corevox/internal/health"
	"github.com/corevox/corevox/internal/llmsession/openairt"
	"github.com/corevox/corevox/internal/metrics"
	"github.com/corevox/corevox/internal/observe"
	"github.com/corevox/corevox/internal/observer"
	"github.com/corevox/corevox/internal/storage/postgres"
)

// Version is stamped at build time via -ldflags; defaulted here for dev
// builds run straight from source.
var Version = "dev"

// App owns every subsystem's lifetime for one running corevoxd process.
type App struct {
	cfg *config.Config
	log *slog.Logger

	pool   *pgxpool.Pool
	bridge *bridge.Bridge
	met    *metrics.Metrics

	httpServer *http.Server

	telemetryShutdown func(context.Context) error

	closers  []func() error
	stopOnce sync.Once
}

// New wires every subsystem from cfg: OpenTelemetry providers, the Postgres
// pool (migrated on connect), the OpenAI Realtime live-session provider, the
// Intervention Observer's tuning, and the per-call Bridge. It also builds the
// HTTP surface (carrier stream, health, metrics) but does not start serving;
// call Run for that.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	a := &App{cfg: cfg, log: log}

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "corevox",
		ServiceVersion: Version,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.telemetryShutdown = shutdownTelemetry

	met, err := metrics.New(otel.GetMeterProvider())
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	a.met = met

	pool, err := postgres.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return nil, fmt.Errorf("app: connect storage: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	users := postgres.NewUserRepo(pool)
	tasks := postgres.NewTaskRepo(pool)

	llmOpts := []openairt.Option{openairt.WithModel(cfg.LLM.Model)}
	if cfg.LLM.BaseURL != "" {
		llmOpts = append(llmOpts, openairt.WithBaseURL(cfg.LLM.BaseURL))
	}
	provider := openairt.New(cfg.LLM.APIKey, llmOpts...)

	obsOpts := []observer.Option{
		observer.WithTimeout(cfg.Observer.InactivityTimeout),
		observer.WithSentiment(cfg.Observer.EnableSentiment),
	}
	if len(cfg.Observer.Hotwords) > 0 {
		obsOpts = append(obsOpts, observer.WithHotwordConfig(observer.HotwordConfig{Hotwords: cfg.Observer.Hotwords}))
	}

	a.bridge = bridge.New(provider, users, tasks, met, "corevox", Version, cfg.Server.Environment, log, obsOpts...)

	a.httpServer = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(met)(a.routes()),
	}

	return a, nil
}

// routes builds the HTTP surface: the carrier media-stream endpoint, and the
// ambient health/metrics endpoints every corevox daemon carries regardless
// of which voice-agent features a deployment enables.
func (a *App) routes() http.Handler {
	pool := a.pool
	mux := http.NewServeMux()

	mux.HandleFunc("GET /stream", a.handleCarrierStream)

	healthHandler := health.New(health.Checker{
		Name: "storage",
		Check: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
	})
	healthHandler.Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// handleCarrierStream upgrades one inbound telephony media-stream connection
// and hands it to the Bridge for the lifetime of the call. The "from" query
// parameter carries the caller's phone number when the carrier doesn't echo
// it back in the stream's start event (SPEC_FULL.md §4.10).
func (a *App) handleCarrierStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		a.log.Error("carrier_ws_accept_error", slog.String("error", err.Error()))
		return
	}

	fallbackCaller, _ := url.QueryUnescape(r.URL.Query().Get("from"))

	if err := a.bridge.HandleCall(r.Context(), conn, fallbackCaller); err != nil {
		a.log.Warn("call_ended_with_error", slog.String("error", err.Error()))
	}
}

// Run starts serving HTTP and blocks until ctx is cancelled or the server
// fails. The server is shut down gracefully when ctx is done.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("corevoxd listening", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown tears down every subsystem closer in registration order, bounded
// by ctx's deadline. Idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", slog.Int("closers", len(a.closers)))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", slog.Int("remaining", len(a.closers)-i))
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", slog.Int("index", i), slog.String("error", err.Error()))
			}
		}
		if a.telemetryShutdown != nil {
			if err := a.telemetryShutdown(ctx); err != nil {
				a.log.Warn("telemetry shutdown error", slog.String("error", err.Error()))
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
