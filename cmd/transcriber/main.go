// Command transcriber is the main entry point for the real-time
// speech-to-text transcription server.
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

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arborview/transcriber/internal/backend"
	"github.com/arborview/transcriber/internal/backend/httpwhisper"
	"github.com/arborview/transcriber/internal/backend/nativewhisper"
	"github.com/arborview/transcriber/internal/config"
	"github.com/arborview/transcriber/internal/dispatch"
	"github.com/arborview/transcriber/internal/health"
	"github.com/arborview/transcriber/internal/observe"
	"github.com/arborview/transcriber/internal/registry"
	"github.com/arborview/transcriber/internal/resilience"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ───────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ──────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "transcriber: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "transcriber: %v\n", err)
		}
		return 1
	}

	// ── Logger ───────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("transcriber starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"strategy", cfg.Streaming.Strategy,
		"backend", cfg.Transcription.Backend,
	)

	// ── Observability ────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownProvider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: "dev"})
	if err != nil {
		slog.Error("failed to initialise observability providers", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Backend registry ─────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	rawBackend, err := reg.CreateBackend(ctx, cfg.Transcription)
	if err != nil {
		slog.Error("failed to load transcription backend", "err", err)
		return 1
	}
	defer rawBackend.Close()

	// ── Session wiring ────────────────────────────────────────────────────
	// breaker is shared across every session's backend instance: a run of
	// consecutive Transcribe failures against the configured backend trips
	// it for the whole process, and its state feeds the /readyz check below.
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "transcription-backend",
	})
	factory := newSessionFactory(cfg, rawBackend, breaker)
	sessReg := registry.New(
		registry.WithIdleTimeout(time.Duration(cfg.Streaming.SessionTimeoutSeconds * float64(time.Second))),
	)
	defer sessReg.Close()

	dispatcher := dispatch.New(sessReg, factory, dispatch.Limits{
		ChunkRateBurst:     cfg.RateLimit.ChunkBurst,
		ChunkRateSustained: cfg.RateLimit.ChunkSustained,
		BackendConcurrency: cfg.RateLimit.BackendConcurrency,
	})

	// ── Config hot-reload ────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, newCfg *config.Config) {
		diff := config.Diff(old, newCfg)
		slog.Info("config reloaded",
			"log_level_changed", diff.LogLevelChanged,
			"streaming_changed", diff.StreamingChanged,
			"vad_changed", diff.VADChanged,
			"rate_limit_changed", diff.RateLimitChanged,
		)
		if diff.LogLevelChanged {
			slog.SetDefault(newLogger(diff.NewLogLevel))
		}
		factory.updateConfig(newCfg)
	})
	if err != nil {
		slog.Warn("config file watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP server ──────────────────────────────────────────────────────
	mux := http.NewServeMux()

	healthHandler := health.New(
		health.BackendChecker(rawBackend.Name(), rawBackend),
		breakerChecker(breaker),
	)
	healthHandler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWebSocket(r.Context(), dispatcher, w, r)
	})

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server ready — listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		if err != nil {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
	}
	if err := shutdownProvider(shutdownCtx); err != nil {
		slog.Error("observability shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// serveWebSocket upgrades one HTTP connection and serves it until the
// client disconnects or the server shuts down. clientID is derived from the
// remote address since this server has no auth layer of its own.
func serveWebSocket(ctx context.Context, d *dispatch.Dispatcher, w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session closed")

	clientID := r.RemoteAddr
	if err := d.Serve(ctx, conn, clientID); err != nil && ctx.Err() == nil {
		slog.Warn("dispatcher serve ended with error", "client_id", clientID, "err", err)
	}
}

// breakerChecker reports the transcription backend unready while its circuit
// breaker is open, surfacing sustained backend failures through /readyz
// without waiting for a client to trigger a Transcribe call first.
func breakerChecker(cb *resilience.CircuitBreaker) health.Checker {
	return health.Checker{
		Name: "transcription-backend-circuit",
		Check: func(ctx context.Context) error {
			if cb.State() == resilience.StateOpen {
				return fmt.Errorf("circuit breaker open")
			}
			return nil
		},
	}
}

// ── Backend wiring ──────────────────────────────────────────────────────────

// registerBuiltinBackends registers the two C9 backend implementations this
// server ships with.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterBackend(config.BackendHTTPWhisper, func(ctx context.Context, cfg config.TranscriptionConfig) (backend.Backend, error) {
		opts := []httpwhisper.Option{}
		if cfg.Model != "" {
			opts = append(opts, httpwhisper.WithModel(cfg.Model))
		}
		if cfg.TimeoutSeconds > 0 {
			opts = append(opts, httpwhisper.WithTimeout(time.Duration(cfg.TimeoutSeconds*float64(time.Second))))
		}
		return httpwhisper.New(cfg.ServerURL, opts...)
	})

	reg.RegisterBackend(config.BackendNativeWhisper, func(ctx context.Context, cfg config.TranscriptionConfig) (backend.Backend, error) {
		var opts []nativewhisper.Option
		if cfg.Language != "" {
			opts = append(opts, nativewhisper.WithLanguage(cfg.Language))
		}
		return nativewhisper.New(cfg.ModelPath, opts...)
	})
}

// ── Logger ───────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
