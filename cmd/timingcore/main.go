// Command timingcore is the per-event process entrypoint: one process owns
// one event's live session, reading its
// configuration from the environment, wiring the broker/store/hub
// collaborators, and serving health probes and the WebSocket subscription
// endpoint alongside the pipeline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trackcore/timingcore/engine/broker"
	"github.com/trackcore/timingcore/engine/cache"
	"github.com/trackcore/timingcore/engine/config"
	"github.com/trackcore/timingcore/engine/fanout"
	"github.com/trackcore/timingcore/engine/pipeline"
	"github.com/trackcore/timingcore/engine/ratelimit"
	"github.com/trackcore/timingcore/engine/store"
	"github.com/trackcore/timingcore/engine/telemetry/events"
	"github.com/trackcore/timingcore/engine/telemetry/health"
	"github.com/trackcore/timingcore/engine/telemetry/logging"
	"github.com/trackcore/timingcore/engine/telemetry/metrics"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func main() {
	base := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	log := logging.New(base)

	cfg, err := config.FromEnv(envMap())
	if err != nil {
		base.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	base.Info("starting timingcore", "event_id", cfg.Pipeline.EventID, "version", cfg.Version, "environment", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	brk := broker.New(cfg.Broker.Addr, cfg.Broker.Password)
	defer brk.Close()

	pg, err := store.Open(ctx, cfg.Store.ConnectionString)
	if err != nil {
		base.Error("store connection failed", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	hub := fanout.NewHub()

	cacheMgr, err := cache.NewManager(cache.Config{Capacity: 4096, DefaultTTL: 10 * time.Minute})
	if err != nil {
		base.Error("cache init failed", "error", err)
		os.Exit(1)
	}
	defer cacheMgr.Close()

	limiter := ratelimit.NewAdaptiveRateLimiter(50, 25, 5, 10*time.Second, nil)

	var metricsProvider metrics.Provider
	if cfg.GlobalSettings.MetricsEnabled {
		metricsProvider = metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	} else {
		metricsProvider = metrics.NewNoopProvider()
	}

	eventBus := events.NewBus(metricsProvider)

	deps := pipeline.Deps{
		Broker: brk,
		Store: pipeline.StoreDeps{
			Flag:        pg,
			PitLoop:     pg,
			Monitor:     pg,
			StartingPos: pg,
			Logger:      pg,
		},
		Hub:     hub,
		Cache:   cacheMgr,
		Limiter: limiter,
		Events:  eventBus,
		Log:     log,
	}

	pl := pipeline.New(ctx, cfg, deps, "", "")
	if err := pl.Start(ctx); err != nil {
		base.Error("pipeline start failed", "error", err)
		os.Exit(1)
	}

	evaluator := health.NewEvaluator(5*time.Second,
		health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
			if err := metricsProvider.Health(ctx); err != nil {
				return health.Degraded("metrics", err.Error())
			}
			return health.Healthy("metrics")
		}),
		health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
			stats := eventBus.Stats()
			if stats.Dropped > 0 {
				return health.Degraded("events", fmt.Sprintf("dropped %d of %d published events", stats.Dropped, stats.Published))
			}
			return health.Healthy("events")
		}),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz/startup", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/healthz/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/healthz/ready", func(w http.ResponseWriter, r *http.Request) {
		snapshot := evaluator.Evaluate(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if snapshot.Overall != health.StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snapshot)
	})
	mux.HandleFunc("/subscribe", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Join(fanout.EventGroup(cfg.Pipeline.EventID), ws)
	})
	mux.HandleFunc("/subscribe/legacy", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Join(fanout.LegacyGroup(cfg.Pipeline.EventID), ws)
	})
	srv := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			base.Error("http server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	base.Info("shutdown signal received, draining pipeline", "event_id", cfg.Pipeline.EventID)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := pl.Shutdown(shutdownCtx); err != nil {
		base.Error("pipeline shutdown finalize failed", "error", err)
	}
}

// envMap snapshots the process environment once, so config.FromEnv stays a
// pure function of its input.
func envMap() map[string]string {
	out := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}
