package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/weftworks/weft/core/agentcfg"
	"github.com/weftworks/weft/core/bus"
	"github.com/weftworks/weft/core/history"
	"github.com/weftworks/weft/core/infra/buildinfo"
	"github.com/weftworks/weft/core/infra/config"
	"github.com/weftworks/weft/core/infra/logging"
	"github.com/weftworks/weft/core/infra/metrics"
	"github.com/weftworks/weft/core/infra/redisutil"
)

const (
	serviceName = "weft-worker-echo"
	domain      = "echo"
)

func main() {
	buildinfo.Log(serviceName)
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	domains, err := config.LoadDomainsConfig(cfg.DomainsConfigPath)
	if err != nil {
		log.Fatalf("domains config: %v", err)
	}
	workerCfg, err := domains.WorkerConfig(domain, serviceName, cfg.Instance)
	if err != nil {
		log.Fatalf("domains config: %v", err)
	}

	rc, err := redisutil.Dial(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rc.Close()

	busMetrics := metrics.NewProm("weft")
	workerCfg.Metrics = busMetrics
	busClient := bus.NewClientWith(rc, serviceName, bus.WithMetrics(busMetrics))
	configClient := agentcfg.NewClient(busClient)

	var historyClient *history.Client
	if cfg.HistoryURL != "" {
		historyClient, err = history.NewClient(cfg.HistoryURL, cfg.HistoryAPIKey)
		if err != nil {
			log.Fatalf("history client: %v", err)
		}
	}

	contextStore := bus.NewContextStore(rc, 20, 24*time.Hour)
	handler := bus.Chain(
		echoHandler(configClient, historyClient),
		bus.WithLogging(serviceName),
		bus.WithSessionContext(contextStore),
	)

	registry := bus.NewHandlerRegistry()
	registry.Register("echo.ping", handler)

	worker, err := bus.NewWorker(busClient, registry, workerCfg)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		logging.Info(serviceName, "metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logging.Error(serviceName, "metrics server failed", "error", err)
		}
	}()

	logging.Info(serviceName, "consuming",
		"queues", len(workerCfg.Queues), "patterns", len(workerCfg.Patterns))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logging.Info(serviceName, "stopped")
}

type echoRequest struct {
	Message string `json:"message"`
}

// echoHandler answers echo.ping: it mirrors the message back, annotated with
// the agent profile and how much session context the middleware loaded. The
// extra request/response fields feed the session-context middleware.
func echoHandler(configClient *agentcfg.Client, historyClient *history.Client) bus.HandlerFunc {
	return func(ctx context.Context, env *bus.Envelope) (any, error) {
		start := time.Now()

		var req echoRequest
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				return nil, err
			}
		}
		if req.Message == "" {
			req.Message = "ping"
		}

		model := "unknown"
		if profile, err := configClient.Get(ctx, env.TenantID, env.AgentID); err == nil {
			model = profile.Model
		} else {
			logging.Debug(serviceName, "agent config unavailable",
				"tenant", env.TenantID, "error", err)
		}

		response := "echo: " + req.Message

		if historyClient != nil {
			for _, msg := range []history.Message{
				{SessionID: env.SessionID, TenantID: env.TenantID, Role: "user", Content: req.Message, TaskID: env.TaskID},
				{SessionID: env.SessionID, TenantID: env.TenantID, Role: "assistant", Content: response, TaskID: env.TaskID},
			} {
				if err := historyClient.Post(ctx, msg); err != nil {
					logging.Warn(serviceName, "history write failed",
						"session", env.SessionID, "error", err)
					break
				}
			}
		}

		return map[string]any{
			"status": "completed",
			"result": map[string]any{
				"response":      response,
				"model":         model,
				"context_depth": len(bus.SessionContext(ctx)),
			},
			"execution_time_ms": float64(time.Since(start).Milliseconds()),
			"request":           req.Message,
			"response":          response,
		}, nil
	}
}
