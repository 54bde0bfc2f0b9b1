package gateway

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/weftworks/weft/core/bus"
	"github.com/weftworks/weft/core/infra/config"
	"github.com/weftworks/weft/core/infra/logging"
	"github.com/weftworks/weft/core/infra/metrics"
	"github.com/weftworks/weft/core/infra/redisutil"
	"github.com/weftworks/weft/core/infra/schema"
)

const serviceName = "weft-gateway"

// Run wires and runs the whole gateway process: the WebSocket server, the
// staleness sweeper, the callback worker on this instance's inbox, and the
// metrics endpoint. It blocks until SIGINT/SIGTERM.
func Run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tuning, err := config.LoadGatewayConfig(cfg.GatewayConfigPath)
	if err != nil {
		return err
	}

	rc, err := redisutil.Dial(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rc.Close()

	busMetrics := metrics.NewProm("weft")
	busClient := bus.NewClientWith(rc, serviceName, bus.WithMetrics(busMetrics))

	registry := NewRegistry(RegistryConfig{
		PingInterval:  tuning.PingInterval(),
		StaleMultiple: tuning.StaleMultiple,
		SweepInterval: tuning.SweepInterval(),
		SessionTTL:    tuning.SessionTTL(),
		Metrics:       metrics.NewGatewayProm("weft"),
	})
	usage := NewUsageStore(rc, tuning.UsageTTL())

	// Publish the envelope schema so other services can validate against the
	// same contract the gateway enforces.
	schemaRegistry := schema.NewRegistryWithClient(rc)
	if err := schemaRegistry.Register(ctx, bus.EnvelopeSchemaID, bus.EnvelopeSchema()); err != nil {
		logging.Warn(serviceName, "envelope schema publish failed", "error", err)
	}

	callbackQueue := bus.CallbackQueue(serviceName, cfg.Instance)
	server, err := NewServer(registry, busClient, callbackQueue)
	if err != nil {
		return err
	}

	router := NewCallbackRouter(registry, usage)
	handlers := bus.NewHandlerRegistry()
	router.Register(handlers)
	worker, err := bus.NewWorker(busClient, handlers, bus.WorkerConfig{
		Service:  serviceName,
		Instance: cfg.Instance,
		Queues:   []string{callbackQueue},
		Metrics:  busMetrics,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{Addr: cfg.GatewayAddr, Handler: server.Routes()}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	errCh := make(chan error, 4)
	go func() { errCh <- worker.Run(ctx) }()
	go func() {
		registry.RunSweeper(ctx)
		errCh <- nil
	}()
	go func() {
		logging.Info(serviceName, "ws server listening", "addr", cfg.GatewayAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	go func() {
		logging.Info(serviceName, "metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn(serviceName, "ws server shutdown", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn(serviceName, "metrics shutdown", "error", err)
	}
	logging.Info(serviceName, "stopped")
	return runErr
}
