package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/weftworks/weft/core/infra/logging"
	"github.com/weftworks/weft/core/infra/metrics"
)

const (
	defaultPollTimeout    = 2 * time.Second
	defaultPatternRefresh = 5 * time.Second
	defaultWorkerCount    = 4
)

// WorkerConfig configures a consumer pool for one service.
type WorkerConfig struct {
	Service  string
	Instance string
	// Queues are consumed as-is (e.g. the service's own callback inbox).
	Queues []string
	// Patterns are glob subscriptions resolved to live tenant queues on a
	// refresh interval, so one pool serves all tenants of a domain.
	Patterns       []string
	Count          int
	PollTimeout    time.Duration
	PatternRefresh time.Duration
	Metrics        metrics.BusMetrics
}

// Worker drains subscribed queues and dispatches envelopes to registered
// handlers. Delivery is at-most-once: a crash between pop and completion
// loses the envelope. There is no dead-lettering or redelivery.
type Worker struct {
	client   *Client
	registry *HandlerRegistry
	cfg      WorkerConfig

	mu       sync.RWMutex
	resolved []string
}

// NewWorker builds a worker pool over an existing bus client.
func NewWorker(client *Client, registry *HandlerRegistry, cfg WorkerConfig) (*Worker, error) {
	if client == nil {
		return nil, fmt.Errorf("bus client required")
	}
	if registry == nil {
		registry = NewHandlerRegistry()
	}
	if cfg.Service == "" {
		cfg.Service = client.Origin()
	}
	if len(cfg.Queues) == 0 && len(cfg.Patterns) == 0 {
		return nil, fmt.Errorf("queues or patterns required")
	}
	if cfg.Count <= 0 {
		cfg.Count = defaultWorkerCount
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.PatternRefresh <= 0 {
		cfg.PatternRefresh = defaultPatternRefresh
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	return &Worker{client: client, registry: registry, cfg: cfg}, nil
}

// Registry returns the worker's handler registry.
func (w *Worker) Registry() *HandlerRegistry { return w.registry }

// Run starts the pattern resolver and the consumer pool and blocks until
// ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	w.refreshPatterns(ctx)
	logging.Info("bus-worker", "starting",
		"service", w.cfg.Service,
		"count", w.cfg.Count,
		"queues", fmt.Sprintf("%v", w.cfg.Queues),
		"patterns", fmt.Sprintf("%v", w.cfg.Patterns),
		"handlers", fmt.Sprintf("%v", w.registry.Types()))

	var wg sync.WaitGroup
	if len(w.cfg.Patterns) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.resolverLoop(ctx)
		}()
	}
	for i := 0; i < w.cfg.Count; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.consumeLoop(ctx, n)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (w *Worker) resolverLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PatternRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refreshPatterns(ctx)
		}
	}
}

func (w *Worker) refreshPatterns(ctx context.Context) {
	seen := make(map[string]struct{})
	var keys []string
	for _, pattern := range w.cfg.Patterns {
		resolved, err := w.client.resolvePattern(ctx, pattern)
		if err != nil {
			logging.Error("bus-worker", "pattern resolve failed", "pattern", pattern, "error", err)
			continue
		}
		for _, key := range resolved {
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	w.mu.Lock()
	w.resolved = keys
	w.mu.Unlock()
}

func (w *Worker) queues() []string {
	w.mu.RLock()
	resolved := w.resolved
	w.mu.RUnlock()
	out := make([]string, 0, len(w.cfg.Queues)+len(resolved))
	out = append(out, w.cfg.Queues...)
	for _, key := range resolved {
		dup := false
		for _, q := range w.cfg.Queues {
			if q == key {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, key)
		}
	}
	return out
}

func (w *Worker) consumeLoop(ctx context.Context, n int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		queues := w.queues()
		if len(queues) == 0 {
			// Nothing resolved yet; wait for the resolver.
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollTimeout):
			}
			continue
		}
		env, err := w.client.pop(ctx, w.cfg.PollTimeout, queues...)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Error("bus-worker", "pop failed", "worker", n, "error", err)
			// Back off briefly so a sick store does not spin the loop.
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollTimeout):
			}
			continue
		}
		if env == nil {
			continue
		}
		w.dispatch(ctx, env)
	}
}

// dispatch turns one inbound envelope into exactly one outbound action:
// a reply-slot response, a callback envelope, or nothing.
func (w *Worker) dispatch(ctx context.Context, env *Envelope) {
	start := time.Now()
	result, err := w.invoke(ctx, env)
	w.cfg.Metrics.ObserveHandlerDuration(env.ActionType, time.Since(start).Seconds())

	if err == nil {
		w.cfg.Metrics.IncProcessed(env.ActionType, "ok")
		w.reportSuccess(ctx, env, result)
		return
	}

	detail := Classify(err)
	outcome := "failed"
	if detail.Type == ErrorTypeUnsupported {
		outcome = "unsupported"
	}
	w.cfg.Metrics.IncProcessed(env.ActionType, outcome)
	logging.Error("bus-worker", "handler failed",
		"action_type", env.ActionType,
		"action_id", env.ActionID,
		"tenant", env.TenantID,
		"trace_id", env.TraceID,
		"error_type", detail.Type,
		"error", detail.Message)
	w.reportFailure(ctx, env, detail)
}

func (w *Worker) invoke(ctx context.Context, env *Envelope) (result any, err error) {
	handler, ok := w.registry.Lookup(env.ActionType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, env.ActionType)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, env)
}

func (w *Worker) reportSuccess(ctx context.Context, env *Envelope, result any) {
	if env.WantsReply() {
		resp, err := OKResponse(result)
		if err == nil {
			err = w.client.respond(ctx, env.CorrelationID, resp)
		}
		if err != nil {
			logging.Error("bus-worker", "reply delivery failed",
				"action_id", env.ActionID, "correlation_id", env.CorrelationID, "error", err)
		}
	}
	if env.WantsCallback() {
		cb, err := env.Callback(result)
		if err == nil {
			err = w.client.FireAndForget(ctx, cb, env.CallbackQueueName)
		}
		if err != nil {
			logging.Error("bus-worker", "callback delivery failed",
				"action_id", env.ActionID, "callback_queue", env.CallbackQueueName, "error", err)
		}
	}
	// Neither set: fire-and-forget caller, result is discarded.
}

// reportFailure routes errors into the envelope's reply path. Failures while
// reporting are logged and swallowed; one bad envelope must not kill the loop.
func (w *Worker) reportFailure(ctx context.Context, env *Envelope, detail ErrorDetail) {
	if env.WantsReply() {
		if err := w.client.respond(ctx, env.CorrelationID, FailResponse(detail.Type, detail.Message)); err != nil {
			logging.Error("bus-worker", "failure reply delivery failed",
				"action_id", env.ActionID, "correlation_id", env.CorrelationID, "error", err)
		}
	}
	if env.WantsCallback() {
		payload := map[string]any{
			"status": "failed",
			"error":  map[string]string{"type": detail.Type, "message": detail.Message},
		}
		cb, err := env.Callback(payload)
		if err == nil {
			err = w.client.FireAndForget(ctx, cb, env.CallbackQueueName)
		}
		if err != nil {
			logging.Error("bus-worker", "error callback delivery failed",
				"action_id", env.ActionID, "callback_queue", env.CallbackQueueName, "error", err)
		}
	}
}
