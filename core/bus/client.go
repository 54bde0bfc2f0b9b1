package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/weftworks/weft/core/infra/metrics"
	"github.com/weftworks/weft/core/infra/redisutil"
)

const (
	// Reply slots are bounded so an abandoned pseudo-sync call cannot leak
	// the eventually-written response forever.
	defaultReplyTTL  = 60 * time.Second
	defaultWait      = 30 * time.Second
	defaultOpTimeout = 2 * time.Second
)

// Client places envelopes on the wire. It is the only component that knows
// the store-level encoding of the three send patterns.
type Client struct {
	client    redis.UniversalClient
	origin    string
	replyTTL  time.Duration
	opTimeout time.Duration
	metrics   metrics.BusMetrics
}

// ClientOption adjusts client construction.
type ClientOption func(*Client)

// WithReplyTTL overrides the reply-slot TTL.
func WithReplyTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl > 0 {
			c.replyTTL = ttl
		}
	}
}

// WithMetrics attaches bus metrics.
func WithMetrics(m metrics.BusMetrics) ClientOption {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewClient dials Redis and returns a bus client for the named service.
func NewClient(redisURL, originService string, opts ...ClientOption) (*Client, error) {
	rc, err := redisutil.Dial(redisURL)
	if err != nil {
		return nil, err
	}
	return NewClientWith(rc, originService, opts...), nil
}

// NewClientWith wraps an existing Redis client (shared across components
// inside one process).
func NewClientWith(rc redis.UniversalClient, originService string, opts ...ClientOption) *Client {
	c := &Client{
		client:    rc,
		origin:    originService,
		replyTTL:  defaultReplyTTL,
		opTimeout: defaultOpTimeout,
		metrics:   metrics.Noop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Origin returns the service identity stamped on envelopes built via Build.
func (c *Client) Origin() string { return c.origin }

// Close closes the underlying Redis client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Build constructs an envelope stamped with this client's origin service.
func (c *Client) Build(actionType, tenantID, sessionID string, data any) (*Envelope, error) {
	return NewEnvelope(actionType, tenantID, sessionID, c.origin, data)
}

// FireAndForget pushes the envelope onto queue. The returned error is the
// caller's only completion signal: enqueue failures are always surfaced,
// downstream handler failures never are.
func (c *Client) FireAndForget(ctx context.Context, env *Envelope, queue string) error {
	if queue == "" {
		var err error
		queue, err = ActionQueueFor(env)
		if err != nil {
			return err
		}
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	if err := c.client.RPush(cctx, queue, data).Err(); err != nil {
		return busErr("enqueue", queue, err)
	}
	c.metrics.IncEnqueued(env.ActionType)
	return nil
}

// RequestReply enqueues the envelope and blocks for up to timeout on the
// reply slot derived from its correlation id. A missing correlation id is
// filled in. Returns the handler's Response, or ErrReplyTimeout; an
// eventually-written late reply is left to expire via its TTL.
func (c *Client) RequestReply(ctx context.Context, env *Envelope, queue string, timeout time.Duration) (*Response, error) {
	if env == nil {
		return nil, fmt.Errorf("nil envelope")
	}
	if env.CorrelationID == "" {
		env.CorrelationID = uuid.NewString()
	}
	if timeout <= 0 {
		timeout = defaultWait
	}
	if err := c.FireAndForget(ctx, env, queue); err != nil {
		return nil, err
	}

	slot := ReplySlot(env.CorrelationID)
	res, err := c.client.BLPop(ctx, timeout, slot).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.metrics.IncReplyTimeouts(env.ActionType)
			return nil, fmt.Errorf("%w: %s after %s", ErrReplyTimeout, env.ActionType, timeout)
		}
		return nil, busErr("reply-wait", slot, err)
	}
	if len(res) != 2 {
		return nil, busErr("reply-wait", slot, fmt.Errorf("malformed pop result"))
	}
	return DecodeResponse([]byte(res[1]))
}

// SendWithCallback sets the callback address on the envelope and enqueues it.
// Returns as soon as the push is acknowledged; the receiving worker owns
// building and enqueuing the callback envelope.
func (c *Client) SendWithCallback(ctx context.Context, env *Envelope, queue, callbackQueue, callbackActionType string) error {
	if env == nil {
		return fmt.Errorf("nil envelope")
	}
	if callbackQueue == "" || callbackActionType == "" {
		return fmt.Errorf("callback queue and action type required")
	}
	env.CallbackQueueName = callbackQueue
	env.CallbackActionType = callbackActionType
	return c.FireAndForget(ctx, env, queue)
}

// respond writes a pseudo-sync response into the reply slot for the given
// correlation id and bounds it with the reply TTL.
func (c *Client) respond(ctx context.Context, correlationID string, resp *Response) error {
	if correlationID == "" {
		return fmt.Errorf("correlation id required")
	}
	data, err := encodeResponse(resp)
	if err != nil {
		return err
	}
	slot := ReplySlot(correlationID)
	cctx, cancel := c.opCtx(ctx)
	defer cancel()
	pipe := c.client.TxPipeline()
	pipe.RPush(cctx, slot, data)
	pipe.Expire(cctx, slot, c.replyTTL)
	if _, err := pipe.Exec(cctx); err != nil {
		return busErr("respond", slot, err)
	}
	return nil
}

// pop performs one blocking pop across the given queues.
func (c *Client) pop(ctx context.Context, timeout time.Duration, queues ...string) (*Envelope, error) {
	res, err := c.client.BLPop(ctx, timeout, queues...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, busErr("pop", fmt.Sprintf("%v", queues), err)
	}
	if len(res) != 2 {
		return nil, busErr("pop", fmt.Sprintf("%v", queues), fmt.Errorf("malformed pop result"))
	}
	return DecodeEnvelope([]byte(res[1]))
}

// resolvePattern expands a glob subscription into concrete live queue keys.
func (c *Client) resolvePattern(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, busErr("scan", pattern, err)
		}
		for _, key := range keys {
			if IsActionQueue(key) {
				out = append(out, key)
			}
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (c *Client) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), c.opTimeout)
}

func encodeResponse(resp *Response) ([]byte, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil response")
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return data, nil
}
