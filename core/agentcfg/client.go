// Package agentcfg fetches per-tenant agent configuration over the bus and
// caches it in-process. Config changes rarely; callers sit on worker hot
// paths, so reads are served from cache until a short TTL expires.
package agentcfg

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/weftworks/weft/core/bus"
	"github.com/weftworks/weft/core/infra/logging"
)

const (
	// FetchActionType is the pseudo-sync action the config service answers.
	FetchActionType = "config.get_agent"

	defaultCacheTTL  = 30 * time.Second
	defaultFetchWait = 5 * time.Second
)

// AgentConfig is the per-tenant agent profile served by the config service.
type AgentConfig struct {
	TenantID     string            `json:"tenant_id"`
	AgentID      string            `json:"agent_id"`
	Model        string            `json:"model"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Temperature  float64           `json:"temperature,omitempty"`
	MaxTokens    int               `json:"max_tokens,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
}

type cacheEntry struct {
	cfg     *AgentConfig
	expires time.Time
}

// Client resolves agent configuration with RequestReply and a short-TTL
// in-process cache. Safe for concurrent use.
type Client struct {
	bus       *bus.Client
	ttl       time.Duration
	fetchWait time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// Option tunes a Client.
type Option func(*Client)

// WithCacheTTL overrides how long fetched configs are served from cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithFetchWait overrides the pseudo-sync wait for the config service.
func WithFetchWait(wait time.Duration) Option {
	return func(c *Client) {
		if wait > 0 {
			c.fetchWait = wait
		}
	}
}

// NewClient wraps a bus client.
func NewClient(busClient *bus.Client, opts ...Option) *Client {
	c := &Client{
		bus:       busClient,
		ttl:       defaultCacheTTL,
		fetchWait: defaultFetchWait,
		cache:     make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the agent config for a tenant/agent pair, from cache when
// fresh, otherwise fetched over the bus.
func (c *Client) Get(ctx context.Context, tenantID, agentID string) (*AgentConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("agentcfg: tenant id required")
	}
	key := tenantID + "/" + agentID

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.cfg, nil
	}

	cfg, err := c.fetch(ctx, tenantID, agentID)
	if err != nil {
		// A stale entry beats failing the caller while the service blips.
		if ok {
			logging.Warn("agentcfg", "fetch failed, serving stale config",
				"tenant", tenantID, "agent", agentID, "error", err)
			return entry.cfg, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{cfg: cfg, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return cfg, nil
}

// Invalidate drops the cached entry for a tenant/agent pair.
func (c *Client) Invalidate(tenantID, agentID string) {
	c.mu.Lock()
	delete(c.cache, tenantID+"/"+agentID)
	c.mu.Unlock()
}

func (c *Client) fetch(ctx context.Context, tenantID, agentID string) (*AgentConfig, error) {
	env, err := c.bus.Build(FetchActionType, tenantID, "agentcfg", map[string]string{"agent_id": agentID})
	if err != nil {
		return nil, fmt.Errorf("agentcfg: build request: %w", err)
	}
	env.AgentID = agentID

	resp, err := c.bus.RequestReply(ctx, env, "", c.fetchWait)
	if err != nil {
		return nil, fmt.Errorf("agentcfg: fetch %s/%s: %w", tenantID, agentID, err)
	}
	if !resp.Success {
		detail := "unknown error"
		if resp.Error != nil {
			detail = resp.Error.Message
		}
		return nil, fmt.Errorf("agentcfg: fetch %s/%s: %s", tenantID, agentID, detail)
	}

	var cfg AgentConfig
	if err := json.Unmarshal(resp.Data, &cfg); err != nil {
		return nil, fmt.Errorf("agentcfg: decode config: %w", err)
	}
	if cfg.TenantID == "" {
		cfg.TenantID = tenantID
	}
	return &cfg, nil
}
