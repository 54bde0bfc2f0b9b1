package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/weftworks/weft/core/bus"
)

// DomainConfig tunes one domain's consumer.
type DomainConfig struct {
	// Tenants pins the subscription to explicit tenant queues. Empty means
	// subscribe to the whole domain via its glob pattern.
	Tenants               []string `yaml:"tenants,omitempty"`
	Workers               int      `yaml:"workers,omitempty"`
	PollTimeoutSeconds    int      `yaml:"poll_timeout_seconds,omitempty"`
	PatternRefreshSeconds int      `yaml:"pattern_refresh_seconds,omitempty"`
}

// DomainsConfig maps domain names to their consumer tuning.
type DomainsConfig struct {
	Domains map[string]DomainConfig `yaml:"domains"`
}

// ParseDomainsConfig parses domains config data from YAML/JSON bytes.
func ParseDomainsConfig(data []byte) (*DomainsConfig, error) {
	if len(data) == 0 {
		return nil, errors.New("domains config is empty")
	}
	if err := validateConfigSchema("domains", domainsSchemaFile, data); err != nil {
		return nil, err
	}
	var cfg DomainsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse domains config: %w", err)
	}
	if len(cfg.Domains) == 0 {
		return nil, errors.New("domains config has no domains")
	}
	for name := range cfg.Domains {
		if name == "" {
			return nil, errors.New("domains config has an empty domain name")
		}
	}
	return &cfg, nil
}

// LoadDomainsConfig reads and validates a YAML domains file.
func LoadDomainsConfig(path string) (*DomainsConfig, error) {
	if path == "" {
		return nil, errors.New("domains config path is empty")
	}
	// #nosec G304 -- domains config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domains config %s: %w", path, err)
	}
	cfg, err := ParseDomainsConfig(data)
	if err != nil {
		return nil, fmt.Errorf("load domains config %s: %w", path, err)
	}
	return cfg, nil
}

// WorkerConfig translates one domain's tuning into a bus worker config for
// the given service identity.
func (c *DomainsConfig) WorkerConfig(domain, service, instance string) (bus.WorkerConfig, error) {
	dc, ok := c.Domains[domain]
	if !ok {
		return bus.WorkerConfig{}, fmt.Errorf("domain %q not configured", domain)
	}
	cfg := bus.WorkerConfig{
		Service:  service,
		Instance: instance,
		Count:    dc.Workers,
	}
	if len(dc.Tenants) > 0 {
		for _, tenant := range dc.Tenants {
			cfg.Queues = append(cfg.Queues, bus.ActionQueue(domain, tenant))
		}
	} else {
		cfg.Patterns = []string{bus.QueuePattern(domain)}
	}
	if dc.PollTimeoutSeconds > 0 {
		cfg.PollTimeout = time.Duration(dc.PollTimeoutSeconds) * time.Second
	}
	if dc.PatternRefreshSeconds > 0 {
		cfg.PatternRefresh = time.Duration(dc.PatternRefreshSeconds) * time.Second
	}
	return cfg, nil
}
