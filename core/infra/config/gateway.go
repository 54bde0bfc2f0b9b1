package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// GatewayConfig tunes connection liveness and usage bookkeeping.
type GatewayConfig struct {
	PingIntervalSeconds  int `yaml:"ping_interval_seconds,omitempty"`
	StaleMultiple        int `yaml:"stale_multiple,omitempty"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds,omitempty"`
	SessionTTLMinutes    int `yaml:"session_ttl_minutes,omitempty"`
	UsageTTLHours        int `yaml:"usage_ttl_hours,omitempty"`
}

// ParseGatewayConfig parses gateway config data from YAML/JSON bytes.
// Empty input yields an all-defaults config.
func ParseGatewayConfig(data []byte) (*GatewayConfig, error) {
	cfg := defaultGatewayTuning()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := validateConfigSchema("gateway", gatewaySchemaFile, data); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse gateway config: %w", err)
	}
	return cfg, nil
}

// LoadGatewayConfig reads a YAML gateway file; a missing file yields the
// defaults without error so the gateway runs unconfigured.
func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	if path == "" {
		return defaultGatewayTuning(), nil
	}
	// #nosec G304 -- gateway config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultGatewayTuning(), nil
		}
		return nil, fmt.Errorf("read gateway config %s: %w", path, err)
	}
	cfg, err := ParseGatewayConfig(data)
	if err != nil {
		return nil, fmt.Errorf("load gateway config %s: %w", path, err)
	}
	return cfg, nil
}

// PingInterval returns the configured ping interval as a duration.
func (c *GatewayConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// SweepInterval returns the configured sweep interval as a duration.
func (c *GatewayConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// SessionTTL returns the configured session TTL as a duration.
func (c *GatewayConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// UsageTTL returns the configured usage-counter TTL as a duration.
func (c *GatewayConfig) UsageTTL() time.Duration {
	return time.Duration(c.UsageTTLHours) * time.Hour
}

func defaultGatewayTuning() *GatewayConfig {
	return &GatewayConfig{
		PingIntervalSeconds:  30,
		StaleMultiple:        3,
		SweepIntervalSeconds: 60,
		SessionTTLMinutes:    30,
		UsageTTLHours:        48,
	}
}
