// Package config holds runtime configuration: environment variables with
// sane defaults for service wiring, plus YAML files (schema-validated) for
// the tunables operators actually edit.
package config

import "os"

const (
	defaultRedisURL      = "redis://localhost:6379"
	defaultGatewayAddr   = ":8080"
	defaultMetricsAddr   = ":9090"
	defaultGatewayConfig = "config/gateway.yaml"
	defaultDomainsConfig = "config/domains.yaml"
	defaultInstance      = "main"
	envRedisURL          = "REDIS_URL"
	envGatewayAddr       = "GATEWAY_HTTP_ADDR"
	envMetricsAddr       = "METRICS_ADDR"
	envGatewayConfigPath = "GATEWAY_CONFIG_PATH"
	envDomainsConfigPath = "DOMAINS_CONFIG_PATH"
	envServiceInstance   = "SERVICE_INSTANCE"
	envHistoryURL        = "HISTORY_URL"
	envHistoryAPIKey     = "HISTORY_API_KEY"
)

// Config holds runtime configuration shared by the weft services.
type Config struct {
	RedisURL          string
	GatewayAddr       string
	MetricsAddr       string
	GatewayConfigPath string
	DomainsConfigPath string
	Instance          string
	HistoryURL        string
	HistoryAPIKey     string
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	return &Config{
		RedisURL:          envOr(envRedisURL, defaultRedisURL),
		GatewayAddr:       envOr(envGatewayAddr, defaultGatewayAddr),
		MetricsAddr:       envOr(envMetricsAddr, defaultMetricsAddr),
		GatewayConfigPath: envOr(envGatewayConfigPath, defaultGatewayConfig),
		DomainsConfigPath: envOr(envDomainsConfigPath, defaultDomainsConfig),
		Instance:          envOr(envServiceInstance, defaultInstance),
		HistoryURL:        os.Getenv(envHistoryURL),
		HistoryAPIKey:     os.Getenv(envHistoryAPIKey),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
