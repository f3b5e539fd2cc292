// Package config loads the relay's environment-driven configuration.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all relay configuration.
type Config struct {
	// SpyServiceHost is the address of the attestation stream source,
	// "host:port" or a full ws:// URL.
	SpyServiceHost string

	// SpyServiceFilters is the raw JSON feed allow-list
	// ([{"chain_id":..,"emitter_address":".."}]); empty accepts everything.
	SpyServiceFilters string

	Readiness ReadinessConfig
	Cache     CacheConfig

	RESTPort       int
	WSPort         int
	PrometheusPort int

	LogLevel string

	Redis RedisConfig
}

// ReadinessConfig controls the cold-start gate.
type ReadinessConfig struct {
	SpySyncTimeSeconds int
	NumLoadedSymbols   int
}

// CacheConfig controls entry expiry.
type CacheConfig struct {
	TTLSeconds                   int
	RemoveExpiredIntervalSeconds int
}

// RedisConfig holds the optional Redis mirror settings. An empty Addr
// disables the mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads configuration from the environment. SPY_SERVICE_HOST is the
// only required variable; everything else has a default.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("readiness_spy_sync_time_seconds", 60)
	v.SetDefault("readiness_num_loaded_symbols", 0)
	v.SetDefault("cache_ttl_seconds", 300)
	v.SetDefault("remove_expired_values_interval_seconds", 60)
	v.SetDefault("rest_port", 4200)
	v.SetDefault("ws_port", 6200)
	v.SetDefault("prometheus_port", 8081)
	v.SetDefault("log_level", "info")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	cfg := &Config{
		SpyServiceHost:    v.GetString("spy_service_host"),
		SpyServiceFilters: v.GetString("spy_service_filters"),
		Readiness: ReadinessConfig{
			SpySyncTimeSeconds: v.GetInt("readiness_spy_sync_time_seconds"),
			NumLoadedSymbols:   v.GetInt("readiness_num_loaded_symbols"),
		},
		Cache: CacheConfig{
			TTLSeconds:                   v.GetInt("cache_ttl_seconds"),
			RemoveExpiredIntervalSeconds: v.GetInt("remove_expired_values_interval_seconds"),
		},
		RESTPort:       v.GetInt("rest_port"),
		WSPort:         v.GetInt("ws_port"),
		PrometheusPort: v.GetInt("prometheus_port"),
		LogLevel:       v.GetString("log_level"),
		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.SpyServiceHost) == "" {
		return errors.New("SPY_SERVICE_HOST is required")
	}
	if cfg.Cache.TTLSeconds <= 0 {
		return errors.New("CACHE_TTL_SECONDS must be positive")
	}
	if cfg.Cache.RemoveExpiredIntervalSeconds <= 0 {
		return errors.New("REMOVE_EXPIRED_VALUES_INTERVAL_SECONDS must be positive")
	}
	if cfg.Readiness.SpySyncTimeSeconds < 0 || cfg.Readiness.NumLoadedSymbols < 0 {
		return errors.New("readiness thresholds must be non-negative")
	}
	return nil
}
