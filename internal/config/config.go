package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the execution repository service.
// Values are loaded from environment variables.
type Config struct {
	RedisAddr         string `json:"redis_addr"`
	RedisPreviousAddr string `json:"redis_previous_addr,omitempty"`
	HTTPAddr          string `json:"http_addr"`

	ChunkSize       int `json:"chunk_size"`
	QueryAllWorkers int `json:"query_all_workers"`
	QueryAppWorkers int `json:"query_app_workers"`

	CorrelationRetryLimit  int `json:"correlation_retry_limit"`
	ContextMergeRetryLimit int `json:"context_merge_retry_limit"`

	// CircuitBreakerThreshold: 0 disables the backend router's circuit breaker.
	CircuitBreakerThreshold    int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown     time.Duration `json:"-"`
	CircuitBreakerCooldownStr  string        `json:"circuit_breaker_cooldown"`

	SweeperEnabled     bool          `json:"sweeper_enabled"`
	SweepInterval      time.Duration `json:"-"`
	SweepIntervalStr   string        `json:"sweep_interval"`
	SweeperLockKey     string        `json:"sweeper_lock_key"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsAddr    string `json:"metrics_addr"`
	MetricsPath    string `json:"metrics_path"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPreviousAddr:      os.Getenv("REDIS_PREVIOUS_ADDR"),
		HTTPAddr:               os.Getenv("HTTP_ADDR"),
		SweeperEnabled:         os.Getenv("SWEEPER_ENABLED") == "true",
		SweeperLockKey:         os.Getenv("SWEEPER_LOCK_KEY"),
		MetricsEnabled:         os.Getenv("METRICS_ENABLED") == "true",
		MetricsAddr:            os.Getenv("METRICS_ADDR"),
		MetricsPath:            os.Getenv("METRICS_PATH"),
		SweepIntervalStr:       os.Getenv("SWEEP_INTERVAL"),
		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		HTTPShutdownTimeoutStr: os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
	}

	cfg.ChunkSize = intEnv("CHUNK_SIZE", 75)
	cfg.QueryAllWorkers = intEnv("QUERY_ALL_WORKERS", 10)
	cfg.QueryAppWorkers = intEnv("QUERY_APP_WORKERS", 25)
	cfg.CorrelationRetryLimit = intEnv("CORRELATION_RETRY_LIMIT", 10)
	cfg.ContextMergeRetryLimit = intEnv("CONTEXT_MERGE_RETRY_LIMIT", 10)

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
			cfg.CircuitBreakerThreshold = 5
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	if cfg.SweeperLockKey == "" {
		cfg.SweeperLockKey = "execrepo:sweeper:lock"
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.SweepIntervalStr == "" {
		cfg.SweepIntervalStr = "5m"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.SweepIntervalStr); err == nil {
		cfg.SweepInterval = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}

	return cfg
}

// intEnv parses name as a positive integer, falling back to def when unset
// or invalid.
func intEnv(name string, def int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	n, err := parseInt(s)
	if err != nil || n <= 0 {
		log.Printf("config: invalid %s %q (must be a positive integer), using default %d", name, s, def)
		return def
	}
	return n
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		RedisAddr                 string `json:"redis_addr"`
		RedisPreviousAddr         string `json:"redis_previous_addr,omitempty"`
		HTTPAddr                  string `json:"http_addr"`
		ChunkSize                 int    `json:"chunk_size"`
		QueryAllWorkers           int    `json:"query_all_workers"`
		QueryAppWorkers           int    `json:"query_app_workers"`
		CorrelationRetryLimit     int    `json:"correlation_retry_limit"`
		ContextMergeRetryLimit    int    `json:"context_merge_retry_limit"`
		CircuitBreakerThreshold   int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown    string `json:"circuit_breaker_cooldown"`
		SweeperEnabled            bool   `json:"sweeper_enabled"`
		SweepInterval             string `json:"sweep_interval"`
		SweeperLockKey            string `json:"sweeper_lock_key"`
		MetricsEnabled            bool   `json:"metrics_enabled"`
		MetricsAddr               string `json:"metrics_addr"`
		MetricsPath               string `json:"metrics_path"`
		HTTPShutdownTimeout       string `json:"http_shutdown_timeout"`
	}{
		RedisAddr:               maskSecret(c.RedisAddr),
		RedisPreviousAddr:       maskSecret(c.RedisPreviousAddr),
		HTTPAddr:                c.HTTPAddr,
		ChunkSize:               c.ChunkSize,
		QueryAllWorkers:         c.QueryAllWorkers,
		QueryAppWorkers:         c.QueryAppWorkers,
		CorrelationRetryLimit:   c.CorrelationRetryLimit,
		ContextMergeRetryLimit:  c.ContextMergeRetryLimit,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		SweeperEnabled:          c.SweeperEnabled,
		SweepInterval:           c.SweepIntervalStr,
		SweeperLockKey:          c.SweeperLockKey,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsAddr:             c.MetricsAddr,
		MetricsPath:             c.MetricsPath,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a connection string, keeping only the host:port segment
// that follows any userinfo so the mask stays useful in logs.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	at := -1
	for i, c := range s {
		if c == '@' {
			at = i
		}
	}
	if at == -1 {
		return s
	}
	return "***" + s[at:]
}
