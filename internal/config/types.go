package config

import "time"

type Config struct {
	App        AppConfig        `toml:"app"`
	Engine     EngineConfig     `toml:"engine"`
	Resilience ResilienceConfig `toml:"resilience"`
	Binance    BinanceConfig    `toml:"binance"`
	Store      StoreConfig      `toml:"store"`
	HTTP       HTTPConfig       `toml:"http"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	Strategy string `toml:"strategy"`
}

type EngineConfig struct {
	MonitorInterval     time.Duration `toml:"monitor_interval"`
	ScannerStartDelay   time.Duration `toml:"scanner_start_delay"`
	ScanInterval        time.Duration `toml:"scan_interval"`
	DebounceWindow      time.Duration `toml:"debounce_window"`
	OrderRetention      time.Duration `toml:"order_retention"`
	CleanupInterval     time.Duration `toml:"cleanup_interval"`
	ReconcileInterval   time.Duration `toml:"reconcile_interval"`
	LimitsTTL           time.Duration `toml:"limits_ttl"`
	PriceRetryAttempts  int           `toml:"price_retry_attempts"`
	PriceRetryBaseDelay time.Duration `toml:"price_retry_base_delay"`
}

type ResilienceConfig struct {
	RetryAttempts      int           `toml:"retry_attempts"`
	RetryBaseDelay     time.Duration `toml:"retry_base_delay"`
	BreakerThreshold   int           `toml:"breaker_threshold"`
	BreakerCooldown    time.Duration `toml:"breaker_cooldown"`
	RateLimitPerSecond float64       `toml:"rate_limit_per_second"`
	RateLimitBurst     int           `toml:"rate_limit_burst"`
}

type BinanceConfig struct {
	APIKey      string        `toml:"api_key"`
	APISecret   string        `toml:"api_secret"`
	RESTBaseURL string        `toml:"rest_base_url"`
	HTTPTimeout time.Duration `toml:"http_timeout"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}
