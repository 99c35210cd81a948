package config

import "time"

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.Strategy == "" {
		c.App.Strategy = "keel"
	}

	if c.Engine.MonitorInterval <= 0 {
		c.Engine.MonitorInterval = 5 * time.Second
	}
	if c.Engine.ScannerStartDelay <= 0 {
		c.Engine.ScannerStartDelay = 10 * time.Second
	}
	if c.Engine.ScanInterval <= 0 {
		c.Engine.ScanInterval = 30 * time.Second
	}
	if c.Engine.DebounceWindow <= 0 {
		c.Engine.DebounceWindow = time.Second
	}
	if c.Engine.OrderRetention <= 0 {
		c.Engine.OrderRetention = 24 * time.Hour
	}
	if c.Engine.CleanupInterval <= 0 {
		c.Engine.CleanupInterval = time.Hour
	}
	if c.Engine.ReconcileInterval <= 0 {
		c.Engine.ReconcileInterval = time.Minute
	}
	if c.Engine.LimitsTTL <= 0 {
		c.Engine.LimitsTTL = 300 * time.Second
	}
	if c.Engine.PriceRetryAttempts <= 0 {
		c.Engine.PriceRetryAttempts = 2
	}
	if c.Engine.PriceRetryBaseDelay <= 0 {
		c.Engine.PriceRetryBaseDelay = 250 * time.Millisecond
	}

	if c.Resilience.RetryAttempts <= 0 {
		c.Resilience.RetryAttempts = 3
	}
	if c.Resilience.RetryBaseDelay <= 0 {
		c.Resilience.RetryBaseDelay = 200 * time.Millisecond
	}
	if c.Resilience.BreakerThreshold <= 0 {
		c.Resilience.BreakerThreshold = 5
	}
	if c.Resilience.BreakerCooldown <= 0 {
		c.Resilience.BreakerCooldown = 30 * time.Second
	}
	if c.Resilience.RateLimitPerSecond <= 0 {
		c.Resilience.RateLimitPerSecond = 10
	}
	if c.Resilience.RateLimitBurst <= 0 {
		c.Resilience.RateLimitBurst = 20
	}

	if c.Binance.HTTPTimeout <= 0 {
		c.Binance.HTTPTimeout = 10 * time.Second
	}

	if c.Store.Path == "" {
		c.Store.Path = "data/keel.db"
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
}
