package config

import (
	"fmt"
	"time"
)

func validate(cfg *Config) error {
	if cfg.Engine.MonitorInterval < time.Second {
		return fmt.Errorf("engine.monitor_interval must be at least 1s, got %s", cfg.Engine.MonitorInterval)
	}
	if cfg.Engine.DebounceWindow < 100*time.Millisecond {
		return fmt.Errorf("engine.debounce_window must be at least 100ms, got %s", cfg.Engine.DebounceWindow)
	}
	if cfg.Engine.OrderRetention < time.Hour {
		return fmt.Errorf("engine.order_retention must be at least 1h, got %s", cfg.Engine.OrderRetention)
	}
	if cfg.Resilience.RateLimitPerSecond > 100 {
		return fmt.Errorf("resilience.rate_limit_per_second %v exceeds the venue weight budget", cfg.Resilience.RateLimitPerSecond)
	}
	switch cfg.App.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level %q is not one of debug/info/warn/error", cfg.App.LogLevel)
	}
	return nil
}
