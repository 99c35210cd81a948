package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"keel/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the YAML config at path, applies defaults, and validates the
// result.
func Load(path string) (*Config, error) {
	v, err := open(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAndWatch additionally watches the file and re-applies the log level on
// change, so a running engine can be switched to debug without a restart.
// Structural settings require a restart and are not hot-reloaded.
func LoadAndWatch(path string) (*Config, error) {
	v, err := open(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, derr := decode(v)
		if derr != nil {
			logger.Warnf("config change ignored (%s): %v", e.Name, derr)
			return
		}
		logger.SetLevel(updated.App.LogLevel)
		logger.Infof("config reloaded: log level now %s", updated.App.LogLevel)
	})
	v.WatchConfig()
	return cfg, nil
}

func open(path string) (*viper.Viper, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", abs, err)
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
