// Package config loads bridge configuration from defaults, an optional file
// and JSBRIDGE_ environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/js-bridge/errors"
)

// EnvPrefix prefixes every environment override, e.g. JSBRIDGE_LOOP_CALL_TIMEOUT.
const EnvPrefix = "JSBRIDGE"

// Config is the full bridge configuration.
type Config struct {
	Loop    LoopConfig    `mapstructure:"loop"`
	Handles HandleConfig  `mapstructure:"handles"`
	Wasm    WasmConfig    `mapstructure:"wasm"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// LoopConfig tunes the host event loop.
type LoopConfig struct {
	// CallTimeout interrupts a single host call that runs longer. Zero disables it.
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
	MaxCallStack int           `mapstructure:"max_call_stack"`
	// Console gives scripts a console object that writes to the bridge log.
	Console bool `mapstructure:"console"`
}

// HandleConfig tunes the handle tables.
type HandleConfig struct {
	// SweepOnRelease applies queued collection notices after every explicit release.
	SweepOnRelease bool `mapstructure:"sweep_on_release"`
}

// WasmConfig tunes managed WebAssembly modules.
type WasmConfig struct {
	// MemoryLimitPages caps linear memory per module (64KiB pages). Zero keeps the wazero default.
	MemoryLimitPages uint32 `mapstructure:"memory_limit_pages"`
}

// MetricsConfig controls Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Listen    string `mapstructure:"listen"`
}

// LogConfig controls the zap logger built by Logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("loop.call_timeout", 0)
	v.SetDefault("loop.max_call_stack", 0)
	v.SetDefault("loop.console", true)

	v.SetDefault("handles.sweep_on_release", true)

	v.SetDefault("wasm.memory_limit_pages", 0)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "jsbridge")
	v.SetDefault("metrics.listen", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Default returns the configuration with every default applied.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults alone cannot fail to decode.
		panic(err)
	}
	return cfg
}

// Load reads configuration. An empty path skips the file; environment
// variables override both the file and the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "read config "+path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "decode config")
	}
	return &cfg, nil
}

// Logger builds a zap logger for the log section.
func (c LogConfig) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "log level")
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
