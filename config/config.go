// Package config loads runtime settings from a file and the environment.
//
// Every key can be overridden by an environment variable prefixed with
// POLYRUN_, with dots replaced by underscores:
//
//	POLYRUN_TIMEOUT=2s POLYRUN_LOG_LEVEL=debug polyrun run fn.bin
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/polyglot-runtime/errors"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "POLYRUN"

type Settings struct {
	// Memory limit per instance (in pages, 64KB each). 0 keeps the wazero
	// default.
	MemoryLimitPages uint32 `mapstructure:"memory_limit_pages"`
	// Run timeout. 0 disables it.
	Timeout time.Duration `mapstructure:"timeout"`
	// Compilation cache directory. Empty disables the cache.
	CacheDir string      `mapstructure:"cache_dir"`
	Log      LogSettings `mapstructure:"log"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("memory_limit_pages", 0)
	v.SetDefault("timeout", "0s")
	v.SetDefault("cache_dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Default returns the settings used without a file or environment.
func Default() *Settings {
	return &Settings{Log: LogSettings{Level: "info", Format: "console"}}
}

// Load reads settings from path (YAML, JSON or TOML by extension) and the
// environment. An empty path reads the environment only.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Path(path).
				Cause(err).
				Detail("read settings").
				Build()
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(path).
			Cause(err).
			Detail("decode settings").
			Build()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the log settings and the timeout.
func (s *Settings) Validate() error {
	if s.Timeout < 0 {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("timeout").
			Value(s.Timeout).
			Detail("timeout must not be negative").
			Build()
	}
	if _, err := zapcore.ParseLevel(s.Log.Level); err != nil {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("log", "level").
			Value(s.Log.Level).
			Cause(err).
			Build()
	}
	switch s.Log.Format {
	case "console", "json":
	default:
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("log", "format").
			Expected("console or json").
			Actual(s.Log.Format).
			Build()
	}
	return nil
}

// Logger builds a zap logger writing to stderr.
func (s *Settings) Logger() (*zap.Logger, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	level, _ := zapcore.ParseLevel(s.Log.Level)

	var cfg zap.Config
	if s.Log.Format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "build logger")
	}
	return l, nil
}
