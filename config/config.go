// Package config loads engine settings from a TOML file and converts them
// into sweep options with a default overlay: only keys present in the file
// override the built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/voltlab/go-smu/instrument"
	"github.com/voltlab/go-smu/logger"
	"github.com/voltlab/go-smu/sweep"
)

// fileConfig is the config.toml key mapping.
type fileConfig struct {
	Resource         string  `toml:"resource"`
	Channel          string  `toml:"channel"`
	MaxVoltageLimit  float64 `toml:"max_voltage_limit"`
	HighVoltage      float64 `toml:"high_voltage_threshold"`
	MinHostDelayMS   float64 `toml:"min_host_delay_ms"`
	MinDeviceDelayMS float64 `toml:"min_device_delay_ms"`
	FastDeviceLimit  bool    `toml:"fast_device_limit"`
	LogLevel         string  `toml:"log_level"`
	OutputFile       string  `toml:"output_file"`
	SampleName       string  `toml:"sample_name"`
	Operator         string  `toml:"operator"`
}

// Settings is the resolved engine configuration.
type Settings struct {
	Resource         string
	Channel          string
	MaxVoltageLimit  float64
	HighVoltage      float64
	MinHostDelay     time.Duration
	MinDeviceDelay   time.Duration
	FastDeviceLimit  bool
	LogLevel         logger.Level
	OutputFile       string
	SampleName       string
	Operator         string
}

// Default returns the built-in settings used when no config file is given.
func Default() Settings {
	return Settings{
		Resource:        "GPIB0::24::INSTR",
		Channel:         "smua",
		MaxVoltageLimit: instrument.MaxAbsVoltage,
		HighVoltage:     instrument.DefaultHighVoltage,
		MinHostDelay:    10 * time.Millisecond,
		MinDeviceDelay:  time.Millisecond,
		LogLevel:        logger.InfoLevel,
	}
}

// Load reads a TOML config file and overlays it on the defaults.
func Load(path string) (Settings, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Settings{}, fmt.Errorf("load engine config: %w", err)
	}

	if meta.IsDefined("resource") {
		cfg.Resource = strings.TrimSpace(raw.Resource)
	}
	if meta.IsDefined("channel") {
		cfg.Channel = strings.TrimSpace(raw.Channel)
	}
	if meta.IsDefined("max_voltage_limit") {
		cfg.MaxVoltageLimit = raw.MaxVoltageLimit
	}
	if meta.IsDefined("high_voltage_threshold") {
		cfg.HighVoltage = raw.HighVoltage
	}
	if meta.IsDefined("min_host_delay_ms") {
		cfg.MinHostDelay = time.Duration(raw.MinHostDelayMS * float64(time.Millisecond))
	}
	if meta.IsDefined("min_device_delay_ms") {
		cfg.MinDeviceDelay = time.Duration(raw.MinDeviceDelayMS * float64(time.Millisecond))
	}
	if meta.IsDefined("fast_device_limit") {
		cfg.FastDeviceLimit = raw.FastDeviceLimit
	}
	if meta.IsDefined("log_level") {
		level, err := parseLogLevel(raw.LogLevel)
		if err != nil {
			return Settings{}, err
		}
		cfg.LogLevel = level
	}
	if meta.IsDefined("output_file") {
		cfg.OutputFile = strings.TrimSpace(raw.OutputFile)
	}
	if meta.IsDefined("sample_name") {
		cfg.SampleName = strings.TrimSpace(raw.SampleName)
	}
	if meta.IsDefined("operator") {
		cfg.Operator = strings.TrimSpace(raw.Operator)
	}

	if err := Validate(cfg); err != nil {
		return Settings{}, err
	}

	return cfg, nil
}

// Validate checks the settings for values the engine would reject later.
func Validate(cfg Settings) error {
	if cfg.MaxVoltageLimit <= 0 || cfg.MaxVoltageLimit > instrument.MaxAbsVoltage {
		return fmt.Errorf("engine config: max_voltage_limit must be in (0, %g], got %g",
			instrument.MaxAbsVoltage, cfg.MaxVoltageLimit)
	}
	if cfg.HighVoltage < 0 {
		return fmt.Errorf("engine config: high_voltage_threshold must be >= 0, got %g", cfg.HighVoltage)
	}
	if cfg.MinHostDelay <= 0 {
		return fmt.Errorf("engine config: min_host_delay_ms must be positive")
	}
	if cfg.MinDeviceDelay <= 0 {
		return fmt.Errorf("engine config: min_device_delay_ms must be positive")
	}
	if strings.TrimSpace(cfg.Channel) == "" {
		return fmt.Errorf("engine config: channel is required")
	}

	return nil
}

// Options converts the settings into sweep engine options.
func (s Settings) Options() []sweep.Option {
	opts := []sweep.Option{
		sweep.WithMaxVoltageLimit(s.MaxVoltageLimit),
		sweep.WithHighVoltageThreshold(s.HighVoltage),
		sweep.WithMinHostDelay(s.MinHostDelay),
		sweep.WithMinDeviceDelay(s.MinDeviceDelay),
		sweep.WithChannel(s.Channel),
	}
	if s.FastDeviceLimit {
		opts = append(opts, sweep.WithFastDeviceLimit())
	}

	return opts
}

func parseLogLevel(raw string) (logger.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "warn", "warning":
		return logger.WarnLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("engine config: unknown log_level %q", raw)
	}
}
