package sweep

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voltlab/go-smu/instrument"
	"github.com/voltlab/go-smu/logger"
)

// FileDecision is the logging collaborator's choice for the output file, made
// once before a run starts executing.
type FileDecision uint8

const (
	// FileOverwrite truncates the output file and writes a fresh header.
	FileOverwrite FileDecision = iota
	// FileAppend appends the run to the existing file.
	FileAppend
	// FileAbort prevents the run from leaving the armed state.
	FileAbort
)

// String returns string representation of the file decision.
func (d FileDecision) String() string {
	switch d {
	case FileOverwrite:
		return "overwrite"
	case FileAppend:
		return "append"
	case FileAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// ErrConfigNil indicates that a nil Config was provided to an option.
var ErrConfigNil = errors.New("config is nil")

// Config holds the engine-level settings of a Controller: safety limits,
// minimum pacing delays per timing discipline, and the instrument channel name
// used for device-paced scripts.
type Config struct {
	mu sync.RWMutex

	// maxVoltageLimit bounds every protocol target voltage.
	maxVoltageLimit float64

	// highVoltage is the operator-confirmation threshold magnitude.
	highVoltage float64

	// minHostDelay is the smallest per-sample delay in host-paced mode,
	// protecting instrument settling from an over-eager host loop.
	minHostDelay time.Duration

	// minDeviceDelay is the smallest per-sample delay in device-paced mode.
	minDeviceDelay time.Duration

	// channel is the instrument channel referenced by compiled sweep scripts.
	channel string

	logger logger.Logger
}

// NewConfig creates an engine configuration with defaults matching the
// supported hardware envelope, then applies the provided options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		maxVoltageLimit: instrument.MaxAbsVoltage,
		highVoltage:     instrument.DefaultHighVoltage,
		minHostDelay:    10 * time.Millisecond,
		minDeviceDelay:  time.Millisecond,
		channel:         "smua",
		logger:          logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func (cfg *Config) MaxVoltageLimit() float64 {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.maxVoltageLimit
}

func (cfg *Config) HighVoltage() float64 {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.highVoltage
}

func (cfg *Config) MinHostDelay() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.minHostDelay
}

func (cfg *Config) MinDeviceDelay() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.minDeviceDelay
}

func (cfg *Config) Channel() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.channel
}

func (cfg *Config) Logger() logger.Logger {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.logger
}

// MinDelay returns the minimum per-sample delay for the given timing mode.
func (cfg *Config) MinDelay(mode TimingMode) time.Duration {
	if mode == DevicePaced {
		return cfg.MinDeviceDelay()
	}

	return cfg.MinHostDelay()
}

// Option represents a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithMaxVoltageLimit sets the hardware voltage limit applied to every
// protocol target. It must be positive and within the instrument envelope.
func WithMaxVoltageLimit(limit float64) Option {
	return newOptFunc("WithMaxVoltageLimit", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if limit <= 0 || limit > instrument.MaxAbsVoltage {
			return fmt.Errorf("voltage limit is out of range (0, %g]", instrument.MaxAbsVoltage)
		}
		cfg.maxVoltageLimit = limit

		return nil
	})
}

// WithHighVoltageThreshold sets the magnitude above which operator
// confirmation is required. Zero disables the advisory gate.
func WithHighVoltageThreshold(threshold float64) Option {
	return newOptFunc("WithHighVoltageThreshold", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if threshold < 0 {
			return errors.New("high voltage threshold must be >= 0")
		}
		cfg.highVoltage = threshold

		return nil
	})
}

// WithMinHostDelay sets the minimum per-sample delay for host-paced runs.
//
// The default is 10ms.
func WithMinHostDelay(d time.Duration) Option {
	return newOptFunc("WithMinHostDelay", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if d <= 0 {
			return errors.New("minimum host delay must be > 0")
		}
		cfg.minHostDelay = d

		return nil
	})
}

// WithMinDeviceDelay sets the minimum per-sample delay for device-paced runs.
//
// The default is 1ms.
func WithMinDeviceDelay(d time.Duration) Option {
	return newOptFunc("WithMinDeviceDelay", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if d <= 0 {
			return errors.New("minimum device delay must be > 0")
		}
		cfg.minDeviceDelay = d

		return nil
	})
}

// WithFastDeviceLimit unlocks the 500ns minimum delay for device-paced runs on
// instruments that support it.
func WithFastDeviceLimit() Option {
	return newOptFunc("WithFastDeviceLimit", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		cfg.minDeviceDelay = 500 * time.Nanosecond

		return nil
	})
}

// WithChannel sets the instrument channel name referenced by device-paced
// sweep scripts.
//
// The default is "smua".
func WithChannel(channel string) Option {
	return newOptFunc("WithChannel", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if channel == "" {
			return errors.New("channel must not be empty")
		}
		cfg.channel = channel

		return nil
	})
}

// WithLogger sets the logger instance for engine events.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}

// runOptions holds per-run settings resolved at arm time.
type runOptions struct {
	mode         TimingMode
	fileDecision FileDecision
}

// RunOption customizes a single run request.
type RunOption func(*runOptions)

// WithTimingMode selects the timing discipline for the run.
//
// The default is HostPaced.
func WithTimingMode(mode TimingMode) RunOption {
	return func(o *runOptions) {
		o.mode = mode
	}
}

// WithFileDecision carries the logging collaborator's append/overwrite/abort
// choice into the run context. FileAbort prevents the run from starting.
//
// The default is FileOverwrite.
func WithFileDecision(d FileDecision) RunOption {
	return func(o *runOptions) {
		o.fileDecision = d
	}
}
