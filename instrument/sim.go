package instrument

import (
	"errors"
	"sync"
)

// Sim is a deterministic in-memory Instrument modeling a plain resistive
// device under test. It is used by the CLI, the runnable example and tests.
type Sim struct {
	mu           sync.Mutex
	resistance   float64
	applied      float64
	complianceUA float64
	outputOn     bool
	script       *Script
	zeroCalls    int
}

var _ Instrument = (*Sim)(nil)

// ErrNoScript indicates a FetchBuffer call without a prior RunScript.
var ErrNoScript = errors.New("no sweep script has been executed")

// NewSim creates a simulated instrument with the given device resistance in
// ohms. Non-positive values fall back to 1 MOhm.
func NewSim(resistance float64) *Sim {
	if resistance <= 0 {
		resistance = 1e6
	}

	return &Sim{resistance: resistance}
}

func (s *Sim) ApplyVoltage(v float64) error {
	if err := ValidateVoltage(v); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = v
	s.outputOn = true

	return nil
}

func (s *Sim) ReadCurrent() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.outputOn {
		return 0, nil
	}

	return s.applied / s.resistance, nil
}

func (s *Sim) SetCompliance(ua float64) error {
	if err := ValidateCompliance(ua); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.complianceUA = ua

	return nil
}

// RunScript executes the structured point list immediately; the simulated
// device has no timing fidelity to preserve, so dwells only advance the
// reported elapsed time.
func (s *Sim) RunScript(script *Script) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.script = script
	s.outputOn = true
	if n := len(script.Points); n > 0 {
		s.applied = script.Points[n-1].Voltage
	}

	return nil
}

func (s *Sim) FetchBuffer() ([]BufferRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.script == nil {
		return nil, ErrNoScript
	}

	rows := make([]BufferRow, 0, len(s.script.Points))
	elapsed := 0.0
	for _, p := range s.script.Points {
		elapsed += p.Dwell
		rows = append(rows, BufferRow{T: elapsed, V: p.Voltage, I: p.Voltage / s.resistance})
	}

	return rows, nil
}

func (s *Sim) ForceZero() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applied = 0
	s.outputOn = false
	s.zeroCalls++

	return nil
}

// Applied returns the currently sourced voltage.
func (s *Sim) Applied() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applied
}

// OutputOn reports whether the simulated output is enabled.
func (s *Sim) OutputOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.outputOn
}

// ZeroCalls returns how many times ForceZero has been invoked.
func (s *Sim) ZeroCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.zeroCalls
}
