package sweep

import (
	"time"

	"github.com/google/uuid"
)

// Sample is one timestamped measurement. Samples are emitted in strictly
// increasing Index order with non-decreasing Elapsed, and are immutable once
// emitted.
type Sample struct {
	// Index is a dense 0-based counter matching emission order.
	Index int
	// Elapsed is the nominal time since the run's first applied voltage.
	Elapsed time.Duration
	Voltage float64
	Current float64
	// Cycle is the 1-based protocol cycle the sample belongs to.
	Cycle int
}

// RunStatus is the terminal outcome of a run.
type RunStatus uint8

const (
	// StatusCompleted means the plan ran to exhaustion.
	StatusCompleted RunStatus = iota
	// StatusAborted means the run was canceled by the operator or by the
	// logging collaborator's file decision.
	StatusAborted
	// StatusFailed means the run terminated on an error, typically a CommError.
	StatusFailed
)

// String returns string representation of the run status.
func (s RunStatus) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusAborted:
		return "aborted"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RunInfo identifies a run to observers.
type RunInfo struct {
	ID        uuid.UUID
	Kind      ProtocolKind
	Mode      TimingMode
	Samples   int
	StartedAt time.Time
}

// RunObserver receives run-boundary signals and every sample as it is
// produced. HandleSample is invoked from the run's dispatch goroutine; an
// observer that blocks longer than one sample interval delays delivery to the
// other observers, never the producer.
type RunObserver interface {
	RunStarted(info RunInfo)
	HandleSample(s Sample)
	RunFinished(info RunInfo, status RunStatus, err error)
}
