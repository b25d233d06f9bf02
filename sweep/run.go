package sweep

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voltlab/go-smu/internal/util"
)

// Run is the handle of a single measurement run. It is created by
// Controller.Start, owned by the controller for the run's duration, and
// becomes terminal exactly once.
type Run struct {
	id           uuid.UUID
	protocol     Protocol
	plan         *SegmentPlan
	mode         TimingMode
	fileDecision FileDecision

	ctx    context.Context
	cancel context.CancelFunc

	confirmOnce     sync.Once
	confirmCh       chan struct{}
	awaitingConfirm atomic.Bool

	samples chan Sample
	done    chan struct{}

	mu        sync.Mutex
	startedAt time.Time
	collected []Sample
	status    RunStatus
	err       error
}

func newRun(ctx context.Context, p Protocol, plan *SegmentPlan, opts runOptions) *Run {
	run := &Run{
		id:           uuid.New(),
		protocol:     p,
		plan:         plan,
		mode:         opts.mode,
		fileDecision: opts.fileDecision,
		confirmCh:    make(chan struct{}),
		samples:      make(chan Sample, plan.SampleCount()),
		done:         make(chan struct{}),
		collected:    make([]Sample, 0, plan.SampleCount()),
	}
	run.ctx, run.cancel = context.WithCancel(ctx)

	return run
}

// ID returns the run identifier.
func (r *Run) ID() uuid.UUID {
	return r.id
}

// Plan returns the compiled segment plan of the run.
func (r *Run) Plan() *SegmentPlan {
	return r.plan
}

// Mode returns the timing discipline of the run.
func (r *Run) Mode() TimingMode {
	return r.mode
}

// AwaitingConfirmation reports whether the run is suspended on the
// high-voltage confirmation gate.
func (r *Run) AwaitingConfirmation() bool {
	return r.awaitingConfirm.Load()
}

// Done returns a channel closed when the run becomes terminal.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run is terminal or the context is done, returning the
// final status.
func (r *Run) Wait(ctx context.Context) (RunStatus, error) {
	select {
	case <-r.done:
		return r.Result()
	case <-ctx.Done():
		return StatusFailed, ctx.Err()
	}
}

// Result returns the terminal status and error of the run. It is only
// meaningful after Done is closed.
func (r *Run) Result() (RunStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status, r.err
}

// Samples returns a snapshot of every sample emitted so far, in emission
// order. After completion this is the run's full measurement sequence.
func (r *Run) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	return util.CloneSlice(r.collected, 0)
}

// Info returns the run's identifying metadata.
func (r *Run) Info() RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RunInfo{
		ID:        r.id,
		Kind:      r.protocol.Kind(),
		Mode:      r.mode,
		Samples:   r.plan.SampleCount(),
		StartedAt: r.startedAt,
	}
}

func (r *Run) markStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.startedAt = time.Now()
}

func (r *Run) appendSample(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.collected = append(r.collected, s)
}

func (r *Run) setResult(status RunStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status = status
	r.err = err
}
