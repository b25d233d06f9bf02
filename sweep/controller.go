package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/voltlab/go-smu/instrument"
	"github.com/voltlab/go-smu/logger"
)

// Controller is the top-level sequence state machine. It owns the run
// lifecycle (Idle, Armed, Running, Finalizing), coordinates the interlock,
// the segment builder, and the timing driver, and holds exclusive logical
// ownership of the instrument for the duration of a run.
type Controller struct {
	cfg     *Config
	inst    instrument.Instrument
	log     logger.Logger
	state   *RunStateMgr
	taskMgr *TaskManager

	observers  *xsync.MapOf[uint64, RunObserver]
	observerID atomic.Uint64

	mu            sync.Mutex
	complianceSet bool
	complianceUA  float64
	lastApplied   float64
	run           *Run
}

// ErrInstrumentNil indicates that a nil Instrument was provided.
var ErrInstrumentNil = errors.New("instrument is nil")

// NewController creates a sequence controller bound to the given instrument.
// A nil cfg uses the default engine configuration.
func NewController(ctx context.Context, inst instrument.Instrument, cfg *Config) (*Controller, error) {
	if inst == nil {
		return nil, ErrInstrumentNil
	}
	if cfg == nil {
		var err error
		cfg, err = NewConfig()
		if err != nil {
			return nil, err
		}
	}

	c := &Controller{
		cfg:       cfg,
		inst:      inst,
		log:       cfg.Logger(),
		observers: xsync.NewMapOf[uint64, RunObserver](),
	}
	c.state = NewRunStateMgr(c.log)
	c.taskMgr = NewTaskManager(ctx, c.log)

	return c, nil
}

// State returns the current run lifecycle state.
func (c *Controller) State() RunState {
	return c.state.State()
}

// AddStateHandler registers handlers invoked on every run state transition.
func (c *Controller) AddStateHandler(handlers ...RunStateChangeHandler) {
	c.state.AddHandler(handlers...)
}

// WaitState blocks until the controller reaches the given state or the
// context is done.
func (c *Controller) WaitState(ctx context.Context, state RunState) error {
	return c.state.WaitState(ctx, state)
}

// AddObserver registers a run observer and returns its registration id.
func (c *Controller) AddObserver(obs RunObserver) uint64 {
	id := c.observerID.Add(1)
	c.observers.Store(id, obs)

	return id
}

// RemoveObserver removes the observer with the given registration id.
func (c *Controller) RemoveObserver(id uint64) {
	c.observers.Delete(id)
}

// InterlockState returns the engine's current view of the safety
// configuration.
func (c *Controller) InterlockState() InterlockState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.interlockStateLocked()
}

// SetCompliance applies a current compliance limit to the instrument and
// marks the interlock as satisfied. Rejected while a run is active.
func (c *Controller) SetCompliance(ua float64) error {
	if err := instrument.ValidateCompliance(ua); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil {
		return ErrRunInProgress
	}

	if err := c.inst.SetCompliance(ua); err != nil {
		return err
	}
	c.complianceSet = true
	c.complianceUA = ua
	c.log.Info("compliance applied", "compliance_ua", ua)

	return nil
}

// ApplyVoltage manually sources a single voltage outside of a run. It is
// subject to the same interlock rules as protocols.
func (c *Controller) ApplyVoltage(v float64) error {
	if err := instrument.ValidateVoltage(v); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil {
		return ErrRunInProgress
	}
	if math.Abs(v) > c.cfg.MaxVoltageLimit() {
		return fmt.Errorf("%w: %g V exceeds %g V", ErrVoltageExceedsLimit, v, c.cfg.MaxVoltageLimit())
	}
	if !c.complianceSet && v != 0 {
		return fmt.Errorf("%w: requested %g V", ErrComplianceNotSet, v)
	}

	if err := c.inst.ApplyVoltage(v); err != nil {
		return err
	}
	c.lastApplied = v
	c.log.Debug("voltage applied", "voltage", v)

	return nil
}

// ReadCurrent measures the channel current outside of a run.
func (c *Controller) ReadCurrent() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil {
		return 0, ErrRunInProgress
	}

	return c.inst.ReadCurrent()
}

// ForceZero manually drives the output to zero. Rejected while a run is
// active; the controller zeroes the output itself during finalization.
func (c *Controller) ForceZero() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil {
		return ErrRunInProgress
	}

	if err := c.inst.ForceZero(); err != nil {
		return err
	}
	c.lastApplied = 0

	return nil
}

// Start validates, compiles, and launches a run for the given protocol.
//
// Hard interlock failures and degenerate protocol parameters are reported
// synchronously and the controller stays Idle. When the interlock signals
// that operator confirmation is required, the returned run suspends in the
// armed state until Confirm or Stop is called; there is no timeout on that
// wait.
//
// Only one run may exist at a time; ErrRunInProgress is returned otherwise,
// without altering the active run.
func (c *Controller) Start(ctx context.Context, p Protocol, opts ...RunOption) (*Run, error) {
	options := runOptions{mode: HostPaced, fileDecision: FileOverwrite}
	for _, opt := range opts {
		opt(&options)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil || !c.state.State().IsIdle() {
		return nil, ErrRunInProgress
	}

	if minDelay := c.cfg.MinDelay(options.mode); seconds(protocolDwell(p)) < minDelay {
		return nil, fmt.Errorf("%w: delay must be at least %v in %v mode",
			ErrInvalidProtocolParameters, minDelay, options.mode)
	}

	advice, err := c.interlock().Validate(p, c.interlockStateLocked())
	if err != nil {
		c.log.Warn("interlock rejected run", "protocol", p.Kind(), "error", err)
		return nil, err
	}

	plan, err := BuildPlan(p)
	if err != nil {
		return nil, err
	}

	run := newRun(ctx, p, plan, options)
	if err := c.state.ToArmed(); err != nil {
		run.cancel()
		return nil, err
	}
	c.run = run

	c.log.Info("run armed",
		"run_id", run.id, "protocol", p.Kind(), "timing_mode", run.mode,
		"steps", plan.Len(), "samples", plan.SampleCount(), "advice", advice,
	)

	c.taskMgr.Start("run-"+run.id.String(), func() bool {
		c.executeRun(run, advice)
		return false
	})

	return run, nil
}

// Confirm resolves the high-voltage confirmation gate of the armed run. The
// interlock is re-checked once confirmed.
func (c *Controller) Confirm() error {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()

	if run == nil || !run.AwaitingConfirmation() {
		return ErrNotAwaitingConfirmation
	}

	run.confirmOnce.Do(func() { close(run.confirmCh) })

	return nil
}

// Stop requests cancellation of the active run. It returns immediately; the
// run observes the request at its next suspension point and transitions
// through Finalizing back to Idle. Stop is a no-op when no run is active.
func (c *Controller) Stop() {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()

	if run != nil {
		c.log.Info("stop requested", "run_id", run.id)
		run.cancel()
	}
}

// Close stops any active run and waits for the controller's goroutines to
// terminate. The controller must not be reused after Close.
func (c *Controller) Close() {
	c.Stop()
	c.taskMgr.Stop()
	c.taskMgr.Wait()
}

func (c *Controller) interlock() Interlock {
	return Interlock{HighVoltage: c.cfg.HighVoltage()}
}

func (c *Controller) interlockStateLocked() InterlockState {
	return InterlockState{
		ComplianceSet:      c.complianceSet,
		ComplianceValueUA:  c.complianceUA,
		MaxVoltageLimit:    c.cfg.MaxVoltageLimit(),
		LastAppliedVoltage: c.lastApplied,
	}
}

// executeRun drives a single run from armed to terminal. It runs on a managed
// task goroutine; every exit path finalizes the run exactly once.
func (c *Controller) executeRun(run *Run, advice Advice) {
	log := c.log.With("run_id", run.id)

	dispatchDone := make(chan struct{})
	c.taskMgr.StartSampler("dispatch-"+run.id.String(), func(s Sample) bool {
		run.appendSample(s)
		c.observers.Range(func(_ uint64, obs RunObserver) bool {
			obs.HandleSample(s)
			return true
		})
		return true
	}, run.samples, func() { close(dispatchDone) })

	status, err := c.runPhases(run, advice, log)

	close(run.samples)
	<-dispatchDone

	c.finalizeRun(run, status, err, log)
}

// runPhases walks the run through confirmation, the file decision gate, and
// plan execution, returning the terminal status.
func (c *Controller) runPhases(run *Run, advice Advice, log logger.Logger) (RunStatus, error) {
	if advice == AdviceConfirmationRequired {
		run.awaitingConfirm.Store(true)
		log.Info("run suspended awaiting high-voltage confirmation")

		select {
		case <-run.confirmCh:
			run.awaitingConfirm.Store(false)
			log.Info("high-voltage confirmation received")

			// re-check once confirmed; the interlock state may have changed
			// while suspended
			c.mu.Lock()
			st := c.interlockStateLocked()
			c.mu.Unlock()
			if _, err := c.interlock().Validate(run.protocol, st); err != nil {
				return StatusFailed, err
			}

		case <-run.ctx.Done():
			run.awaitingConfirm.Store(false)
			return StatusAborted, nil
		}
	}

	if run.fileDecision == FileAbort {
		log.Info("run aborted by file decision")
		return StatusAborted, ErrRunAbortedByFileDecision
	}

	if err := c.state.ToRunning(); err != nil {
		return StatusFailed, err
	}
	run.markStarted()

	info := run.Info()
	c.observers.Range(func(_ uint64, obs RunObserver) bool {
		obs.RunStarted(info)
		return true
	})

	driver := newDriver(run.mode, c.cfg)
	err := driver.Execute(run.ctx, run.plan, c.inst, func(s Sample) {
		// the channel is sized to the full plan, so the producer never blocks
		run.samples <- s
	})

	switch {
	case err == nil:
		return StatusCompleted, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusAborted, nil
	default:
		return StatusFailed, err
	}
}

// finalizeRun forces the output to zero, releases the run context, and
// reports the final status. Force-zero failures are logged, never escalated:
// the run is already terminal.
func (c *Controller) finalizeRun(run *Run, status RunStatus, err error, log logger.Logger) {
	if terr := c.state.ToFinalizing(); terr != nil {
		log.Error("unexpected state entering finalize", "state", c.state.State(), "error", terr)
	}

	if zerr := c.inst.ForceZero(); zerr != nil {
		log.Error("failed to force output to zero during finalize", "error", zerr)
	}

	run.setResult(status, err)

	info := run.Info()
	c.observers.Range(func(_ uint64, obs RunObserver) bool {
		obs.RunFinished(info, status, err)
		return true
	})

	c.mu.Lock()
	c.lastApplied = 0
	c.run = nil
	c.mu.Unlock()

	if terr := c.state.ToIdle(); terr != nil {
		log.Error("failed to return to idle", "error", terr)
	}
	close(run.done)

	log.Info("run finished", "status", status, "error", err, "samples", len(run.Samples()))
}
