package sweep

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/voltlab/go-smu/logger"
)

// RunState represents the lifecycle stage of the sequence controller.
type RunState uint32

const (
	// IdleState indicates that no run context exists.
	IdleState RunState = iota
	// ArmedState indicates that the interlock passed and the run is waiting
	// for confirmation or about to start executing.
	ArmedState
	// RunningState indicates that the timing driver is executing the plan.
	RunningState
	// FinalizingState indicates that the run is terminal and the controller is
	// forcing the output to zero and releasing the run context.
	FinalizingState
)

// IsIdle returns if the current state is idle.
func (rs RunState) IsIdle() bool { return rs == IdleState }

// IsArmed returns if the current state is armed.
func (rs RunState) IsArmed() bool { return rs == ArmedState }

// IsRunning returns if the current state is running.
func (rs RunState) IsRunning() bool { return rs == RunningState }

// IsFinalizing returns if the current state is finalizing.
func (rs RunState) IsFinalizing() bool { return rs == FinalizingState }

// String returns string representation of the current state.
func (rs RunState) String() string {
	switch rs {
	case IdleState:
		return "idle"
	case ArmedState:
		return "armed"
	case RunningState:
		return "running"
	case FinalizingState:
		return "finalizing"
	default:
		return "unknown"
	}
}

// RunStateChangeHandler is invoked when the run state changes.
//
// Note: the handler is invoked in a blocking mode. Take care with long-running
// implementations.
type RunStateChangeHandler func(prevState RunState, newState RunState)

// RunStateMgr manages the run lifecycle state machine of the sequence
// controller. State transitions are safe for concurrent use, and waiters can
// block until a desired state is reached.
type RunStateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []RunStateChangeHandler
}

// NewRunStateMgr creates a RunStateMgr initialized to IdleState.
//
// It accepts optional RunStateChangeHandler functions that will be invoked
// when the run state changes.
func NewRunStateMgr(l logger.Logger, handlers ...RunStateChangeHandler) *RunStateMgr {
	mgr := &RunStateMgr{
		handlers: make([]RunStateChangeHandler, 0, len(handlers)),
	}
	mgr.handlers = append(mgr.handlers, handlers...)

	if l == nil {
		l = logger.GetLogger()
	}
	mgr.logger = l

	mgr.state.Store(uint32(IdleState))
	mgr.cond = sync.NewCond(&mgr.mu)

	return mgr
}

// State returns the current run state.
func (mgr *RunStateMgr) State() RunState {
	return RunState(mgr.state.Load())
}

// AddHandler adds one or more RunStateChangeHandler functions to be invoked on
// state changes.
func (mgr *RunStateMgr) AddHandler(handlers ...RunStateChangeHandler) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.handlers = append(mgr.handlers, handlers...)
}

// WaitState waits for the run state to reach the specified state or until the
// context is done. It returns nil if the desired state is reached, or the
// context error otherwise.
func (mgr *RunStateMgr) WaitState(ctx context.Context, state RunState) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		mgr.cond.Broadcast()
	})
	defer stopFunc()

	for mgr.State() != state {
		select {
		case <-ctx.Done():
			mgr.logger.Debug("wait run state canceled", "cur_state", mgr.State(), "desired_state", state)
			return ctx.Err()
		default:
			mgr.cond.Wait()
		}
	}

	return nil
}

// ToArmed transitions to ArmedState. Only allowed from IdleState.
func (mgr *RunStateMgr) ToArmed() error {
	return mgr.transition(ArmedState, IdleState)
}

// ToRunning transitions to RunningState. Only allowed from ArmedState.
func (mgr *RunStateMgr) ToRunning() error {
	return mgr.transition(RunningState, ArmedState)
}

// ToFinalizing transitions to FinalizingState. Allowed from ArmedState (abort
// before execution) and RunningState (completion, cancellation, or failure).
func (mgr *RunStateMgr) ToFinalizing() error {
	return mgr.transition(FinalizingState, ArmedState, RunningState)
}

// ToIdle transitions to IdleState. Only allowed from FinalizingState.
// If the state is already IdleState, the function is a no-op.
func (mgr *RunStateMgr) ToIdle() error {
	if mgr.State().IsIdle() {
		return nil
	}

	return mgr.transition(IdleState, FinalizingState)
}

func (mgr *RunStateMgr) transition(newState RunState, allowedFrom ...RunState) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	curState := mgr.State()
	if curState == newState {
		return nil // no-op
	}

	allowed := false
	for _, from := range allowedFrom {
		if curState == from {
			allowed = true
			break
		}
	}
	if !allowed {
		mgr.logger.Debug("rejected run state transition", "cur_state", curState, "new_state", newState)
		return ErrInvalidRunTransition
	}

	mgr.invokeHandlers(curState, newState)
	// change state after all handlers finished
	mgr.setState(newState)

	return nil
}

// setState atomically sets the current state and wakes any waiting goroutines.
func (mgr *RunStateMgr) setState(newState RunState) {
	mgr.state.Store(uint32(newState))
	mgr.cond.Broadcast()
}

func (mgr *RunStateMgr) invokeHandlers(prevState RunState, newState RunState) {
	for _, handler := range mgr.handlers {
		if handler != nil {
			handler(prevState, newState)
		}
	}
}
