package sweep

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/voltlab/go-smu/logger"
)

// TaskFunc represents a function that performs a task within a goroutine
// managed by the TaskManager. It should return true to continue running the
// task, or false to stop the goroutine.
type TaskFunc func() bool

// TaskSampleFunc processes one sample within a goroutine managed by the
// TaskManager. It should return true to continue processing, or false to stop
// the goroutine.
type TaskSampleFunc func(s Sample) bool

// TaskManager manages the lifecycle of the goroutines backing a measurement
// run: the executing driver task and the sample dispatch task. It uses a
// context to signal termination and a WaitGroup to wait for goroutines to
// finish, with panic protection around task bodies.
type TaskManager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protect ctx and cancel
}

// NewTaskManager creates a new TaskManager with the given parent context and logger.
func NewTaskManager(ctx context.Context, l logger.Logger) *TaskManager {
	mgr := &TaskManager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// getContext safely returns the current context.
func (mgr *TaskManager) getContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start starts a new goroutine with the given name and task function.
//
// The taskFunc should return true to continue running, or false to stop the
// goroutine.
func (mgr *TaskManager) Start(name string, taskFunc TaskFunc) {
	mgr.logger.Debug("start task", "name", name)

	mgr.startTask(name, func() {
		for {
			ctx := mgr.getContext()
			select {
			case <-ctx.Done():
				return
			default:
				if !mgr.callWithRecover(name, taskFunc) {
					return
				}
			}
		}
	})
}

// StartSampler starts a new goroutine that consumes samples from the given
// channel until the channel closes, the task function returns false, or the
// manager stops. The cancelFunc, if non-nil, runs when the goroutine exits.
func (mgr *TaskManager) StartSampler(name string, taskFunc TaskSampleFunc, input <-chan Sample, cancelFunc func()) {
	mgr.logger.Debug("start sampler task", "name", name)

	mgr.startTask(name, func() {
		if cancelFunc != nil {
			defer cancelFunc()
		}

		for {
			ctx := mgr.getContext()
			select {
			case <-ctx.Done():
				return
			case s, ok := <-input:
				if !ok {
					mgr.logger.Debug("sample channel closed", "name", name)
					return
				}
				if !mgr.callWithRecover(name, func() bool { return taskFunc(s) }) {
					return
				}
			}
		}
	})
}

// Stop signals all running goroutines to terminate.
func (mgr *TaskManager) Stop() {
	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all goroutines to terminate and re-arms the manager for the
// next run.
func (mgr *TaskManager) Wait() {
	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// TaskCount returns the number of currently running goroutines.
func (mgr *TaskManager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *TaskManager) startTask(name string, body func()) {
	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer func() {
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.TaskCount())
		}()

		body()
	}()
}

// callWithRecover calls a task function with panic protection.
func (mgr *TaskManager) callWithRecover(name string, fn func() bool) bool {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	return fn()
}
