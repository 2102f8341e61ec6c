// Package task manages the goroutines owned by a transport engine: datagram receive loops
// and periodic maintenance tasks.
package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-udt/logger"
)

// Func performs one iteration of a task. It returns true to keep running, or false to stop
// the goroutine.
type Func func() bool

// Manager manages the lifecycle of goroutines (tasks).
//
// The Manager uses a context.Context to manage the lifecycle of the goroutines. When Stop is
// called, all running goroutines are signaled to stop, and Wait blocks until they have
// terminated.
//
// Example Usage:
//
//	mgr := task.NewManager(ctx, logger)
//
//	mgr.Start("recv", func() bool {
//	    // ... read one datagram ...
//	    return true // keep running
//	})
//
//	mgr.StartInterval("update", tick, 10*time.Millisecond, false)
//
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	count   atomic.Int32
	tickers sync.Map // map[string]*time.Ticker
	mu      sync.Mutex
	stopped bool
}

// NewManager creates a new Manager with the given context as the parent context and logger.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context that is canceled when the manager stops.
func (mgr *Manager) Context() context.Context {
	return mgr.ctx
}

// Start starts a new goroutine that calls taskFunc repeatedly until it returns false or the
// manager stops.
func (mgr *Manager) Start(name string, taskFunc Func) error {
	mgr.logger.Debug("start task", "name", name)

	return mgr.spawn(name, func() {
		for {
			select {
			case <-mgr.ctx.Done():
				return
			default:
				if !mgr.callWithRecover(name, taskFunc) {
					return
				}
			}
		}
	})
}

// StartInterval starts a new goroutine that executes the given task function at the specified interval.
// If runNow is true, the task function is executed immediately before starting the interval.
// The function returns a *time.Ticker that can be used to adjust the interval.
func (mgr *Manager) StartInterval(name string, taskFunc Func, interval time.Duration, runNow bool) (*time.Ticker, error) {
	mgr.logger.Debug("start interval task", "name", name, "interval", interval, "runNow", runNow)

	if interval <= 0 {
		return nil, fmt.Errorf("invalid interval: %v", interval)
	}

	ticker := time.NewTicker(interval)
	if _, loaded := mgr.tickers.LoadOrStore(name, ticker); loaded {
		ticker.Stop()
		return nil, fmt.Errorf("interval task %s already exists", name)
	}

	cleanup := func() {
		ticker.Stop()
		mgr.tickers.Delete(name)
	}

	if runNow && !mgr.callWithRecover(name, taskFunc) {
		cleanup()
		return ticker, nil
	}

	err := mgr.spawn(name, func() {
		defer cleanup()

		for {
			select {
			case <-mgr.ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecover(name, taskFunc) {
					return
				}
			}
		}
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	return ticker, nil
}

// Stop signals all running goroutines. Tasks cannot be started afterwards.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	mgr.stopped = true
	mgr.tickers.Range(func(_, value any) bool {
		if ticker, ok := value.(*time.Ticker); ok {
			ticker.Stop()
		}

		return true
	})
	mgr.cancel()
}

// Wait waits for all goroutines to terminate.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()
}

// TaskCount returns the number of currently running goroutines.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) spawn(name string, body func()) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.stopped {
		return fmt.Errorf("task manager already stopped, can't start %s", name)
	}

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

	return nil
}

// callWithRecover calls a task iteration with panic protection. A panicking task stops.
func (mgr *Manager) callWithRecover(name string, fn Func) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			keep = false
		}
	}()

	return fn()
}
