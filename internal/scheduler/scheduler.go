// Package scheduler runs named repeating background tasks. Each task runs
// its function once immediately, then again every period until it is
// cancelled or the function returns an error. An error stops that task
// only; the caller decides whether it matters beyond the loop.
package scheduler

import (
	"log/slog"
	"sync"
	"time"
)

type Task struct {
	name string
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Start launches the task loop. Cancellation takes effect mid-sleep, not
// at the next full period.
func Start(name string, period time.Duration, fn func() error) *Task {
	t := &Task{
		name: name,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go t.run(period, fn)
	return t
}

func (t *Task) run(period time.Duration, fn func() error) {
	defer close(t.done)
	timer := time.NewTimer(period)
	defer timer.Stop()
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		if err := fn(); err != nil {
			slog.Warn("task stopped", "task", t.name, "error", err)
			return
		}
		select {
		case <-t.stop:
			return
		case <-timer.C:
			timer.Reset(period)
		}
	}
}

// Cancel requests the loop to stop. It does not wait for an in-flight run
// to finish; use Done for that. Safe to call repeatedly.
func (t *Task) Cancel() {
	t.once.Do(func() {
		close(t.stop)
	})
}

// Done is closed once the loop has fully exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) Name() string {
	return t.name
}
