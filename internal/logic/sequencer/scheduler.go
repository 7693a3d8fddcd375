package sequencer

import (
	"sync"
	"time"
)

// Timer is a cancellable scheduled task.
type Timer interface {
	// Stop prevents the task from running again. It reports whether the
	// call stopped a pending run.
	Stop() bool
}

// Scheduler runs continuations after a delay or at a fixed rate.
// Callbacks run on scheduler-owned goroutines.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Every(d time.Duration, f func()) Timer
	Now() time.Time
}

// ClockScheduler is the wall-clock Scheduler.
type ClockScheduler struct{}

func (ClockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (ClockScheduler) Every(d time.Duration, f func()) Timer {
	t := &ticker{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go t.loop(f)
	return t
}

func (ClockScheduler) Now() time.Time { return time.Now() }

type ticker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *ticker) loop(f func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			// Stop may race with a tick already delivered.
			select {
			case <-t.done:
				return
			default:
			}
			f()
		}
	}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
		stopped = true
	})
	return stopped
}
