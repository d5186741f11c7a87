package relay

import "time"

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f on the relay goroutine once d has elapsed.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// loopScheduler re-posts timer callbacks onto the relay task queue so that
// every state mutation happens on the relay goroutine.
type loopScheduler struct {
	tasks chan<- func()
	done  <-chan struct{}
}

func (s loopScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, func() {
		select {
		case s.tasks <- f:
		case <-s.done:
		}
	})
}
