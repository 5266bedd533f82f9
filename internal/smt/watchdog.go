package smt

import (
	"context"
	"time"
)

// Watchdog interrupts a running check once its timeout expires or its
// context is canceled.
type Watchdog struct {
	done     chan struct{}
	finished chan struct{}
	reason   string
}

// Watch starts a watchdog that calls stop at most once. A zero timeout
// never expires.
func Watch(ctx context.Context, timeout time.Duration, stop func()) *Watchdog {
	w := &Watchdog{done: make(chan struct{}), finished: make(chan struct{})}
	go func() {
		defer close(w.finished)
		var expired <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			expired = timer.C
		}
		select {
		case <-w.done:
			return
		case <-expired:
			w.reason = "timeout"
		case <-ctx.Done():
			w.reason = "canceled"
		}
		stop()
	}()
	return w
}

// Done disarms the watchdog and returns why it fired, "" if it did not.
// Once Done returns, stop has either returned or will never be called, so
// the caller may release what stop touches.
func (w *Watchdog) Done() string {
	close(w.done)
	<-w.finished
	return w.reason
}
