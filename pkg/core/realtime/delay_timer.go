package realtime

import (
	"sync"
	"time"
)

// delayTimer is a cancelable one-shot timer. Restarting an armed timer
// replaces the pending fire. Used for the linger window after agent audio
// ends, and for fading out the displayed utterance.
type delayTimer struct {
	delay time.Duration

	mu     sync.Mutex
	active bool
	timer  *time.Timer
}

func newDelayTimer(delay time.Duration) *delayTimer {
	return &delayTimer{delay: delay}
}

// Start arms the timer; fn runs after the configured delay unless Cancel or
// another Start intervenes first.
func (d *delayTimer) Start(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.active = true
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if !d.active {
			d.mu.Unlock()
			return
		}
		d.active = false
		d.mu.Unlock()
		fn()
	})
}

// Cancel disarms the timer. A concurrent fire that has not yet run its
// callback is suppressed.
func (d *delayTimer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.active = false
}

// Active reports whether a fire is pending.
func (d *delayTimer) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}
