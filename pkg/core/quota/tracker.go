package quota

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultBudget is the free daily allowance.
	DefaultBudget = 5 * time.Minute

	// DefaultTickInterval is how often elapsed time is accrued.
	DefaultTickInterval = time.Second

	// DefaultPersistEvery is how many ticks pass between writes. Crashing
	// mid-session loses at most this many ticks of usage.
	DefaultPersistEvery = 5
)

// TrackerConfig configures a Tracker. Zero values fall back to the package
// defaults.
type TrackerConfig struct {
	Budget       time.Duration
	TickInterval time.Duration
	PersistEvery int

	// OnLimitReached fires once per Start when the budget runs out, from
	// the tracker's own goroutine.
	OnLimitReached func()

	// OnTick fires after every accrual with the remaining budget, for
	// countdown displays.
	OnTick func(remaining time.Duration)

	// Now is the clock; nil means time.Now. Accounting is wall-clock on
	// purpose, matching the calendar-day reset.
	Now func() time.Time

	Logger *slog.Logger
}

// Tracker accrues session time against the daily budget. While tracking,
// usage is baseline plus wall-clock time since Start, re-derived on every
// tick rather than accumulated, so a delayed tick never undercounts.
type Tracker struct {
	store  *Store
	cfg    TrackerConfig
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	baseline  time.Duration
	startedAt time.Time
	used      time.Duration
	limit     bool
	running   bool
	ticks     int
	stop      chan struct{}
	done      chan struct{}
}

// NewTracker creates a tracker over store.
func NewTracker(store *Store, cfg TrackerConfig) *Tracker {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.PersistEvery <= 0 {
		cfg.PersistEvery = DefaultPersistEvery
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, cfg: cfg, now: now, logger: logger}
}

// Start re-baselines from the store and begins accruing. Calling Start
// while already tracking tears the old loop down first, so overlapping
// sessions never double-count. If the budget is already spent no loop
// starts and OnLimitReached fires immediately.
func (t *Tracker) Start() {
	t.stopLoop()

	used := t.store.Load()

	t.mu.Lock()
	t.baseline = used
	t.startedAt = t.now()
	t.used = used
	t.ticks = 0
	t.limit = used >= t.cfg.Budget
	limited := t.limit
	if !limited {
		t.stop = make(chan struct{})
		t.done = make(chan struct{})
		t.running = true
		go t.loop(t.stop, t.done)
	}
	t.mu.Unlock()

	if limited {
		t.logger.Info("daily budget already spent", "used", used)
		if t.cfg.OnLimitReached != nil {
			t.cfg.OnLimitReached()
		}
	}
}

// Stop halts accrual and persists the final figure synchronously. A Stop
// with no tracking in progress is a no-op.
func (t *Tracker) Stop() {
	if !t.stopLoop() {
		return
	}
	t.mu.Lock()
	t.accrueLocked()
	t.mu.Unlock()
	t.persist()
}

// accrueLocked re-derives usage from the wall clock, never decreasing it
// so a clock step backwards cannot shrink the persisted figure.
func (t *Tracker) accrueLocked() {
	used := t.baseline + t.now().Sub(t.startedAt)
	if used > t.used {
		t.used = used
	}
}

// Remaining returns the unspent budget, never negative.
func (t *Tracker) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	rem := t.cfg.Budget - t.used
	if rem < 0 {
		return 0
	}
	return rem
}

// PersistedUsed reads today's usage straight from the store, bypassing
// in-memory accrual. Useful for gating a session before Start.
func (t *Tracker) PersistedUsed() time.Duration {
	return t.store.Load()
}

// Used returns today's accrued time.
func (t *Tracker) Used() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

// Budget returns the configured daily allowance.
func (t *Tracker) Budget() time.Duration {
	return t.cfg.Budget
}

// LimitReached reports whether the budget is spent.
func (t *Tracker) LimitReached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit
}

// FormatRemaining renders the remaining budget as m:ss, flooring partial
// seconds. 65 seconds renders as "1:05"; a spent budget renders as "0:00".
func (t *Tracker) FormatRemaining() string {
	return Format(t.Remaining())
}

// Format renders a non-negative duration as m:ss, flooring partial
// seconds.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// stopLoop tears down a running loop and waits for it to exit. Reports
// whether a loop was actually running.
func (t *Tracker) stopLoop() bool {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return false
	}
	t.running = false
	stop, done := t.stop, t.done
	t.mu.Unlock()

	close(stop)
	<-done
	return true
}

func (t *Tracker) loop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			t.accrueLocked()
			t.ticks++
			persistDue := t.ticks%t.cfg.PersistEvery == 0
			remaining := t.cfg.Budget - t.used
			limited := remaining <= 0
			if limited {
				remaining = 0
				t.limit = true
				t.running = false
			}
			t.mu.Unlock()

			if t.cfg.OnTick != nil {
				t.cfg.OnTick(remaining)
			}
			if limited {
				t.persist()
				t.logger.Info("daily budget exhausted")
				if t.cfg.OnLimitReached != nil {
					t.cfg.OnLimitReached()
				}
				return
			}
			if persistDue {
				t.persist()
			}
		}
	}
}

// persist writes the current figure, logging failures instead of surfacing
// them. Losing a write costs at most a few ticks of accounting.
func (t *Tracker) persist() {
	t.mu.Lock()
	used := t.used
	t.mu.Unlock()

	if err := t.store.Save(used); err != nil {
		t.logger.Warn("persisting usage", "error", err)
	}
}
