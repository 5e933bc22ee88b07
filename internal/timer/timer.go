package timer

import (
	"log"
	"sync"
	"time"
)

// Timer is the session countdown. It is seeded once, ticks down to zero and
// fires its expiry callback exactly once.
type Timer struct {
	interval time.Duration
	onTick   func(remaining int)
	onExpire func()

	mu        sync.Mutex
	seeded    bool
	remaining int
	fired     bool
	stopped   bool
	stop      chan struct{}
}

// Option configures a Timer.
type Option func(*Timer)

// WithInterval sets the tick interval. The default is one second.
func WithInterval(d time.Duration) Option {
	return func(t *Timer) { t.interval = d }
}

// WithTick registers a callback run after every decrement.
func WithTick(fn func(remaining int)) Option {
	return func(t *Timer) { t.onTick = fn }
}

// New creates a timer that calls onExpire when the countdown reaches zero.
func New(onExpire func(), opts ...Option) *Timer {
	t := &Timer{
		interval: time.Second,
		onExpire: onExpire,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Seed starts the countdown from seconds. Only the first call has any effect.
func (t *Timer) Seed(seconds int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seeded || t.stopped || seconds <= 0 {
		return false
	}
	t.seeded = true
	t.remaining = seconds
	log.Printf("[timer] seeded with %ds", seconds)
	go t.run()
	return true
}

func (t *Timer) run() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if done := t.tick(); done {
				return
			}
		}
	}
}

// tick decrements once and reports whether the countdown is over.
func (t *Timer) tick() bool {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return true
	}
	if t.remaining > 0 {
		t.remaining--
	}
	remaining := t.remaining
	expire := remaining == 0 && !t.fired
	if expire {
		t.fired = true
	}
	onTick := t.onTick
	t.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if expire {
		log.Printf("[timer] time is up")
		if t.onExpire != nil {
			t.onExpire()
		}
	}
	return remaining == 0
}

// Remaining returns the seconds left. ok is false until the timer is seeded
// and again after it has been stopped.
func (t *Timer) Remaining() (seconds int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.seeded || t.stopped {
		return 0, false
	}
	return t.remaining, true
}

// Stop cancels the countdown. It is idempotent and may be called from the
// expiry callback.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.stop)
}
