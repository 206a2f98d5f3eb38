package lifecycle

import (
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a message stays on screen.
	DefaultTTL = 90 * time.Second
	// DefaultSweep is the cadence of dead-prefix sweeps.
	DefaultSweep = 10 * time.Second
)

// Scheduler owns the per-record TTL timers and the periodic sweep ticker.
//
// Timers never touch the queue themselves: a fired TTL is delivered as an ID on
// Fired() and the owning loop applies it. After Stop, pending timers are
// cancelled and timer goroutines that already started give up instead of
// blocking.
type Scheduler struct {
	ttl        time.Duration
	sweepEvery time.Duration
	fired      chan string
	stop       chan struct{}

	mu      sync.Mutex
	timers  map[string]*time.Timer
	sweep   *time.Ticker // started by the first Sweeps call
	stopped bool
}

// NewScheduler creates a scheduler. The TTL is fixed for the lifetime of the
// scheduler; non-positive durations fall back to the defaults.
func NewScheduler(ttl, sweepEvery time.Duration) *Scheduler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepEvery <= 0 {
		sweepEvery = DefaultSweep
	}
	return &Scheduler{
		ttl:        ttl,
		sweepEvery: sweepEvery,
		fired:      make(chan string),
		stop:       make(chan struct{}),
		timers:     make(map[string]*time.Timer),
	}
}

// TTL returns the duration every scheduled record lives for.
func (s *Scheduler) TTL() time.Duration { return s.ttl }

// Schedule arms the TTL timer for id, replacing any timer already armed for
// the same id.
func (s *Scheduler) Schedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(s.ttl, func() {
		select {
		case s.fired <- id:
		case <-s.stop:
			return
		}
		s.mu.Lock()
		if s.timers[id] == t {
			delete(s.timers, id)
		}
		s.mu.Unlock()
	})
	s.timers[id] = t
}

// Fired delivers the IDs of records whose TTL has elapsed.
func (s *Scheduler) Fired() <-chan string { return s.fired }

// SweepInterval returns the sweep cadence.
func (s *Scheduler) SweepInterval() time.Duration { return s.sweepEvery }

// Sweeps ticks at the sweep cadence. The ticker starts on the first call, so
// a scheduler whose owner never runs holds no ticker. After Stop it returns a
// nil channel.
func (s *Scheduler) Sweeps() <-chan time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	if s.sweep == nil {
		s.sweep = time.NewTicker(s.sweepEvery)
	}
	return s.sweep.C
}

// Pending returns the number of armed TTL timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every outstanding timer and the sweep ticker. It is safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stop)
	if s.sweep != nil {
		s.sweep.Stop()
	}
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
