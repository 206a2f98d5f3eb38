package lifecycle

import (
	"testing"
	"time"
)

func TestSchedulerFires(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, time.Hour)
	defer s.Stop()

	s.Schedule("a")

	select {
	case id := <-s.Fired():
		if id != "a" {
			t.Errorf("fired %q, want a", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	deadline := time.Now().Add(time.Second)
	for s.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("fired timer still registered, pending=%d", s.Pending())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSchedulerRescheduleReplaces(t *testing.T) {
	s := NewScheduler(30*time.Millisecond, time.Hour)
	defer s.Stop()

	s.Schedule("a")
	s.Schedule("a")
	if s.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", s.Pending())
	}

	<-s.Fired()
	select {
	case id := <-s.Fired():
		t.Errorf("replaced timer fired again for %q", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSchedulerStopCancelsEverything(t *testing.T) {
	s := NewScheduler(20*time.Millisecond, 5*time.Millisecond)
	for _, id := range []string{"a", "b", "c"} {
		s.Schedule(id)
	}
	s.Stop()
	s.Stop()

	if s.Pending() != 0 {
		t.Errorf("pending = %d after stop", s.Pending())
	}
	s.Schedule("d")
	if s.Pending() != 0 {
		t.Error("schedule after stop armed a timer")
	}

	select {
	case id := <-s.Fired():
		t.Errorf("timer %q fired after stop", id)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestSchedulerSweeps(t *testing.T) {
	s := NewScheduler(time.Hour, 5*time.Millisecond)
	defer s.Stop()

	select {
	case <-s.Sweeps():
	case <-time.After(time.Second):
		t.Fatal("sweep ticker never ticked")
	}
}

func TestSchedulerDefaults(t *testing.T) {
	s := NewScheduler(0, 0)
	defer s.Stop()

	if s.TTL() != DefaultTTL {
		t.Errorf("TTL() = %v, want %v", s.TTL(), DefaultTTL)
	}
	if s.SweepInterval() != DefaultSweep {
		t.Errorf("SweepInterval() = %v, want %v", s.SweepInterval(), DefaultSweep)
	}
}

func TestSchedulerTickerStartsLazily(t *testing.T) {
	s := NewScheduler(time.Hour, 5*time.Millisecond)
	if s.sweep != nil {
		t.Fatal("sweep ticker started before anyone asked for sweeps")
	}
	s.Stop()
	if s.sweep != nil {
		t.Error("Stop started a ticker")
	}
	if s.Sweeps() != nil {
		t.Error("Sweeps() after Stop should return a nil channel")
	}

	live := NewScheduler(time.Hour, 5*time.Millisecond)
	ch := live.Sweeps()
	if ch == nil || live.Sweeps() != ch {
		t.Error("Sweeps() should start one ticker and keep returning it")
	}
	live.Stop()
}
