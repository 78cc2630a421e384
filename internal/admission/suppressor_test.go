package admission

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSuppressor_CoolDownWindow(t *testing.T) {
	s := NewSuppressor(5 * time.Second)
	t0 := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	allowed, wait := s.Admit("student_001", Entry, t0)
	if !allowed || wait != 0 {
		t.Fatalf("t=0: allowed=%v wait=%v; want allowed", allowed, wait)
	}

	allowed, wait = s.Admit("student_001", Entry, t0.Add(3*time.Second))
	if allowed {
		t.Fatal("t=3: expected rejection")
	}
	if wait != 2*time.Second {
		t.Errorf("t=3: retryAfter = %v; want 2s", wait)
	}

	allowed, _ = s.Admit("student_001", Entry, t0.Add(6*time.Second))
	if !allowed {
		t.Fatal("t=6: expected admission")
	}
}

func TestSuppressor_BoundaryIsInclusive(t *testing.T) {
	s := NewSuppressor(5 * time.Second)
	t0 := time.Unix(1000, 0)
	s.Admit("a", Exit, t0)
	if allowed, _ := s.Admit("a", Exit, t0.Add(5*time.Second)); !allowed {
		t.Error("event exactly one cool-down later should be admitted")
	}
}

func TestSuppressor_RejectionDoesNotExtendWindow(t *testing.T) {
	s := NewSuppressor(5 * time.Second)
	t0 := time.Unix(1000, 0)
	s.Admit("a", Entry, t0)
	s.Admit("a", Entry, t0.Add(4*time.Second))
	if allowed, _ := s.Admit("a", Entry, t0.Add(5*time.Second)); !allowed {
		t.Error("rejected attempts must not move the window")
	}
}

func TestSuppressor_KeysAreIndependent(t *testing.T) {
	s := NewSuppressor(time.Minute)
	now := time.Unix(1000, 0)

	s.Admit("a", Entry, now)
	if allowed, _ := s.Admit("a", Exit, now); !allowed {
		t.Error("exit direction should not be suppressed by entry ticket")
	}
	if allowed, _ := s.Admit("b", Entry, now); !allowed {
		t.Error("other subject should not be suppressed")
	}
}

func TestSuppressor_ForgetAndSweep(t *testing.T) {
	s := NewSuppressor(5 * time.Second)
	now := time.Unix(1000, 0)

	s.Admit("a", Entry, now)
	s.Admit("b", Entry, now.Add(4*time.Second))
	s.Forget("a", Entry)
	if allowed, _ := s.Admit("a", Entry, now.Add(time.Second)); !allowed {
		t.Error("forgotten ticket should admit immediately")
	}

	if removed := s.Sweep(now.Add(20 * time.Second)); removed != 2 {
		t.Errorf("Sweep removed %d; want 2", removed)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after sweep; want 0", s.Len())
	}
}

func TestSuppressor_ConcurrentAdmitsOneWinner(t *testing.T) {
	s := NewSuppressor(time.Hour)
	now := time.Unix(1000, 0)

	const workers = 64
	var admitted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if ok, _ := s.Admit("same", Entry, now); ok {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := admitted.Load(); got != 1 {
		t.Fatalf("admitted %d concurrent events; want exactly 1", got)
	}
}
