package ratelimit

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestAdmit_FixedWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewWithClock(Policy{Max: 20, Window: 60 * time.Second}, clock.Now)

	for i := 0; i < 20; i++ {
		if !l.Admit("10.0.0.1") {
			t.Fatalf("call %d rejected, want admitted", i+1)
		}
	}
	if l.Admit("10.0.0.1") {
		t.Fatalf("21st call admitted, want rejected")
	}
	rec, _ := l.Lookup("10.0.0.1")
	if rec.Count != 20 {
		t.Fatalf("count=%d after rejection want=20", rec.Count)
	}

	clock.Advance(61 * time.Second)
	if !l.Admit("10.0.0.1") {
		t.Fatalf("call after window rejected")
	}
	rec, _ = l.Lookup("10.0.0.1")
	if rec.Count != 1 {
		t.Fatalf("count=%d after reset want=1", rec.Count)
	}
}

func TestAdmit_WindowBoundaryIsExclusive(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := NewWithClock(Policy{Max: 1, Window: time.Minute}, clock.Now)

	if !l.Admit("a") {
		t.Fatalf("first call rejected")
	}
	clock.Advance(time.Minute)
	if l.Admit("a") {
		t.Fatalf("call exactly at reset time admitted; the window resets only once it is exceeded")
	}
	clock.Advance(time.Millisecond)
	if !l.Admit("a") {
		t.Fatalf("call after reset time rejected")
	}
}

func TestAdmit_KeysAreIndependent(t *testing.T) {
	l := New(Policy{Max: 1, Window: time.Minute})
	if !l.Admit("a") || !l.Admit("b") {
		t.Fatalf("distinct clients must have distinct budgets")
	}
	if l.Admit("a") {
		t.Fatalf("second call for a admitted")
	}
}

func TestAdmit_Concurrent(t *testing.T) {
	l := New(Policy{Max: 50, Window: time.Hour})
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit("shared") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if admitted != 50 {
		t.Fatalf("admitted=%d want=50", admitted)
	}
}

func TestPrune(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := NewWithClock(Policy{Max: 5, Window: time.Minute}, clock.Now)
	l.Admit("old")
	clock.Advance(45 * time.Second)
	l.Admit("new")
	clock.Advance(30 * time.Second)

	if n := l.Prune(); n != 1 {
		t.Fatalf("pruned=%d want=1", n)
	}
	if _, ok := l.Lookup("old"); ok {
		t.Fatalf("expired record kept")
	}
	if _, ok := l.Lookup("new"); !ok {
		t.Fatalf("live record pruned")
	}
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/bot", nil)
	r.RemoteAddr = "192.0.2.7:51234"
	if got := ClientKey(r); got != "192.0.2.7" {
		t.Fatalf("remote addr key=%q", got)
	}

	r.Header.Set("X-Real-IP", "198.51.100.2")
	if got := ClientKey(r); got != "198.51.100.2" {
		t.Fatalf("x-real-ip key=%q", got)
	}

	r.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	if got := ClientKey(r); got != "203.0.113.9" {
		t.Fatalf("x-forwarded-for key=%q", got)
	}
}

func TestRetryAfter(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := NewWithClock(Policy{Max: 1, Window: time.Minute}, clock.Now)

	if got := l.RetryAfter("a"); got != 0 {
		t.Fatalf("unknown client got=%v want=0", got)
	}
	l.Admit("a")
	clock.Advance(15 * time.Second)
	if got := l.RetryAfter("a"); got != 45*time.Second {
		t.Fatalf("got=%v want=45s", got)
	}
	clock.Advance(time.Minute)
	if got := l.RetryAfter("a"); got != 0 {
		t.Fatalf("expired got=%v want=0", got)
	}
}
