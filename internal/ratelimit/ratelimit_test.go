package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct{ cur time.Time }

func (c *fakeClock) now() time.Time          { return c.cur }
func (c *fakeClock) advance(d time.Duration) { c.cur = c.cur.Add(d) }

func newLimiter(capacity int, window time.Duration) (*Limiter, *fakeClock) {
	clk := &fakeClock{cur: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(map[string]Budget{"test": {Capacity: capacity, Window: window}}, clk.now)
	return l, clk
}

func TestAllowExactCapacity(t *testing.T) {
	l, _ := newLimiter(5, time.Minute)
	for i := 0; i < 5; i++ {
		if !l.Allow("test") {
			t.Fatalf("call %d unexpectedly denied", i+1)
		}
	}
	if l.Allow("test") {
		t.Fatalf("call 6 unexpectedly allowed")
	}
}

func TestLazyRefillGrantsOneToken(t *testing.T) {
	l, clk := newLimiter(5, time.Minute)
	for i := 0; i < 5; i++ {
		l.Allow("test")
	}
	if l.Allow("test") {
		t.Fatalf("bucket should be empty")
	}
	// 5 tokens / 60s => one token every 12s
	clk.advance(12 * time.Second)
	if !l.Allow("test") {
		t.Fatalf("expected exactly one token after 1/rate elapsed")
	}
	if l.Allow("test") {
		t.Fatalf("expected only one token after 1/rate elapsed")
	}
}

func TestRefillClampedToCapacity(t *testing.T) {
	l, clk := newLimiter(2, time.Minute)
	clk.advance(24 * time.Hour)
	if got := l.Remaining("test"); got != 2 {
		t.Fatalf("expected clamp to capacity 2, got %d", got)
	}
}

func TestRemainingCountsDown(t *testing.T) {
	l, _ := newLimiter(3, time.Minute)
	if got := l.Remaining("test"); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	l.Allow("test")
	if got := l.Remaining("test"); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestUnknownCategoryAllowed(t *testing.T) {
	l, _ := newLimiter(1, time.Minute)
	if !l.Allow("nope") {
		t.Fatalf("unknown category should be allowed")
	}
	if got := l.Remaining("nope"); got != 0 {
		t.Fatalf("unknown category remaining should be 0, got %d", got)
	}
}

func TestCategoriesIndependent(t *testing.T) {
	clk := &fakeClock{cur: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(map[string]Budget{
		"a": {Capacity: 1, Window: time.Minute},
		"b": {Capacity: 1, Window: time.Minute},
	}, clk.now)
	if !l.Allow("a") {
		t.Fatalf("a should be allowed")
	}
	if l.Allow("a") {
		t.Fatalf("a should be exhausted")
	}
	if !l.Allow("b") {
		t.Fatalf("exhausting a must not affect b")
	}
}

func TestDefaultBudgets(t *testing.T) {
	if b := DefaultBudgets[CategoryMutate]; b.Capacity != 5 || b.Window != 60*time.Second {
		t.Fatalf("unexpected mutate budget: %+v", b)
	}
	if b := DefaultBudgets[CategoryPull]; b.Capacity != 2 || b.Window != 300*time.Second {
		t.Fatalf("unexpected pull budget: %+v", b)
	}
}
