// Package ratelimit provides per-category token buckets guarding the
// backend against operation floods. Each bucket refills lazily at check
// time and carries its own mutex, so categories never contend with one
// another.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation categories.
const (
	CategoryMutate     = "mutate"
	CategoryPull       = "pull"
	CategoryBackground = "background"
)

var (
	exceededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelproxy",
			Subsystem: "ratelimit",
			Name:      "exceeded_total",
			Help:      "Total requests denied by the rate limiter",
		},
		[]string{"category"},
	)

	remainingGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "modelproxy",
			Subsystem: "ratelimit",
			Name:      "remaining_tokens",
			Help:      "Tokens remaining per category bucket",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(exceededTotal, remainingGauge)
}

// Budget describes one bucket: capacity tokens refilled over window.
type Budget struct {
	Capacity int
	Window   time.Duration
}

// DefaultBudgets mirror the operation classes the engine mediates.
var DefaultBudgets = map[string]Budget{
	CategoryMutate:     {Capacity: 5, Window: 60 * time.Second},
	CategoryPull:       {Capacity: 2, Window: 300 * time.Second},
	CategoryBackground: {Capacity: 6, Window: 60 * time.Second},
}

type bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// Limiter holds one token bucket per operation category.
type Limiter struct {
	buckets map[string]*bucket
	now     func() time.Time
}

// New builds a Limiter from the given budgets. now may be nil.
func New(budgets map[string]Budget, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	l := &Limiter{buckets: make(map[string]*bucket, len(budgets)), now: now}
	start := now()
	for cat, b := range budgets {
		l.buckets[cat] = &bucket{
			capacity:   float64(b.Capacity),
			tokens:     float64(b.Capacity),
			refillRate: float64(b.Capacity) / b.Window.Seconds(),
			lastRefill: start,
		}
	}
	return l
}

// refillLocked credits tokens for elapsed time, clamped to capacity.
func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// Allow consumes one token from the category's bucket if available.
// Unknown categories are always allowed.
func (l *Limiter) Allow(category string) bool {
	b, ok := l.buckets[category]
	if !ok {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(l.now())
	if b.tokens >= 1 {
		b.tokens--
		remainingGauge.WithLabelValues(category).Set(float64(int(b.tokens)))
		return true
	}
	exceededTotal.WithLabelValues(category).Inc()
	remainingGauge.WithLabelValues(category).Set(0)
	return false
}

// Remaining reports whole tokens currently available for category.
func (l *Limiter) Remaining(category string) int {
	b, ok := l.buckets[category]
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(l.now())
	return int(b.tokens)
}

// Categories lists configured category names.
func (l *Limiter) Categories() []string {
	out := make([]string, 0, len(l.buckets))
	for cat := range l.buckets {
		out = append(out, cat)
	}
	return out
}
