// Package scheduler runs the single background loop that keeps the cache
// warm. One goroutine multiplexes several cadences; a failing cadence
// backs off on its own without disturbing the others, and the loop itself
// never stops on fetch errors.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"modelproxy/internal/cache"
)

// maxBackoffShift caps a cadence's effective interval at 16x base.
const maxBackoffShift = 4

// DefaultTick is the loop resolution; cadences cannot fire more often.
const DefaultTick = 2 * time.Second

var refreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "modelproxy",
		Subsystem: "scheduler",
		Name:      "refresh_total",
		Help:      "Background refresh executions by cadence and outcome",
	},
	[]string{"cadence", "outcome"},
)

func init() {
	prometheus.MustRegister(refreshTotal)
}

// Cadence binds a fetch function to a cache key and a base interval.
type Cadence struct {
	Name  string
	Key   string
	Base  time.Duration
	Fetch func(ctx context.Context) (any, error)
}

type cadenceState struct {
	Cadence
	failures int
	lastRun  time.Time
	everRun  bool
}

// Scheduler is the cooperative background refresh loop.
type Scheduler struct {
	store *cache.Store
	tick  time.Duration
	now   func() time.Time
	log   zerolog.Logger

	mu       sync.Mutex // guards cadence states
	cadences []*cadenceState

	lastTickNano atomic.Int64
	lastErr      atomic.Value // string

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a Scheduler over the given cache store. now may be nil.
func New(store *cache.Store, cadences []Cadence, tick time.Duration, now func() time.Time, log zerolog.Logger) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	s := &Scheduler{
		store: store,
		tick:  tick,
		now:   now,
		log:   log,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, c := range cadences {
		s.cadences = append(s.cadences, &cadenceState{Cadence: c})
	}
	s.lastErr.Store("")
	return s
}

// effectiveInterval doubles from the second consecutive failure on,
// capped at 16x base, and snaps back to base after a success.
func (cs *cadenceState) effectiveInterval() time.Duration {
	if cs.failures <= 1 {
		return cs.Base
	}
	shift := cs.failures - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return cs.Base << shift
}

// Tick runs one scheduling pass at the given instant, firing every due
// cadence. Exported for the loop and for tests; fetches run without any
// scheduler lock held.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.lastTickNano.Store(now.UnixNano())

	s.mu.Lock()
	var due []*cadenceState
	for _, cs := range s.cadences {
		if !cs.everRun || now.Sub(cs.lastRun) >= cs.effectiveInterval() {
			due = append(due, cs)
		}
	}
	s.mu.Unlock()

	for _, cs := range due {
		value, err := cs.Fetch(ctx)

		s.mu.Lock()
		cs.lastRun = now
		cs.everRun = true
		if err != nil {
			cs.failures++
			s.mu.Unlock()
			refreshTotal.WithLabelValues(cs.Name, "failure").Inc()
			s.lastErr.Store(err.Error())
			s.log.Warn().Str("cadence", cs.Name).Int("consecutive_failures", cs.failures).Err(err).
				Msg("background refresh failed")
			continue
		}
		cs.failures = 0
		s.mu.Unlock()
		refreshTotal.WithLabelValues(cs.Name, "success").Inc()
		s.store.Set(cs.Key, value)
		s.lastErr.Store("")
	}
}

// Run drives the loop until ctx is done or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	s.Tick(ctx, s.now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Stop terminates the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Alive reports whether the loop has ticked within staleAfter.
func (s *Scheduler) Alive(staleAfter time.Duration) bool {
	last := s.lastTickNano.Load()
	if last == 0 {
		return false
	}
	return s.now().Sub(time.Unix(0, last)) <= staleAfter
}

// Failures returns the consecutive failure count per cadence name.
func (s *Scheduler) Failures() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.cadences))
	for _, cs := range s.cadences {
		out[cs.Name] = cs.failures
	}
	return out
}

// LastError returns the most recent fetch error message, empty after any
// cadence succeeds.
func (s *Scheduler) LastError() string {
	v, _ := s.lastErr.Load().(string)
	return v
}
