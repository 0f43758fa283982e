package remote

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"modelproxy/pkg/types"
)

var retryAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "modelproxy",
		Subsystem: "remote",
		Name:      "retry_attempts_total",
		Help:      "Backend call attempts by operation and outcome",
	},
	[]string{"op", "outcome"},
)

func init() {
	prometheus.MustRegister(retryAttemptsTotal)
}

// RetryPolicy bounds the retry loop for mutating backend calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy: up to 3 attempts with 1s/2s/4s backoff.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}

// Retryer drives bounded exponential-backoff retries for transient
// failures. Permanent classifications short-circuit after the first
// attempt. Sleeps honor ctx and never run while a lock is held.
type Retryer struct {
	policy RetryPolicy
	log    zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	attempts  atomic.Uint64
	successes atomic.Uint64
	failures  atomic.Uint64
}

// NewRetryer builds a Retryer with the given policy.
func NewRetryer(policy RetryPolicy, log zerolog.Logger) *Retryer {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	return &Retryer{policy: policy, log: log, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn until it succeeds, fails permanently, or the attempt budget
// is exhausted. It returns the number of attempts performed and the last
// error, already wrapped with op and classification.
func (r *Retryer) Do(ctx context.Context, op string, fn func(context.Context) error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		r.attempts.Add(1)
		err := fn(ctx)
		if err == nil {
			r.successes.Add(1)
			retryAttemptsTotal.WithLabelValues(op, "success").Inc()
			return attempt, nil
		}
		lastErr = WrapError(op, err)
		if IsPermanent(lastErr) {
			r.failures.Add(1)
			retryAttemptsTotal.WithLabelValues(op, "permanent").Inc()
			return attempt, lastErr
		}
		retryAttemptsTotal.WithLabelValues(op, "transient").Inc()
		if attempt == r.policy.MaxAttempts {
			break
		}
		delay := r.policy.BaseDelay << (attempt - 1)
		r.log.Warn().Str("op", op).Int("attempt", attempt).Dur("backoff", delay).Err(err).
			Msg("transient backend failure, retrying")
		if serr := r.sleep(ctx, delay); serr != nil {
			r.failures.Add(1)
			return attempt, WrapError(op, serr)
		}
	}
	r.failures.Add(1)
	retryAttemptsTotal.WithLabelValues(op, "exhausted").Inc()
	return r.policy.MaxAttempts, lastErr
}

// Counters returns a snapshot of aggregate retry activity.
func (r *Retryer) Counters() types.RetryCounters {
	return types.RetryCounters{
		Attempts:  r.attempts.Load(),
		Successes: r.successes.Load(),
		Failures:  r.failures.Load(),
	}
}
