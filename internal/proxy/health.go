package proxy

import (
	"time"

	"modelproxy/pkg/types"
)

// Overall health states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// aliveThreshold is how long the background loop may go without a tick
// before it is reported dead.
const aliveThreshold = 10 * time.Second

// HealthSnapshot assembles the engine's observable state. Every input is
// read from lock-free snapshots or short-lived per-component locks; no
// two locks are ever held together.
func (e *Engine) HealthSnapshot() types.HealthSnapshot {
	alive := e.sched.Alive(aliveThreshold)
	failures := e.sched.Failures()

	cacheHealth := make(map[string]types.CacheKeyHealth, len(DefaultTTLs))
	for key, ttl := range DefaultTTLs {
		age, ok := e.cache.Age(key)
		if !ok {
			cacheHealth[key] = types.CacheKeyHealth{AgeSeconds: -1, Stale: true}
			continue
		}
		cacheHealth[key] = types.CacheKeyHealth{
			AgeSeconds: age.Seconds(),
			Stale:      age > ttl,
		}
	}

	lastErr := e.sched.LastError()
	degraded := !alive || failures["running"] > 0 || cacheHealth[KeySystemStats].Stale
	unhealthy := !alive || lastErr != ""
	status := StatusHealthy
	switch {
	case unhealthy:
		status = StatusUnhealthy
	case degraded:
		status = StatusDegraded
	}

	var uptime int64
	if !e.startedAt.IsZero() {
		uptime = int64(e.now().Sub(e.startedAt).Seconds())
	}

	return types.HealthSnapshot{
		Status:          status,
		BackgroundAlive: alive,
		Cache:           cacheHealth,
		CadenceFailures: failures,
		LastError:       sanitizeMessage(lastErr, e.backendLabel()),
		Retries:         e.retryer.Counters(),
		RunningModels:   len(e.cachedModels(KeyRunningModels)),
		AvailableModels: len(e.cachedModels(KeyAvailableModels)),
		UptimeSeconds:   uptime,
	}
}
