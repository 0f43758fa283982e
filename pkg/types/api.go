package types

// MutationResult is the structured outcome of a mutating backend operation.
// Callers always receive one of these; internal errors never cross the
// boundary raw.
type MutationResult struct {
	// Operation id assigned when the mutation was accepted.
	OpID string `json:"op_id,omitempty"`
	// Whether the operation ultimately succeeded.
	Success bool `json:"success"`
	// Human-readable outcome or failure message.
	Message string `json:"message"`
	// Failure classification: transient, permanent, validation,
	// persistence or rate_limited. Empty on success.
	Classification string `json:"classification,omitempty"`
	// Number of attempts performed, including the successful one.
	Attempts int `json:"attempts"`
}

// CacheKeyHealth describes one cached key for the health snapshot.
type CacheKeyHealth struct {
	// Age of the cached value in seconds; negative when never populated.
	AgeSeconds float64 `json:"age_seconds"`
	// True when the value is older than its TTL or missing entirely.
	Stale bool `json:"stale"`
}

// RetryCounters aggregates retry-engine activity since startup.
type RetryCounters struct {
	Attempts  uint64 `json:"attempts"`
	Successes uint64 `json:"successes"`
	Failures  uint64 `json:"failures"`
}

// HealthSnapshot is returned by the health reporter. It is derived on each
// call and never mutated in place.
type HealthSnapshot struct {
	// Overall rollup: healthy, degraded or unhealthy.
	Status string `json:"status"`
	// Whether the background refresh loop has ticked recently.
	BackgroundAlive bool `json:"background_thread_alive"`
	// Per cache key age and staleness.
	Cache map[string]CacheKeyHealth `json:"cache"`
	// Consecutive failure count per refresh cadence.
	CadenceFailures map[string]int `json:"cadence_failures"`
	// Last background refresh error, sanitized for display.
	LastError string `json:"last_error,omitempty"`
	Retries   RetryCounters `json:"retries"`
	// Counts of models currently known.
	RunningModels   int `json:"running_models"`
	AvailableModels int `json:"available_models"`
	// Uptime of the engine in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
