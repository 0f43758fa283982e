package proxy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"modelproxy/internal/ratelimit"
	"modelproxy/internal/remote"
	"modelproxy/pkg/types"
)

// Failure classifications surfaced in MutationResult.
const (
	ClassificationTransient   = "transient"
	ClassificationPermanent   = "permanent"
	ClassificationValidation  = "validation"
	ClassificationRateLimited = "rate_limited"
	ClassificationPersistence = "persistence"
)

const maxModelNameLen = 255

// Model names are restricted before anything reaches the backend.
var modelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9:._/-]+$`)

func defaultOpID() string { return uuid.NewString() }

// validateModelName rejects empty, oversized or suspicious names.
// Fails closed: nothing is sent to the backend on rejection.
func validateModelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("model name is required")
	}
	if len(name) > maxModelNameLen {
		return fmt.Errorf("model name exceeds %d characters", maxModelNameLen)
	}
	if !modelNamePattern.MatchString(name) {
		return fmt.Errorf("model name contains invalid characters")
	}
	return nil
}

// Pull downloads a model onto the backend. Uses the pull budget, which
// is far tighter than the mutate budget.
func (e *Engine) Pull(ctx context.Context, name string) types.MutationResult {
	return e.mutate(ctx, "pull", name, ratelimit.CategoryPull, e.backend.Pull,
		KeyAvailableModels, KeyRunningModels)
}

// Delete removes a model from the backend's disk.
func (e *Engine) Delete(ctx context.Context, name string) types.MutationResult {
	return e.mutate(ctx, "delete", name, ratelimit.CategoryMutate, e.backend.Delete,
		KeyAvailableModels, KeyRunningModels)
}

// StopModel unloads a running model.
func (e *Engine) StopModel(ctx context.Context, name string) types.MutationResult {
	return e.mutate(ctx, "stop", name, ratelimit.CategoryMutate, e.backend.Stop,
		KeyRunningModels)
}

// WarmStart loads a model ahead of first use.
func (e *Engine) WarmStart(ctx context.Context, name string) types.MutationResult {
	return e.mutate(ctx, "warm_start", name, ratelimit.CategoryMutate, e.backend.WarmStart,
		KeyRunningModels)
}

// mutate runs the shared mutation pipeline: rate check, validation,
// retried backend call, cache invalidation. Every outcome comes back as
// a structured result; raw errors never escape.
func (e *Engine) mutate(ctx context.Context, op, name, category string,
	call func(context.Context, string) error, invalidate ...string) types.MutationResult {

	if !e.limiter.Allow(category) {
		e.log.Warn().Str("op", op).Str("model", name).Str("category", category).
			Msg("mutation rate limited")
		return types.MutationResult{
			Success:        false,
			Message:        fmt.Sprintf("rate limit exceeded for %s operations, try again later", category),
			Classification: ClassificationRateLimited,
		}
	}
	if err := validateModelName(name); err != nil {
		return types.MutationResult{
			Success:        false,
			Message:        err.Error(),
			Classification: ClassificationValidation,
		}
	}

	opID := e.newOpID()
	log := e.log.With().Str("op", op).Str("op_id", opID).Str("model", name).Logger()
	log.Info().Msg("mutation accepted")

	attempts, err := e.retryer.Do(ctx, op, func(ctx context.Context) error {
		return call(ctx, name)
	})
	if err != nil {
		classification := ClassificationPermanent
		if remote.IsTransient(err) {
			classification = ClassificationTransient
		}
		log.Warn().Int("attempts", attempts).Str("classification", classification).Err(err).
			Msg("mutation failed")
		return types.MutationResult{
			OpID:           opID,
			Success:        false,
			Message:        sanitizeError(err, e.backendLabel()),
			Classification: classification,
			Attempts:       attempts,
		}
	}

	for _, key := range invalidate {
		e.cache.Delete(key)
	}
	log.Info().Int("attempts", attempts).Msg("mutation succeeded")
	return types.MutationResult{
		OpID:     opID,
		Success:  true,
		Message:  fmt.Sprintf("%s completed for %s", op, name),
		Attempts: attempts,
	}
}

func (e *Engine) backendLabel() string {
	if c, ok := e.backend.(*remote.Client); ok {
		return c.BaseURL()
	}
	return "the backend"
}

// connectionIndicators mark low-level transport noise that should not be
// shown to users verbatim.
var connectionIndicators = []string{
	"connection refused",
	"connection reset",
	"forcibly closed",
	"no route to host",
	"broken pipe",
	"dial tcp",
	"context deadline exceeded",
	"timeout",
}

// sanitizeError rewrites transport-level failures into a stable,
// user-facing message. Everything else passes through unchanged.
func sanitizeError(err error, backend string) string {
	if err == nil {
		return ""
	}
	return sanitizeMessage(err.Error(), backend)
}

func sanitizeMessage(msg, backend string) string {
	if msg == "" {
		return ""
	}
	lower := strings.ToLower(msg)
	for _, indicator := range connectionIndicators {
		if strings.Contains(lower, indicator) {
			return fmt.Sprintf("cannot reach %s, ensure the backend is running", backend)
		}
	}
	return msg
}
