// Package proxy is the composition root of the runtime engine. It owns
// the remote client, cache, scheduler, rate limiter, settings store and
// capability table, and exposes the structured operations the routing
// layer consumes.
package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"modelproxy/internal/cache"
	"modelproxy/internal/capability"
	"modelproxy/internal/config"
	"modelproxy/internal/ratelimit"
	"modelproxy/internal/remote"
	"modelproxy/internal/scheduler"
	"modelproxy/internal/settings"
	"modelproxy/pkg/types"
)

// Cache keys owned by the engine.
const (
	KeyRunningModels   = "running_models"
	KeyAvailableModels = "available_models"
	KeySystemStats     = "system_stats"
	KeyBackendVersion  = "backend_version"
)

// DefaultTTLs bound how old each cached key may be before readers and
// the health reporter consider it stale.
var DefaultTTLs = map[string]time.Duration{
	KeyRunningModels:   3 * time.Second,
	KeySystemStats:     5 * time.Second,
	KeyAvailableModels: 60 * time.Second,
	KeyBackendVersion:  300 * time.Second,
}

// Engine coordinates every stateful component of the proxy.
type Engine struct {
	backend  backendAPI
	cache    *cache.Store
	limiter  *ratelimit.Limiter
	settings *settings.Store
	caps     *capability.Table
	retryer  *remote.Retryer
	sched    *scheduler.Scheduler
	stats    func(ctx context.Context) (types.SystemStats, error)
	log      zerolog.Logger
	now      func() time.Time
	newOpID  func() string

	startedAt time.Time
	sf        singleflight.Group
	fetchers  map[string]func(ctx context.Context) (any, error)
}

// backendAPI is the slice of the remote client the engine consumes.
// Narrowed to an interface so tests can stand in a fake backend.
type backendAPI interface {
	Version(ctx context.Context) (string, error)
	ListRunning(ctx context.Context) ([]types.ModelDescriptor, error)
	ListAvailable(ctx context.Context) ([]types.ModelDescriptor, error)
	Show(ctx context.Context, name string) (remote.ShowResult, error)
	WarmStart(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Pull(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
}

// Options configures New. Zero-value fields fall back to production
// defaults; tests inject fakes and clocks.
type Options struct {
	Backend  backendAPI
	Caps     *capability.Table
	Settings *settings.Store
	Limiter  *ratelimit.Limiter
	Retry    remote.RetryPolicy
	Stats    func(ctx context.Context) (types.SystemStats, error)
	Now      func() time.Time
	NewOpID  func() string
	Log      zerolog.Logger
}

// New assembles an Engine from a resolved configuration.
func New(cfg config.Config, opts Options) *Engine {
	log := opts.Log
	if opts.Backend == nil {
		opts.Backend = remote.New(cfg.BackendURL(), log)
	}
	if opts.Caps == nil {
		opts.Caps = capability.DefaultTable()
	}
	if opts.Settings == nil {
		opts.Settings = settings.NewStore(cfg.SettingsFile, opts.Now, log)
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.New(ratelimit.DefaultBudgets, opts.Now)
	}
	if opts.Stats == nil {
		opts.Stats = CollectSystemStats
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewOpID == nil {
		opts.NewOpID = defaultOpID
	}

	e := &Engine{
		backend:  opts.Backend,
		cache:    cache.New(opts.Now),
		limiter:  opts.Limiter,
		settings: opts.Settings,
		caps:     opts.Caps,
		retryer:  remote.NewRetryer(opts.Retry, log),
		stats:    opts.Stats,
		log:      log,
		now:      opts.Now,
		newOpID:  opts.NewOpID,
	}
	e.fetchers = map[string]func(ctx context.Context) (any, error){
		KeyRunningModels:   e.fetchRunning,
		KeyAvailableModels: e.fetchAvailable,
		KeySystemStats:     e.fetchStats,
		KeyBackendVersion:  e.fetchVersion,
	}
	e.sched = scheduler.New(e.cache, []scheduler.Cadence{
		{Name: "running", Key: KeyRunningModels, Base: cfg.RunningRefresh(), Fetch: e.fetchRunning},
		{Name: "stats", Key: KeySystemStats, Base: cfg.StatsRefresh(), Fetch: e.fetchStats},
		{Name: "available", Key: KeyAvailableModels, Base: cfg.AvailableRefresh(), Fetch: e.fetchAvailable},
		{Name: "version", Key: KeyBackendVersion, Base: cfg.VersionRefresh(), Fetch: e.fetchVersion},
	}, scheduler.DefaultTick, opts.Now, log)
	return e
}

// Start launches the background refresh loop.
func (e *Engine) Start(ctx context.Context) {
	e.startedAt = e.now()
	go e.sched.Run(ctx)
}

// Stop terminates the background loop and waits for it.
func (e *Engine) Stop() {
	e.sched.Stop()
}

// FetchCached returns the cached value under key if it is younger than
// its TTL. A miss is not an error.
func (e *Engine) FetchCached(key string) (any, bool) {
	ttl, ok := DefaultTTLs[key]
	if !ok {
		return nil, false
	}
	return e.cache.Get(key, ttl)
}

// RefreshNow performs a synchronous refresh of key, deduplicating
// concurrent callers. The background loop may also write the same key;
// last write wins under the cache's write lock.
func (e *Engine) RefreshNow(ctx context.Context, key string) (any, error) {
	fetch, ok := e.fetchers[key]
	if !ok {
		return nil, fmt.Errorf("unknown cache key %q", key)
	}
	v, err, _ := e.sf.Do(key, func() (any, error) {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		e.cache.Set(key, value)
		return value, nil
	})
	return v, err
}

// RateCheck reports whether one token is available for the category,
// consuming it if so.
func (e *Engine) RateCheck(category string) bool {
	return e.limiter.Allow(category)
}

// fetchRunning lists loaded models and stamps capability flags.
func (e *Engine) fetchRunning(ctx context.Context) (any, error) {
	models, err := e.backend.ListRunning(ctx)
	if err != nil {
		return nil, remote.WrapError("list running", err)
	}
	for i := range models {
		e.caps.Ensure(&models[i])
	}
	return models, nil
}

// fetchAvailable lists installed models, stamps capability flags and
// seeds recommended settings for models seen for the first time.
func (e *Engine) fetchAvailable(ctx context.Context) (any, error) {
	models, err := e.backend.ListAvailable(ctx)
	if err != nil {
		return nil, remote.WrapError("list available", err)
	}
	for i := range models {
		e.caps.Ensure(&models[i])
		if _, err := e.settings.Ensure(models[i]); err != nil {
			e.log.Warn().Err(err).Str("model", models[i].Name).Msg("could not seed settings")
		}
	}
	return models, nil
}

func (e *Engine) fetchVersion(ctx context.Context) (any, error) {
	v, err := e.backend.Version(ctx)
	if err != nil {
		return nil, remote.WrapError("version", err)
	}
	return v, nil
}

func (e *Engine) fetchStats(ctx context.Context) (any, error) {
	s, err := e.stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("system stats: %w", err)
	}
	return s, nil
}

// cachedModels reads a model list key without a TTL check; health and
// settings lookups prefer an old list over none.
func (e *Engine) cachedModels(key string) []types.ModelDescriptor {
	v, ok := e.cache.Peek(key)
	if !ok {
		return nil
	}
	models, _ := v.([]types.ModelDescriptor)
	return models
}
