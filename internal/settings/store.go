// Package settings persists per-model generation parameters as a single
// JSON file with atomic-replace writes. Reads fall back to recommended
// defaults so callers always get a complete parameter set.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"modelproxy/internal/common/fsutil"
	"modelproxy/pkg/types"
)

const maxStopSequences = 10

// ValidationError rejects a settings write before any state changes.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid setting %q: %s", e.Key, e.Reason)
}

// PersistenceError reports a failed settings write. The previously
// committed file is left untouched.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist settings to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store is the settings persistence layer. Its mutex is independent of
// every other lock in the process and is never held across disk-free
// operations like Recommend.
type Store struct {
	path string
	now  func() time.Time
	log  zerolog.Logger

	mu      sync.Mutex
	records map[string]types.SettingsRecord
	loaded  bool
}

// NewStore builds a Store over the given file path. now may be nil.
func NewStore(path string, now func() time.Time, log zerolog.Logger) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{path: path, now: now, log: log}
}

// loadLocked reads the settings file on first access. A missing or
// malformed file yields an empty map, never an error.
func (s *Store) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.records = make(map[string]types.SettingsRecord)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", s.path).Msg("settings file unreadable, using defaults")
		}
		return
	}
	var records map[string]types.SettingsRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("settings file malformed, using defaults")
		return
	}
	s.records = records
}

// writeLocked persists the full record map via temp-file-then-rename.
func (s *Store) writeLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	return nil
}

// Get returns the persisted record for a model, if any.
func (s *Store) Get(name string) (types.SettingsRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	rec, ok := s.records[name]
	return rec, ok
}

// GetOrRecommend returns the persisted record, or a recommended one
// computed from the descriptor. The computed record is not persisted.
func (s *Store) GetOrRecommend(d types.ModelDescriptor) types.SettingsRecord {
	if rec, ok := s.Get(d.Name); ok {
		return rec
	}
	return types.SettingsRecord{
		Settings:    Recommend(d),
		Source:      types.SettingsSourceRecommended,
		LastUpdated: s.now().UTC(),
	}
}

// Ensure persists a recommended record the first time a model is seen.
// Reports whether a record was created.
func (s *Store) Ensure(d types.ModelDescriptor) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	if _, ok := s.records[d.Name]; ok {
		return false, nil
	}
	s.records[d.Name] = types.SettingsRecord{
		Settings:    Recommend(d),
		Source:      types.SettingsSourceRecommended,
		LastUpdated: s.now().UTC(),
	}
	if err := s.writeLocked(); err != nil {
		delete(s.records, d.Name)
		return false, err
	}
	return true, nil
}

// Set validates params against the default template, merges them over the
// model's current settings and persists the result. Unknown keys and
// uncoercible values fail closed with a ValidationError before any state
// changes.
func (s *Store) Set(name string, params map[string]any) (types.SettingsRecord, error) {
	clean := make(map[string]any, len(params))
	for _, k := range sortedKeys(params) {
		def, ok := defaultTemplate[k]
		if !ok {
			return types.SettingsRecord{}, &ValidationError{Key: k, Reason: "unknown parameter"}
		}
		v, err := normalizeValue(k, params[k], def)
		if err != nil {
			return types.SettingsRecord{}, err
		}
		clean[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()

	merged := DefaultTemplate()
	if prev, ok := s.records[name]; ok {
		for k, v := range prev.Settings {
			merged[k] = v
		}
	}
	for k, v := range clean {
		merged[k] = v
	}
	rec := types.SettingsRecord{
		Settings:    merged,
		Source:      types.SettingsSourceUser,
		LastUpdated: s.now().UTC(),
	}
	prev, had := s.records[name]
	s.records[name] = rec
	if err := s.writeLocked(); err != nil {
		if had {
			s.records[name] = prev
		} else {
			delete(s.records, name)
		}
		return types.SettingsRecord{}, err
	}
	return rec, nil
}

// Delete removes a model's override, reverting reads to recommended
// defaults. Reports whether a record existed.
func (s *Store) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	prev, ok := s.records[name]
	if !ok {
		return false, nil
	}
	delete(s.records, name)
	if err := s.writeLocked(); err != nil {
		s.records[name] = prev
		return false, err
	}
	return true, nil
}

// normalizeValue coerces a user-supplied value to the template type for
// the key. stop accepts a string list or a comma-separated string, capped
// at maxStopSequences entries.
func normalizeValue(key string, value, def any) (any, error) {
	if key == "stop" {
		return normalizeStop(value)
	}
	switch def.(type) {
	case bool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, &ValidationError{Key: key, Reason: "expected a boolean"}
	case int:
		switch v := value.(type) {
		case int:
			return v, nil
		case float64:
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, &ValidationError{Key: key, Reason: "expected an integer"}
			}
			return n, nil
		}
		return nil, &ValidationError{Key: key, Reason: "expected an integer"}
	case float64:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, &ValidationError{Key: key, Reason: "expected a number"}
			}
			return f, nil
		}
		return nil, &ValidationError{Key: key, Reason: "expected a number"}
	}
	return nil, &ValidationError{Key: key, Reason: "unsupported parameter type"}
}

func normalizeStop(value any) (any, error) {
	var out []string
	switch v := value.(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &ValidationError{Key: "stop", Reason: "expected a list of strings"}
			}
			out = append(out, s)
		}
	case string:
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	default:
		return nil, &ValidationError{Key: "stop", Reason: "expected a list of strings"}
	}
	if len(out) > maxStopSequences {
		out = out[:maxStopSequences]
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
