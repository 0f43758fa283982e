package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"modelproxy/pkg/types"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model_settings.json")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return NewStore(path, func() time.Time { return now }, zerolog.Nop()), path
}

func TestGetOrRecommendFallsBack(t *testing.T) {
	s, path := newTestStore(t)
	rec := s.GetOrRecommend(descriptor("7B", false, false, false))
	if rec.Source != types.SettingsSourceRecommended {
		t.Fatalf("expected recommended source, got %q", rec.Source)
	}
	if rec.Settings["temperature"] != 0.7 {
		t.Fatalf("unexpected recommendation: %v", rec.Settings)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("GetOrRecommend must not persist")
	}
}

func TestSetMergesOverPriorState(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Set("llama3.1:8b", map[string]any{"temperature": 0.5}); err != nil {
		t.Fatalf("first set: %v", err)
	}
	rec, err := s.Set("llama3.1:8b", map[string]any{"top_k": 10})
	if err != nil {
		t.Fatalf("second set: %v", err)
	}
	if rec.Settings["temperature"] != 0.5 {
		t.Fatalf("prior override lost on merge: %v", rec.Settings["temperature"])
	}
	if asInt(rec.Settings["top_k"]) != 10 {
		t.Fatalf("new override not applied: %v", rec.Settings["top_k"])
	}
	if rec.Source != types.SettingsSourceUser {
		t.Fatalf("expected user source, got %q", rec.Source)
	}
	got, ok := s.Get("llama3.1:8b")
	if !ok || got.Settings["temperature"] != 0.5 {
		t.Fatalf("Get after Set mismatch: %+v ok=%v", got, ok)
	}
}

func TestSetRejectsUnknownKey(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.Set("m", map[string]any{"warp_factor": 9})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Key != "warp_factor" {
		t.Fatalf("expected ValidationError for unknown key, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("rejected set must not write anything")
	}
}

func TestSetCoercesValues(t *testing.T) {
	s, _ := newTestStore(t)
	rec, err := s.Set("m", map[string]any{
		"temperature": "0.55",
		"top_k":       float64(30),
		"stop":        "</s>, <|eot|>",
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if rec.Settings["temperature"] != 0.55 {
		t.Fatalf("string temperature not coerced: %v", rec.Settings["temperature"])
	}
	if asInt(rec.Settings["top_k"]) != 30 {
		t.Fatalf("float top_k not coerced: %v", rec.Settings["top_k"])
	}
	stops, ok := rec.Settings["stop"].([]string)
	if !ok || len(stops) != 2 || stops[0] != "</s>" {
		t.Fatalf("comma stop list not split: %v", rec.Settings["stop"])
	}
}

func TestSetRejectsWrongType(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Set("m", map[string]any{"temperature": "warm"}); err == nil {
		t.Fatalf("expected error for uncoercible value")
	}
	if _, err := s.Set("m", map[string]any{"penalize_newline": "yes"}); err == nil {
		t.Fatalf("expected error for non-boolean")
	}
	if _, err := s.Set("m", map[string]any{"stop": 42}); err == nil {
		t.Fatalf("expected error for non-list stop")
	}
}

func TestStopListCapped(t *testing.T) {
	s, _ := newTestStore(t)
	long := make([]any, 15)
	for i := range long {
		long[i] = "x"
	}
	rec, err := s.Set("m", map[string]any{"stop": long})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if stops := rec.Settings["stop"].([]string); len(stops) != maxStopSequences {
		t.Fatalf("stop list not capped: %d entries", len(stops))
	}
}

func TestDeleteRevertsToRecommended(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Set("m:7b", map[string]any{"temperature": 0.1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	removed, err := s.Delete("m:7b")
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	if _, ok := s.Get("m:7b"); ok {
		t.Fatalf("record survived delete")
	}
	removed, err = s.Delete("m:7b")
	if err != nil || removed {
		t.Fatalf("second delete should be a no-op: removed=%v err=%v", removed, err)
	}
}

func TestEnsureCreatesOnce(t *testing.T) {
	s, _ := newTestStore(t)
	d := descriptor("8B", false, true, false)
	d.Name = "llama3.1:8b"
	created, err := s.Ensure(d)
	if err != nil || !created {
		t.Fatalf("first ensure: created=%v err=%v", created, err)
	}
	created, err = s.Ensure(d)
	if err != nil || created {
		t.Fatalf("second ensure must not overwrite: created=%v err=%v", created, err)
	}
	rec, ok := s.Get("llama3.1:8b")
	if !ok || rec.Source != types.SettingsSourceRecommended {
		t.Fatalf("unexpected ensured record: %+v ok=%v", rec, ok)
	}
}

func TestRecordsSurviveReload(t *testing.T) {
	s, path := newTestStore(t)
	if _, err := s.Set("m", map[string]any{"num_ctx": 4096}); err != nil {
		t.Fatalf("set: %v", err)
	}
	reopened := NewStore(path, nil, zerolog.Nop())
	rec, ok := reopened.Get("m")
	if !ok {
		t.Fatalf("record missing after reload")
	}
	if asInt(rec.Settings["num_ctx"]) != 4096 {
		t.Fatalf("unexpected reloaded value: %v", rec.Settings["num_ctx"])
	}
}

func TestMalformedFileTreatedAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_settings.json")
	if err := os.WriteFile(path, []byte(`{"m": {"settings": truncat`), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	s := NewStore(path, nil, zerolog.Nop())
	if _, ok := s.Get("m"); ok {
		t.Fatalf("malformed file must read as empty")
	}
	if _, err := s.Set("m", map[string]any{"seed": 7}); err != nil {
		t.Fatalf("set over malformed file: %v", err)
	}
}

func TestAbandonedTempFileIgnored(t *testing.T) {
	s, path := newTestStore(t)
	if _, err := s.Set("m", map[string]any{"temperature": 0.3}); err != nil {
		t.Fatalf("set: %v", err)
	}
	// a crash between temp-write and rename leaves a stray temp file;
	// the committed file must still read back whole
	stray := path + ".tmp12345"
	if err := os.WriteFile(stray, []byte(`{"m": {"set`), 0o644); err != nil {
		t.Fatalf("seed stray temp: %v", err)
	}
	reopened := NewStore(path, nil, zerolog.Nop())
	rec, ok := reopened.Get("m")
	if !ok || rec.Settings["temperature"] != 0.3 {
		t.Fatalf("committed record damaged by stray temp file: %+v ok=%v", rec, ok)
	}
}

func TestWriteFailureSurfacesAndRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "deeper", "model_settings.json")
	s := NewStore(path, nil, zerolog.Nop())
	_, err := s.Set("m", map[string]any{"seed": 1})
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if _, ok := s.Get("m"); ok {
		t.Fatalf("failed write must not leave in-memory state behind")
	}
}
