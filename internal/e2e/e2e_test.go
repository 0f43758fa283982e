package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"modelproxy/internal/config"
	"modelproxy/internal/httpapi"
	"modelproxy/internal/proxy"
	"modelproxy/internal/remote"
	"modelproxy/pkg/types"
)

// fakeOllama imitates the backend wire API closely enough for the full
// client -> engine -> http stack to run against it.
type fakeOllama struct {
	mu     sync.Mutex
	pulls  []string
	failPS bool
}

func (f *fakeOllama) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"version": "0.5.7"})
	})
	mux.HandleFunc("/api/ps", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		fail := f.failPS
		f.mu.Unlock()
		if fail {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"models":[{"name":"llama3.1:8b","size":4700000000,
			"details":{"family":"llama","parameter_size":"8.0B"}}]}`))
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[
			{"name":"llama3.1:8b","size":4700000000,"details":{"family":"llama","parameter_size":"8.0B"}},
			{"name":"llava:13b","size":8000000000,"details":{"family":"llama","families":["llama","clip"],"parameter_size":"13B"}}
		]}`))
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.pulls = append(f.pulls, body["name"].(string))
		f.mu.Unlock()
		w.Write([]byte(`{"status":"success"}`))
	})
	return mux
}

func newStack(t *testing.T) (*proxy.Engine, *fakeOllama, *httptest.Server) {
	t.Helper()
	backend := &fakeOllama{}
	backendSrv := httptest.NewServer(backend.handler())
	t.Cleanup(backendSrv.Close)

	cfg := config.Defaults(config.Config{
		SettingsFile: filepath.Join(t.TempDir(), "settings.json"),
	})
	log := zerolog.Nop()
	engine := proxy.New(cfg, proxy.Options{
		Backend: remote.New(backendSrv.URL, log),
		Retry:   remote.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Stats: func(context.Context) (types.SystemStats, error) {
			return types.SystemStats{CPUPercent: 5}, nil
		},
		Log: log,
	})
	apiSrv := httptest.NewServer(httpapi.NewMux(engine, log))
	t.Cleanup(apiSrv.Close)
	return engine, backend, apiSrv
}

func getStatus(t *testing.T, url string) types.HealthSnapshot {
	t.Helper()
	resp, err := http.Get(url + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	var snap types.HealthSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return snap
}

func TestE2E_StatusReflectsBackend(t *testing.T) {
	engine, _, apiSrv := newStack(t)
	engine.Start(context.Background())
	defer engine.Stop()

	deadline := time.Now().Add(3 * time.Second)
	var snap types.HealthSnapshot
	for time.Now().Before(deadline) {
		snap = getStatus(t, apiSrv.URL)
		if snap.RunningModels == 1 && snap.AvailableModels == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if snap.RunningModels != 1 || snap.AvailableModels != 2 {
		t.Fatalf("background refresh never surfaced models: %+v", snap)
	}
	if snap.Status != "healthy" || !snap.BackgroundAlive {
		t.Fatalf("expected healthy stack: %+v", snap)
	}
}

func TestE2E_CapabilitiesAndSettingsFlow(t *testing.T) {
	engine, _, _ := newStack(t)
	v, err := engine.RefreshNow(context.Background(), proxy.KeyAvailableModels)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	models := v.([]types.ModelDescriptor)
	byName := map[string]types.ModelDescriptor{}
	for _, m := range models {
		byName[m.Name] = m
	}
	if !byName["llava:13b"].Vision || byName["llama3.1:8b"].Vision {
		t.Fatalf("capability stamping wrong: %+v", byName)
	}
	if !byName["llama3.1:8b"].Tools {
		t.Fatalf("expected tool support on llama3.1: %+v", byName["llama3.1:8b"])
	}

	rec, err := engine.SettingsGet("llava:13b")
	if err != nil {
		t.Fatalf("settings get: %v", err)
	}
	if rec.Source != types.SettingsSourceRecommended {
		t.Fatalf("expected seeded recommendation, got %q", rec.Source)
	}
}

func TestE2E_PullRoundTrip(t *testing.T) {
	engine, backend, _ := newStack(t)
	res := engine.Pull(context.Background(), "qwen2.5:7b")
	if !res.Success || res.Attempts != 1 {
		t.Fatalf("pull failed: %+v", res)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.pulls) != 1 || backend.pulls[0] != "qwen2.5:7b" {
		t.Fatalf("backend never saw the pull: %v", backend.pulls)
	}
}

func TestE2E_BackendOutageDegradesStatus(t *testing.T) {
	engine, backend, apiSrv := newStack(t)
	backend.mu.Lock()
	backend.failPS = true
	backend.mu.Unlock()

	engine.Start(context.Background())
	defer engine.Stop()

	deadline := time.Now().Add(3 * time.Second)
	var snap types.HealthSnapshot
	for time.Now().Before(deadline) {
		snap = getStatus(t, apiSrv.URL)
		if snap.CadenceFailures["running"] > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if snap.CadenceFailures["running"] == 0 {
		t.Fatalf("ps failures never recorded: %+v", snap)
	}
}
