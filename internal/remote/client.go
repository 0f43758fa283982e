package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"modelproxy/pkg/types"
)

// Per-call-class timeouts. Status reads stay short so the background loop
// cannot wedge; mutations get room to finish, pulls most of all.
const (
	TimeoutVersion = 5 * time.Second
	TimeoutPS      = 10 * time.Second
	TimeoutTags    = 10 * time.Second
	TimeoutShow    = 10 * time.Second
	TimeoutWarm    = 60 * time.Second
	TimeoutStop    = 30 * time.Second
	TimeoutDelete  = 60 * time.Second
	TimeoutPull    = 600 * time.Second
)

// Client is a thin wrapper over the backend's HTTP API. It reuses one
// connection pool across all calls; individual calls bound their own
// worst case via per-class timeouts. There is no cancellation of
// in-flight calls beyond those deadlines.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// New constructs a Client for the backend at baseURL.
func New(baseURL string, log zerolog.Logger) *Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	// Timeout stays 0 on the client: every call applies its class timeout
	// through the request context instead.
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: tr, Timeout: 0},
		log:        log,
	}
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

type wireDetails struct {
	ParentModel       string   `json:"parent_model"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

type wireModel struct {
	Name       string      `json:"name"`
	Model      string      `json:"model"`
	Size       int64       `json:"size"`
	SizeVRAM   int64       `json:"size_vram"`
	Digest     string      `json:"digest"`
	Details    wireDetails `json:"details"`
	ModifiedAt time.Time   `json:"modified_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

type wireModelList struct {
	Models []wireModel `json:"models"`
}

func (m wireModel) descriptor(running bool) types.ModelDescriptor {
	name := m.Name
	if name == "" {
		name = m.Model
	}
	d := types.ModelDescriptor{
		Name:       name,
		Digest:     m.Digest,
		SizeBytes:  m.Size,
		SizeVRAM:   m.SizeVRAM,
		ModifiedAt: m.ModifiedAt,
		ExpiresAt:  m.ExpiresAt,
		Running:    running,
		Details: types.ModelDetails{
			Family:            m.Details.Family,
			Families:          m.Details.Families,
			ParameterSize:     m.Details.ParameterSize,
			QuantizationLevel: m.Details.QuantizationLevel,
			Format:            m.Details.Format,
		},
	}
	if m.Size > 0 {
		d.FormattedSize = humanize.IBytes(uint64(m.Size))
	}
	return d
}

// Version fetches the backend version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/api/version", TimeoutVersion, &out); err != nil {
		return "", err
	}
	if out.Version == "" {
		return "Unknown", nil
	}
	return out.Version, nil
}

// ListRunning fetches the models currently loaded on the backend.
func (c *Client) ListRunning(ctx context.Context) ([]types.ModelDescriptor, error) {
	var out wireModelList
	if err := c.getJSON(ctx, "/api/ps", TimeoutPS, &out); err != nil {
		return nil, err
	}
	models := make([]types.ModelDescriptor, 0, len(out.Models))
	for _, m := range out.Models {
		models = append(models, m.descriptor(true))
	}
	return models, nil
}

// ListAvailable fetches every model present on the backend's disk.
func (c *Client) ListAvailable(ctx context.Context) ([]types.ModelDescriptor, error) {
	var out wireModelList
	if err := c.getJSON(ctx, "/api/tags", TimeoutTags, &out); err != nil {
		return nil, err
	}
	models := make([]types.ModelDescriptor, 0, len(out.Models))
	for _, m := range out.Models {
		models = append(models, m.descriptor(false))
	}
	return models, nil
}

// ShowResult carries the detail fields of one model.
type ShowResult struct {
	Details    types.ModelDetails
	Parameters string
	Template   string
}

// Show fetches detailed metadata for one model.
func (c *Client) Show(ctx context.Context, name string) (ShowResult, error) {
	var out struct {
		Details    wireDetails `json:"details"`
		Parameters string      `json:"parameters"`
		Template   string      `json:"template"`
	}
	body := map[string]string{"name": name}
	if err := c.postJSON(ctx, "/api/show", TimeoutShow, body, &out); err != nil {
		return ShowResult{}, err
	}
	return ShowResult{
		Details: types.ModelDetails{
			Family:            out.Details.Family,
			Families:          out.Details.Families,
			ParameterSize:     out.Details.ParameterSize,
			QuantizationLevel: out.Details.QuantizationLevel,
			Format:            out.Details.Format,
		},
		Parameters: out.Parameters,
		Template:   out.Template,
	}, nil
}

// WarmStart loads a model by issuing an empty generate call.
func (c *Client) WarmStart(ctx context.Context, name string) error {
	body := map[string]any{"model": name, "stream": false}
	return c.postJSON(ctx, "/api/generate", TimeoutWarm, body, nil)
}

// Stop unloads a model by generating with keep_alive zero.
func (c *Client) Stop(ctx context.Context, name string) error {
	body := map[string]any{"model": name, "keep_alive": 0, "stream": false}
	return c.postJSON(ctx, "/api/generate", TimeoutStop, body, nil)
}

// Pull downloads a model to the backend. Slowest call class by far.
func (c *Client) Pull(ctx context.Context, name string) error {
	body := map[string]any{"name": name, "stream": false}
	return c.postJSON(ctx, "/api/pull", TimeoutPull, body, nil)
}

// Delete removes a model from the backend's disk.
func (c *Client) Delete(ctx context.Context, name string) error {
	body, _ := json.Marshal(map[string]string{"name": name})
	ctx, cancel := context.WithTimeout(ctx, TimeoutDelete)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/delete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, timeout time.Duration, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			err = req.Context().Err()
		}
		c.log.Debug().Str("path", req.URL.Path).Dur("elapsed", time.Since(start)).Err(err).
			Msg("backend call failed")
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend %s: %s: %s", req.URL.Path, resp.Status, strings.TrimSpace(string(b)))
	}
	if out == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
