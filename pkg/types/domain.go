package types

import "time"

// Capabilities holds the heuristic capability flags derived for a model.
// All three fields are always set; absence of a capability is an explicit false.
type Capabilities struct {
	Vision    bool `json:"has_vision"`
	Tools     bool `json:"has_tools"`
	Reasoning bool `json:"has_reasoning"`
}

// ModelDetails mirrors the nested detail block the backend reports per model.
type ModelDetails struct {
	Family            string   `json:"family,omitempty"`
	Families          []string `json:"families,omitempty"`
	ParameterSize     string   `json:"parameter_size,omitempty"`
	QuantizationLevel string   `json:"quantization_level,omitempty"`
	Format            string   `json:"format,omitempty"`
}

// ModelDescriptor is the normalized view of one served model, either
// currently loaded or merely present on disk at the backend.
type ModelDescriptor struct {
	Name          string       `json:"name"`
	Digest        string       `json:"digest,omitempty"`
	SizeBytes     int64        `json:"size"`
	FormattedSize string       `json:"formatted_size,omitempty"`
	SizeVRAM      int64        `json:"size_vram,omitempty"`
	Details       ModelDetails `json:"details"`
	ModifiedAt    time.Time    `json:"modified_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
	Running       bool         `json:"running"`
	Capabilities
}

// SystemStats is a point-in-time snapshot of host resource usage.
type SystemStats struct {
	CPUPercent float64    `json:"cpu_percent"`
	Memory     UsageBlock `json:"memory"`
	Disk       UsageBlock `json:"disk"`
}

// UsageBlock is a generic total/used/free triple with a percentage.
type UsageBlock struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Free    uint64  `json:"free"`
	Percent float64 `json:"percent"`
}

// SettingsSource records who produced a settings record.
const (
	SettingsSourceUser        = "user"
	SettingsSourceRecommended = "recommended"
)

// SettingsRecord is one persisted per-model configuration entry.
type SettingsRecord struct {
	Settings    map[string]any `json:"settings"`
	Source      string         `json:"source"`
	LastUpdated time.Time      `json:"last_updated"`
}
