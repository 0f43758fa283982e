package settings

import (
	"strconv"
	"strings"

	"modelproxy/pkg/types"
)

// defaultTemplate is the full set of tunable generation parameters with
// their baseline values. Every persisted record carries exactly these keys.
var defaultTemplate = map[string]any{
	"temperature":       0.7,
	"top_k":             40,
	"top_p":             0.9,
	"num_ctx":           2048,
	"seed":              0,
	"num_predict":       256,
	"repeat_last_n":     64,
	"repeat_penalty":    1.1,
	"presence_penalty":  0.0,
	"frequency_penalty": 0.0,
	"stop":              []string{},
	"min_p":             0.05,
	"typical_p":         1.0,
	"penalize_newline":  false,
	"mirostat":          0,
	"mirostat_tau":      5.0,
	"mirostat_eta":      0.1,
}

// DefaultTemplate returns a fresh copy of the baseline parameter set.
func DefaultTemplate() map[string]any {
	out := make(map[string]any, len(defaultTemplate))
	for k, v := range defaultTemplate {
		out[k] = v
	}
	return out
}

// Recommend derives parameters for a model from its size tier and
// capability flags. Heuristic only; users override via Set.
func Recommend(d types.ModelDescriptor) map[string]any {
	rec := DefaultTemplate()

	if b, ok := parameterBillions(d.Details.ParameterSize); ok {
		switch {
		case b <= 2:
			rec["temperature"] = 0.8
			rec["num_predict"] = 512
		case b <= 8:
			rec["temperature"] = 0.7
		case b <= 30:
			rec["temperature"] = 0.65
			rec["num_ctx"] = 4096
		default:
			rec["temperature"] = 0.6
			rec["num_ctx"] = 8192
		}
	}

	if d.Vision {
		rec["num_ctx"] = maxInt(asInt(rec["num_ctx"]), 4096)
	}
	if d.Reasoning {
		if asFloat(rec["temperature"]) > 0.65 {
			rec["temperature"] = 0.65
		}
		rec["repeat_penalty"] = 1.08
		rec["num_ctx"] = maxInt(asInt(rec["num_ctx"]), 4096)
	}
	if d.Tools {
		rec["presence_penalty"] = 0.1
		if asInt(rec["top_k"]) > 20 {
			rec["top_k"] = 20
		}
		if asInt(rec["num_predict"]) < 300 {
			rec["num_predict"] = 300
		}
	}
	return rec
}

// parameterBillions parses size strings like "8.0B", "13B" or "759 MB"
// into a billions-of-parameters figure.
func parameterBillions(param string) (float64, bool) {
	p := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(param, ",", "")))
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	var digits strings.Builder
	for _, r := range p {
		if r == '.' || (r >= '0' && r <= '9') {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	val, err := strconv.ParseFloat(digits.String(), 64)
	if err != nil {
		return 0, false
	}
	switch {
	case strings.Contains(p, "mb"):
		val /= 1000
	case strings.Contains(p, "kb"):
		val /= 1e6
	}
	return val, true
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
