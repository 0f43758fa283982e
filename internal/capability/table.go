package capability

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// TableSpec is the serializable form of a pattern table. Keeping the
// heuristics as data lets the lists be revised without touching detection
// logic; they need periodic maintenance as new model families appear.
type TableSpec struct {
	Version string `yaml:"version"`

	Vision      []string `yaml:"vision"`
	Tools       []string `yaml:"tools"`
	ToolExclude []string `yaml:"tool_exclude"`
	Reasoning   []string `yaml:"reasoning"`

	// Plain-substring indicator lists.
	VisionFamilies  []string `yaml:"vision_families"`
	ToolIndicators  []string `yaml:"tool_indicators"`
	ReasonIndicator []string `yaml:"reasoning_indicators"`

	// Base names that make a bare "r1" token count as a reasoning marker.
	ReasoningBases []string `yaml:"reasoning_bases"`
}

// Table is a compiled pattern table ready for detection.
type Table struct {
	Version string

	vision      []*regexp.Regexp
	tools       []*regexp.Regexp
	toolExclude []*regexp.Regexp
	reasoning   []*regexp.Regexp

	visionFamilies  []string
	toolIndicators  []string
	reasonIndicator []string
	reasoningBases  []string
}

// defaultSpec is the built-in pattern table, version-tagged so health and
// logs can report which revision produced a verdict.
var defaultSpec = TableSpec{
	Version: "2025-08",
	Vision: []string{
		`llava`, `bakllava`, `moondream`, `qwen.*vl`, `cogvlm`, `yi.*vl`,
		`deepseek.*vl`, `paligemma`, `fuyu`, `idefics`,
		`.*vl\b`, `.*vision\b`, `.*multimodal\b`,
	},
	Tools: []string{
		`llama3\.[1-9]`, `llama.*3\.[1-9]`,
		`mistral`, `mixtral`, `mistral.*large`,
		`qwen2\.5`, `qwen3`, `qwen.*2\.5`, `qwen.*3`,
		`command.*r`,
		`firefunction`, `granite3`, `hermes3`, `nemotron`,
		`aya`, `phi.*3\.5`, `phi.*4`,
	},
	ToolExclude: []string{
		`llama3\.0`, `llama2`,
		`qwen2\.0`, `qwen.*2\.0`,
		`hermes2`, `hermes.*2`, `qwen.*1\.`, `mistral.*7b`,
	},
	Reasoning: []string{
		`deepseek.*r1`, `deepseek.*reasoning`,
		`qwq`, `qwen.*qwq`, `qwen.*reasoning`,
		`marco.*o1`, `k0.*math`, `.*reasoning`, `.*think`,
		`.*\bcot\b`, `.*chain.*thought`,
	},
	VisionFamilies:  []string{"clip", "projector", "vision", "multimodal", "vl", "llava", "siglip"},
	ToolIndicators:  []string{"tools", "function-calling", "tool-use"},
	ReasonIndicator: []string{"math", "reasoning", "thinking", "think", "cognitive"},
	ReasoningBases:  []string{"deepseek", "llama", "qwen", "phi", "mixtral", "marco", "qwq"},
}

// DefaultTable returns the compiled built-in table.
func DefaultTable() *Table {
	t, err := Compile(defaultSpec)
	if err != nil {
		// the built-in spec is validated by tests; a bad pattern here is a bug
		panic(fmt.Sprintf("capability: default table: %v", err))
	}
	return t
}

// Compile builds a Table from a spec, validating every pattern.
func Compile(spec TableSpec) (*Table, error) {
	t := &Table{
		Version:         spec.Version,
		visionFamilies:  spec.VisionFamilies,
		toolIndicators:  spec.ToolIndicators,
		reasonIndicator: spec.ReasonIndicator,
		reasoningBases:  spec.ReasoningBases,
	}
	var err error
	if t.vision, err = compileAll(spec.Vision); err != nil {
		return nil, fmt.Errorf("vision: %w", err)
	}
	if t.tools, err = compileAll(spec.Tools); err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}
	if t.toolExclude, err = compileAll(spec.ToolExclude); err != nil {
		return nil, fmt.Errorf("tool_exclude: %w", err)
	}
	if t.reasoning, err = compileAll(spec.Reasoning); err != nil {
		return nil, fmt.Errorf("reasoning: %w", err)
	}
	return t, nil
}

// LoadTable reads a TableSpec from a YAML file and compiles it.
func LoadTable(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec TableSpec
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return nil, fmt.Errorf("parse pattern table: %w", err)
	}
	return Compile(spec)
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
