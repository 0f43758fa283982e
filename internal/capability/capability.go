// Package capability derives best-effort capability flags for served
// models from their names and family metadata. Detection is heuristic,
// not authoritative: a model the table does not recognize simply reports
// no capabilities.
package capability

import (
	"regexp"
	"strings"

	"modelproxy/pkg/types"
)

var tokenSplit = regexp.MustCompile(`[-_:.]`)

// Detect returns the capability flags for a model name plus its reported
// families. All three flags are always defined; unknown names yield false
// across the board.
func (t *Table) Detect(name string, families []string) types.Capabilities {
	var caps types.Capabilities
	nameLower := strings.ToLower(name)
	if nameLower == "" && len(families) == 0 {
		return caps
	}

	caps.Vision = t.detectVision(nameLower, families)
	caps.Tools = t.detectTools(nameLower)
	caps.Reasoning = t.detectReasoning(nameLower)
	return caps
}

func (t *Table) detectVision(nameLower string, families []string) bool {
	for _, re := range t.vision {
		if re.MatchString(nameLower) {
			return true
		}
	}
	for _, fam := range families {
		famLower := strings.ToLower(fam)
		for _, ind := range t.visionFamilies {
			if strings.Contains(famLower, ind) {
				return true
			}
		}
	}
	return false
}

func (t *Table) detectTools(nameLower string) bool {
	matched := false
	for _, re := range t.tools {
		if re.MatchString(nameLower) {
			matched = true
			break
		}
	}
	if matched {
		// legacy major versions predate tool support
		for _, re := range t.toolExclude {
			if re.MatchString(nameLower) {
				matched = false
				break
			}
		}
	}
	if matched {
		return true
	}
	for _, ind := range t.toolIndicators {
		if strings.Contains(nameLower, ind) {
			return true
		}
	}
	return false
}

func (t *Table) detectReasoning(nameLower string) bool {
	for _, re := range t.reasoning {
		if re.MatchString(nameLower) {
			return true
		}
	}
	// bare r1 tokens only count for known reasoning bases, and not for
	// names that look like plain v1 versioning
	tokens := tokenSplit.Split(nameLower, -1)
	hasR1 := false
	for _, tok := range tokens {
		if tok == "r1" || tok == "r-1" {
			hasR1 = true
		}
		if strings.HasPrefix(tok, "v1") {
			hasR1 = false
			break
		}
	}
	if hasR1 {
		for _, base := range t.reasoningBases {
			if strings.Contains(nameLower, base) {
				return true
			}
		}
	}
	for _, ind := range t.reasonIndicator {
		if strings.Contains(nameLower, ind) {
			return true
		}
	}
	return false
}

// Ensure fills in capability flags on a descriptor when absent, reusing
// existing flags otherwise. Flags are always concrete booleans afterward.
func (t *Table) Ensure(d *types.ModelDescriptor) {
	if d.Vision || d.Tools || d.Reasoning {
		return
	}
	d.Capabilities = t.Detect(d.Name, d.Details.Families)
}
