package constants

import (
	"sort"
	"strings"
)

// ModelMode is the caller-requested model tier for an extraction.
type ModelMode string

const (
	ModeNormal ModelMode = "normal"
	ModePro    ModelMode = "pro"
	ModeLocal  ModelMode = "local"
)

var allModes = []ModelMode{ModeNormal, ModePro, ModeLocal}

var modeSynonyms = map[string]ModelMode{
	"default": ModeNormal,
	"auto":    ModeNormal,
	"max":     ModePro,
	"high":    ModePro,
	"offline": ModeLocal,
	"ollama":  ModeLocal,
}

func ModesAsStringSlice() []string {
	result := make([]string, len(allModes))
	for i, m := range allModes {
		result[i] = string(m)
	}
	return result
}

// ModeInputs lists every accepted spelling of a mode, synonyms included.
func ModeInputs() []string {
	result := ModesAsStringSlice()
	for s := range modeSynonyms {
		result = append(result, s)
	}
	sort.Strings(result[len(allModes):])
	return result
}

// ParseModelMode maps user input onto a mode. Empty input means normal.
func ParseModelMode(input string) (ModelMode, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return ModeNormal, true
	}

	if m, ok := modeSynonyms[normalized]; ok {
		return m, true
	}

	for _, m := range allModes {
		if normalized == string(m) {
			return m, true
		}
	}
	return ModeNormal, false
}

// Bypasses reports whether the mode skips routing.
func (m ModelMode) Bypasses() bool {
	return m == ModePro || m == ModeLocal
}
