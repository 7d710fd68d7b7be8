package configutil

import (
	"sort"
	"strings"
)

// Schema describes the keys a vendor settings block may carry.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// SettingsError lists the keys that failed validation, sorted.
type SettingsError struct {
	Missing []string
	Unknown []string
}

func (e *SettingsError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(e.Unknown, ", "))
	}
	return strings.Join(parts, "; ")
}

// ValidateSettings checks input against schema and returns a *SettingsError
// on failure. Keys match regardless of case, underscores and hyphens; a
// required key holding a blank string counts as missing.
func ValidateSettings(input map[string]any, schema Schema) error {
	required := make(map[string]string, len(schema.Required))
	for _, k := range schema.Required {
		required[normalizeKey(k)] = k
	}
	allowed := make(map[string]bool, len(schema.Required)+len(schema.Optional))
	for nk := range required {
		allowed[nk] = true
	}
	for _, k := range schema.Optional {
		allowed[normalizeKey(k)] = true
	}

	var serr SettingsError
	present := make(map[string]bool, len(input))
	for k, v := range input {
		nk := normalizeKey(k)
		if !allowed[nk] && !schema.AllowUnknown {
			serr.Unknown = append(serr.Unknown, k)
		}
		if blank(v) {
			continue
		}
		present[nk] = true
	}
	for nk, name := range required {
		if !present[nk] {
			serr.Missing = append(serr.Missing, name)
		}
	}

	if len(serr.Missing) == 0 && len(serr.Unknown) == 0 {
		return nil
	}
	sort.Strings(serr.Missing)
	sort.Strings(serr.Unknown)
	return &serr
}

func blank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}
