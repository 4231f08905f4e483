package config

import (
	"fmt"
)

// Key describes one recognized configuration option: a flat registry
// of dot-path keys with defaults and a validator, rather than a nested
// struct per subsystem, so new keys are additive without touching
// callers.
type Key struct {
	Path        string
	Description string
	Default     any
	Validate    func(any) error
}

func rangeInt(min, max int) func(any) error {
	return func(v any) error {
		n, ok := asInt(v)
		if !ok {
			return fmt.Errorf("expected integer, got %T", v)
		}
		if n < min || n > max {
			return fmt.Errorf("value %d out of range [%d, %d]", n, min, max)
		}
		return nil
	}
}

func rangeFloat(min, max float64) func(any) error {
	return func(v any) error {
		f, ok := asFloat(v)
		if !ok {
			return fmt.Errorf("expected number, got %T", v)
		}
		if f < min || f > max {
			return fmt.Errorf("value %v out of range [%v, %v]", f, min, max)
		}
		return nil
	}
}

func validateBool(v any) error {
	if _, ok := v.(bool); !ok {
		return fmt.Errorf("expected bool, got %T", v)
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Keys enumerates every recognized option.
var Keys = []Key{
	{Path: "version", Description: "config schema version", Default: "1"},
	{Path: "sessionStart.enabled", Description: "run session-start hook", Default: true, Validate: validateBool},
	{Path: "sessionStart.timeoutMs", Description: "session-start overall timeout", Default: 1000},
	{Path: "sessionStart.slots.maxTotal", Description: "max memories surfaced at session start", Default: 5, Validate: rangeInt(1, 20)},
	{Path: "sessionStart.slots.maxTokens", Description: "max tokens surfaced at session start", Default: 2000, Validate: rangeInt(100, 10000)},
	{Path: "sessionEnd.enabled", Description: "run session-end extraction", Default: true, Validate: validateBool},
	{Path: "sessionEnd.extractionThreshold", Description: "min confidence to persist a candidate record", Default: 0.6, Validate: rangeFloat(0, 1)},
	{Path: "queryOrchestrator.defaultTimeout", Description: "per-adapter default timeout ms", Default: 2000, Validate: rangeInt(50, 10000)},
	{Path: "ladsCore.evolution.enabled", Description: "enable adaptive scoring weight evolution", Default: false, Validate: validateBool},
	{Path: "ladsCore.evolution.maxChangePercent", Description: "max per-sweep weight change", Default: 0.1, Validate: rangeFloat(0.01, 0.5)},
	{Path: "storage.maxSizeMB", Description: "soft cap on total tier storage", Default: 200, Validate: rangeInt(10, 1000)},
	{Path: "vectorSearch.vectorWeight", Description: "RRF weight for vector results", Default: 0.6, Validate: rangeFloat(0, 1)},
	{Path: "vectorSearch.bm25Weight", Description: "RRF weight for BM25 results", Default: 0.4, Validate: rangeFloat(0, 1)},
	{Path: "vectorSearch.rrfK", Description: "RRF smoothing constant", Default: 60, Validate: rangeInt(1, 1000)},
	{Path: "vectorSearch.minScore", Description: "fused-score cutoff", Default: 0.0, Validate: rangeFloat(0, 1)},
}

var keyIndex map[string]*Key

func init() {
	keyIndex = make(map[string]*Key, len(Keys))
	for i := range Keys {
		keyIndex[Keys[i].Path] = &Keys[i]
	}
}

// LookupKey returns the Key definition for path, or nil if unrecognized.
// Unrecognized keys (e.g. queryOrchestrator.sources[].name) are still
// permitted in the document; only the keys above are validated.
func LookupKey(path string) *Key { return keyIndex[path] }

// ValidateKey checks value against path's registered validator, if any.
func ValidateKey(path string, value any) error {
	k := LookupKey(path)
	if k == nil || k.Validate == nil {
		return nil
	}
	if err := k.Validate(value); err != nil {
		return fmt.Errorf("config key %q: %w", path, err)
	}
	return nil
}

// Defaults builds the built-in default document as a nested map, the
// fallback of last resort when both current and history are corrupt.
func Defaults() map[string]any {
	doc := make(map[string]any)
	for _, k := range Keys {
		setDotPath(doc, k.Path, k.Default)
	}
	return doc
}
