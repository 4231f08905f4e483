package config

import "strings"

// setDotPath assigns value at the dotted path into doc, creating
// intermediate maps as needed.
func setDotPath(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := doc
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return
		}
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
}

// getDotPath reads the dotted path from doc, returning (value, true)
// if present, or (nil, false) otherwise.
func getDotPath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// mergeInto deep-merges src into dst, overwriting scalar values and
// recursing into nested maps, used by update(partial, reason).
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			existing, ok := dst[k].(map[string]any)
			if !ok {
				existing = make(map[string]any)
				dst[k] = existing
			}
			mergeInto(existing, sub)
			continue
		}
		dst[k] = v
	}
}

// cloneMap performs a deep copy of a nested map[string]any document.
func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = cloneMap(sub)
			continue
		}
		out[k] = v
	}
	return out
}
