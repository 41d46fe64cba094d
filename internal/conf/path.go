package conf

import (
	"encoding/json"
	"fmt"
	"strings"
)

func splitPath(path string) []string {
	path = strings.Trim(path, ".")
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func getPath(t Tree, path string) (any, bool) {
	var cur any = t
	for _, seg := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setPath creates intermediate maps as needed. A non-map value sitting on
// an intermediate segment is replaced by a map.
func setPath(t Tree, path string, value any) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return fmt.Errorf("empty config path")
	}
	cur := t
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
	return nil
}

func deletePath(t Tree, path string) bool {
	segs := splitPath(path)
	if len(segs) == 0 {
		return false
	}
	cur := t
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return false
		}
		cur = next
	}
	last := segs[len(segs)-1]
	if _, ok := cur[last]; !ok {
		return false
	}
	delete(cur, last)
	return true
}

// clone deep-copies maps and slices; scalars are shared.
func clone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = clone(vv)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = clone(vv)
		}
		return out
	default:
		return v
	}
}

func cloneTree(t Tree) Tree {
	if t == nil {
		return Tree{}
	}
	return clone(t).(map[string]any)
}

// normalize converts arbitrary Go values into the JSON value space used by
// the tree (map[string]any, []any, float64, string, bool, nil).
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, bool, string, float64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not representable in config: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// deepMerge merges src into dst, recursing into maps present on both sides.
// Nil values in src are ignored.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		if v == nil {
			continue
		}
		if dv, ok := dst[k]; ok {
			dm, dIsMap := dv.(map[string]any)
			sm, sIsMap := v.(map[string]any)
			if dIsMap && sIsMap {
				dst[k] = deepMerge(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}
