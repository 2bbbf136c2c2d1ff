// Package extract walks decoded JSON order data and pulls out the
// entitlement records the redemption pipeline operates on.
package extract

import "sort"

// Find traverses node depth-first looking for maps containing key. For each
// hit it calls yield with the value stored under key, or with the enclosing
// map itself when parents is true. Children of a matched map are still
// traversed, so nested occurrences also surface. Slices are visited in
// order; map values are visited in sorted-key order so traversal is
// deterministic. Returns false if yield stopped the traversal early.
//
// No de-duplication happens here; callers own that.
func Find(node any, key string, parents bool, yield func(any) bool) bool {
	switch n := node.(type) {
	case []any:
		for _, item := range n {
			if !Find(item, key, parents, yield) {
				return false
			}
		}
	case map[string]any:
		if v, ok := n[key]; ok {
			hit := any(v)
			if parents {
				hit = n
			}
			if !yield(hit) {
				return false
			}
		}
		for _, k := range sortedKeys(n) {
			if !Find(n[k], key, parents, yield) {
				return false
			}
		}
	}
	return true
}

// Collect returns every value stored under key anywhere inside node.
func Collect(node any, key string) []any {
	var out []any
	Find(node, key, false, func(v any) bool {
		out = append(out, v)
		return true
	})
	return out
}

// CollectMaps returns every map containing key anywhere inside node.
func CollectMaps(node any, key string) []map[string]any {
	var out []map[string]any
	Find(node, key, true, func(v any) bool {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
		return true
	})
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
