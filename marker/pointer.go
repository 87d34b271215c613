package marker

import "strings"

// buildTree assembles the slash-delimited pointer paths in raw into a nested
// parameters object (spec.md §4.1 INSIDE_ARGS) and lifts any `dependencies/*`
// entries into the declared-dependencies list (spec.md §4.3 input). order
// gives first-seen pointer order so sibling arrays/maps are built
// deterministically.
func buildTree(raw map[string]string, order []string) (map[string]any, []string) {
	root := map[string]any{}
	var deps []string
	depSeen := map[string]bool{}

	for _, ptr := range order {
		if strings.HasPrefix(ptr, "__collisions__/") {
			continue
		}
		val := raw[ptr]
		segs := strings.Split(ptr, "/")
		if segs[0] == "dependencies" {
			if !depSeen[val] {
				depSeen[val] = true
				deps = append(deps, val)
			}
			continue
		}
		setPointer(root, segs, val)
	}
	return root, deps
}

// setPointer writes val at the nested path described by segs, creating
// intermediate maps as needed. Numeric segments are treated as map keys
// (e.g. "0", "1") rather than true array indices; callers that want arrays
// convert via schema validation, matching spec.md §4.2's "scalar decoding is
// the validator's job, not the parser's".
func setPointer(root map[string]any, segs []string, val string) {
	cur := root
	for i, seg := range segs {
		if i == len(segs)-1 {
			cur[seg] = val
			return
		}
		next, ok := cur[seg]
		if !ok {
			nm := map[string]any{}
			cur[seg] = nm
			cur = nm
			continue
		}
		nm, ok := next.(map[string]any)
		if !ok {
			nm = map[string]any{}
			cur[seg] = nm
		}
		cur = nm
	}
}
