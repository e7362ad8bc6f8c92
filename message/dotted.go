/******************************************************************************
 *
 *  Description :
 *    Dotted-path accessors over the schema-less message body. The body
 *    is a dynamic JSON object (map[string]interface{}); these helpers
 *    let callers address nested fields ("a.b.c") without hand-walking
 *    the map, and round-trip cleanly through nested objects.
 *
 *****************************************************************************/
package message

import "strings"

// GetDotted returns the value at the dotted path within m, and whether it
// was present.
func GetDotted(m map[string]interface{}, path string) (interface{}, bool) {
	segs := strings.Split(path, ".")
	cur := interface{}(m)
	for _, seg := range segs {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := asMap[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// HasDotted reports whether the dotted path is present in m.
func HasDotted(m map[string]interface{}, path string) bool {
	_, ok := GetDotted(m, path)
	return ok
}

// PutDotted sets the value at the dotted path within m, creating
// intermediate objects as needed.
func PutDotted(m map[string]interface{}, path string, value interface{}) {
	segs := strings.Split(path, ".")
	cur := m
	for i := 0; i < len(segs)-1; i++ {
		seg := segs[i]
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// RemoveDotted deletes the value at the dotted path within m, if present,
// and reports whether anything was removed. Emptied intermediate objects
// are left in place (they are harmless, schema-less JSON).
func RemoveDotted(m map[string]interface{}, path string) bool {
	segs := strings.Split(path, ".")
	cur := m
	for i := 0; i < len(segs)-1; i++ {
		next, ok := cur[segs[i]].(map[string]interface{})
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
