// Copyright Project Contour Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package instance provides an opaque, dynamically-typed data tree for the
// values returned by sources. Upstream sources can be backed by YAML, JSON,
// or an in-process generator, so an instance is a tagged union over the
// handful of shapes those encodings actually produce: scalars, lists, and
// string-keyed maps. Callers navigate it with dotted paths rather than type
// assertions, mirroring the way the render pipeline and node matcher walk
// untyped data pulled from sources and node metadata.
package instance

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Value wraps a single node of the tree. The zero Value holds nil.
type Value struct {
	raw any
}

// New wraps an arbitrary decoded value (as produced by encoding/json or
// yaml.v3) in a Value.
func New(raw any) Value {
	return Value{raw: normalize(raw)}
}

// normalize recursively converts map[any]any (as yaml.v3 can emit for
// non-string keys) into map[string]any, and leaves everything else as-is.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

// Raw returns the underlying decoded value.
func (v Value) Raw() any {
	return v.raw
}

// IsZero reports whether the value is nil.
func (v Value) IsZero() bool {
	return v.raw == nil
}

// Map returns the value as a string-keyed map and whether the assertion
// succeeded.
func (v Value) Map() (map[string]any, bool) {
	m, ok := v.raw.(map[string]any)
	return m, ok
}

// List returns the value as a slice and whether the assertion succeeded.
func (v Value) List() ([]any, bool) {
	l, ok := v.raw.([]any)
	return l, ok
}

// String returns the value coerced to a string. Non-string scalars are
// formatted with fmt, matching the loose typing sources commonly produce.
func (v Value) String() string {
	if v.raw == nil {
		return ""
	}
	if s, ok := v.raw.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v.raw)
}

// Path navigates a dotted path expression (e.g. "node.metadata.region")
// through nested maps and, for numeric segments, lists. It returns the zero
// Value and false if any segment is missing or the wrong shape.
func (v Value) Path(path string) (Value, bool) {
	cur := v
	if path == "" {
		return cur, true
	}
	for _, seg := range strings.Split(path, ".") {
		m, isMap := cur.Map()
		if isMap {
			next, ok := m[seg]
			if !ok {
				return Value{}, false
			}
			cur = New(next)
			continue
		}
		l, isList := cur.List()
		if isList {
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(l) {
				return Value{}, false
			}
			cur = New(l[idx])
			continue
		}
		return Value{}, false
	}
	return cur, true
}

// SortedKeys returns the keys of a map value in lexical order, or nil if the
// value is not a map. Used wherever deterministic iteration order matters,
// such as cache-key fingerprinting.
func (v Value) SortedKeys() []string {
	m, ok := v.Map()
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns a new Value produced by shallow-merging override's top-level
// keys into base, with override winning on conflicts. Both values must be
// maps, or base is returned unmodified.
func Merge(base, override Value) Value {
	baseMap, ok := base.Map()
	if !ok {
		return override
	}
	overrideMap, ok := override.Map()
	if !ok {
		return base
	}
	out := make(map[string]any, len(baseMap)+len(overrideMap))
	for k, val := range baseMap {
		out[k] = val
	}
	for k, val := range overrideMap {
		out[k] = val
	}
	return New(out)
}
