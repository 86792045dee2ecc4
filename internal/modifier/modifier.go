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

// Package modifier defines the two capability interfaces the source poller
// applies to instance data after every refresh: Modifier, which changes one
// instance in-place when it matches, and GlobalModifier, which reshapes an
// entire scope's instance list at once (for example merging instances that
// share a key). Both are resolved from a build-time registry by the names
// listed in configuration, not looked up dynamically at runtime.
package modifier

import "fmt"

// Modifier changes a single instance in-place when Match reports true.
type Modifier interface {
	Match(instance map[string]any) bool
	Apply(instance map[string]any)
}

// GlobalModifier reshapes a whole scope's instance list. Implementations
// partition the input into matched/unmatched via Match, transform matched
// in Apply, then Join recombines the two sets.
type GlobalModifier interface {
	Match(instance map[string]any) bool
	Apply(matched []map[string]any) []map[string]any
}

var (
	modifiers       = map[string]Modifier{}
	globalModifiers = map[string]GlobalModifier{}
)

// Register adds a per-instance modifier to the build-time registry.
func Register(name string, m Modifier) {
	if _, exists := modifiers[name]; exists {
		panic(fmt.Sprintf("modifier: %q already registered", name))
	}
	modifiers[name] = m
}

// RegisterGlobal adds a whole-scope modifier to the build-time registry.
func RegisterGlobal(name string, m GlobalModifier) {
	if _, exists := globalModifiers[name]; exists {
		panic(fmt.Sprintf("modifier: global %q already registered", name))
	}
	globalModifiers[name] = m
}

// Lookup resolves configured modifier names to their registered
// implementations, in the order given, erroring if any name is unknown.
func Lookup(names []string) ([]Modifier, error) {
	out := make([]Modifier, 0, len(names))
	for _, name := range names {
		m, ok := modifiers[name]
		if !ok {
			return nil, fmt.Errorf("modifier: unknown modifier %q", name)
		}
		out = append(out, m)
	}
	return out, nil
}

// LookupGlobal is Lookup for global modifiers.
func LookupGlobal(names []string) ([]GlobalModifier, error) {
	out := make([]GlobalModifier, 0, len(names))
	for _, name := range names {
		m, ok := globalModifiers[name]
		if !ok {
			return nil, fmt.Errorf("modifier: unknown global modifier %q", name)
		}
		out = append(out, m)
	}
	return out, nil
}

// Apply runs every global modifier (in order) over instances, then every
// per-instance modifier (in order, global before per-instance within a
// scope) over the result. Each instance is deep-copied before
// modification so the caller's original source data is never mutated.
func Apply(instances []map[string]any, global []GlobalModifier, perInstance []Modifier) []map[string]any {
	current := instances
	for _, g := range global {
		var matched, unmatched []map[string]any
		for _, inst := range current {
			if g.Match(inst) {
				matched = append(matched, deepCopy(inst))
			} else {
				unmatched = append(unmatched, inst)
			}
		}
		current = append(g.Apply(matched), unmatched...)
	}

	out := make([]map[string]any, len(current))
	for i, inst := range current {
		copied := deepCopy(inst)
		for _, m := range perInstance {
			if m.Match(copied) {
				m.Apply(copied)
			}
		}
		out[i] = copied
	}
	return out
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
