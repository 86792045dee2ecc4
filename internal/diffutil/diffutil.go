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

// Package diffutil produces structural, field-level diffs between two
// decoded JSON-like trees. The source poller uses it to summarise what
// changed between consecutive polls of an upstream source, for logging and
// for the deterministic change-id it attaches to each refresh.
package diffutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Op names a single structural change.
type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpChange Op = "change"
)

// Change is one entry of a diff: a value was added, removed, or changed at
// path.
type Change struct {
	Op       Op     `json:"op"`
	Path     string `json:"path"`
	Value    any    `json:"value,omitempty"`
	OldValue any    `json:"old_value,omitempty"`
	NewValue any    `json:"new_value,omitempty"`
}

// Deep recursively compares old and new, both assumed to be values decoded
// from JSON or YAML (map[string]any, []any, and scalars), and returns every
// structural change between them ordered by map keys and list index.
func Deep(old, new any, path string) []Change {
	var changes []Change

	if old == nil && new == nil {
		return changes
	}
	if old == nil {
		return []Change{{Op: OpAdd, Path: path, Value: new}}
	}
	if new == nil {
		return []Change{{Op: OpRemove, Path: path, OldValue: old}}
	}

	oldMap, oldIsMap := old.(map[string]any)
	newMap, newIsMap := new.(map[string]any)
	oldList, oldIsList := old.([]any)
	newList, newIsList := new.([]any)

	switch {
	case oldIsMap && newIsMap:
		changes = append(changes, diffMaps(oldMap, newMap, path)...)
	case oldIsList && newIsList:
		changes = append(changes, diffLists(oldList, newList, path)...)
	case reflect.TypeOf(old) != reflect.TypeOf(new):
		changes = append(changes, Change{Op: OpChange, Path: path, OldValue: old, NewValue: new})
	default:
		if !reflect.DeepEqual(old, new) {
			changes = append(changes, Change{Op: OpChange, Path: path, OldValue: old, NewValue: new})
		}
	}

	return changes
}

func diffMaps(old, new map[string]any, path string) []Change {
	var changes []Change

	keys := make(map[string]struct{}, len(old)+len(new))
	for k := range old {
		keys[k] = struct{}{}
	}
	for k := range new {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, key := range sorted {
		oldVal, oldOK := old[key]
		newVal, newOK := new[key]

		childPath := key
		if path != "" {
			childPath = path + "." + key
		}

		switch {
		case !oldOK:
			changes = append(changes, Change{Op: OpAdd, Path: childPath, Value: newVal})
		case !newOK:
			changes = append(changes, Change{Op: OpRemove, Path: childPath, OldValue: oldVal})
		case !reflect.DeepEqual(oldVal, newVal):
			changes = append(changes, Deep(oldVal, newVal, childPath)...)
		}
	}
	return changes
}

func diffLists(old, new []any, path string) []Change {
	var changes []Change

	max := len(old)
	if len(new) > max {
		max = len(new)
	}

	for i := 0; i < max; i++ {
		childPath := fmt.Sprintf("%s[%d]", path, i)

		switch {
		case i >= len(old):
			changes = append(changes, Change{Op: OpAdd, Path: childPath, Value: new[i]})
		case i >= len(new):
			changes = append(changes, Change{Op: OpRemove, Path: childPath, OldValue: old[i]})
		case !reflect.DeepEqual(old[i], new[i]):
			changes = append(changes, Deep(old[i], new[i], childPath)...)
		}
	}
	return changes
}

// PerField diffs two slices item-by-item (rather than treating the whole
// slice as one value), so that adding or removing one instance from a scope
// doesn't make every later instance look changed.
func PerField(old, new []any) []Change {
	var changes []Change

	max := len(old)
	if len(new) > max {
		max = len(new)
	}

	for i := 0; i < max; i++ {
		var oldInst, newInst any
		if i < len(old) {
			oldInst = old[i]
		}
		if i < len(new) {
			newInst = new[i]
		}

		path := fmt.Sprintf("[%d]", i)
		switch {
		case oldInst == nil:
			changes = append(changes, Change{Op: OpAdd, Path: path, Value: newInst})
		case newInst == nil:
			changes = append(changes, Change{Op: OpRemove, Path: path, OldValue: oldInst})
		case !reflect.DeepEqual(oldInst, newInst):
			changes = append(changes, Deep(oldInst, newInst, path)...)
		}
	}
	return changes
}

// Fingerprint derives a stable identifier for a diff summary by hashing its
// canonical (key-sorted) JSON encoding. Used as the change id attached to a
// source refresh event.
func Fingerprint(summary any) (string, error) {
	b, err := canonicalJSON(summary)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(v any) ([]byte, error) {
	// json.Marshal already sorts map[string]any keys, which is sufficient
	// for the map-of-scalars-and-slices summaries this package produces.
	return json.Marshal(v)
}
