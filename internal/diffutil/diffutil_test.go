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

package diffutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepDetectsAddedKey(t *testing.T) {
	old := map[string]any{"a": 1}
	new := map[string]any{"a": 1, "b": 2}
	changes := Deep(old, new, "")
	require.Len(t, changes, 1)
	assert.Equal(t, OpAdd, changes[0].Op)
	assert.Equal(t, "b", changes[0].Path)
}

func TestDeepDetectsRemovedKey(t *testing.T) {
	old := map[string]any{"a": 1, "b": 2}
	new := map[string]any{"a": 1}
	changes := Deep(old, new, "")
	require.Len(t, changes, 1)
	assert.Equal(t, OpRemove, changes[0].Op)
	assert.Equal(t, "b", changes[0].Path)
}

func TestDeepDetectsChangedScalar(t *testing.T) {
	old := map[string]any{"a": 1}
	new := map[string]any{"a": 2}
	changes := Deep(old, new, "")
	require.Len(t, changes, 1)
	assert.Equal(t, OpChange, changes[0].Op)
	assert.EqualValues(t, 1, changes[0].OldValue)
	assert.EqualValues(t, 2, changes[0].NewValue)
}

func TestDeepRecursesIntoNestedMapsAndLists(t *testing.T) {
	old := map[string]any{
		"cluster": map[string]any{"name": "a", "endpoints": []any{"1.1.1.1"}},
	}
	new := map[string]any{
		"cluster": map[string]any{"name": "a", "endpoints": []any{"1.1.1.1", "2.2.2.2"}},
	}
	changes := Deep(old, new, "")
	require.Len(t, changes, 1)
	assert.Equal(t, OpAdd, changes[0].Op)
	assert.Equal(t, "cluster.endpoints[1]", changes[0].Path)
}

func TestDeepNoChangesReturnsEmpty(t *testing.T) {
	old := map[string]any{"a": 1, "b": []any{1, 2}}
	new := map[string]any{"a": 1, "b": []any{1, 2}}
	assert.Empty(t, Deep(old, new, ""))
}

func TestPerFieldIsolatesIndividualInstanceChanges(t *testing.T) {
	old := []any{
		map[string]any{"name": "a"},
		map[string]any{"name": "b"},
	}
	new := []any{
		map[string]any{"name": "a"},
		map[string]any{"name": "b-renamed"},
		map[string]any{"name": "c"},
	}
	changes := PerField(old, new)

	var addedPaths []string
	for _, c := range changes {
		if c.Op == OpAdd {
			addedPaths = append(addedPaths, c.Path)
		}
	}
	assert.Contains(t, addedPaths, "[2]")
}

func TestFingerprintIsDeterministic(t *testing.T) {
	summary := map[string]any{"type": "update", "scopes": map[string]any{"default": 1}}
	a, err := Fingerprint(summary)
	require.NoError(t, err)
	b, err := Fingerprint(summary)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
