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

package xdstypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeURLKnownPairs(t *testing.T) {
	url, ok := TypeURL("v3", "clusters")
	assert.True(t, ok)
	assert.Equal(t, "type.googleapis.com/envoy.config.cluster.v3.Cluster", url)

	url, ok = TypeURL("v2", "secrets")
	assert.True(t, ok)
	assert.Equal(t, "type.googleapis.com/envoy.api.v2.auth.Secret", url)
}

func TestTypeURLRuntimeIsV3Only(t *testing.T) {
	_, ok := TypeURL("v2", "runtime")
	assert.False(t, ok)

	url, ok := TypeURL("v3", "runtime")
	assert.True(t, ok)
	assert.Equal(t, "type.googleapis.com/envoy.service.runtime.v3.Runtime", url)
}

func TestTypeURLUnknownVersion(t *testing.T) {
	_, ok := TypeURL("v4", "clusters")
	assert.False(t, ok)
}

func TestResourceNamePrefersNameOverClusterName(t *testing.T) {
	n, ok := ResourceName(map[string]any{"name": "a", "cluster_name": "b"})
	assert.True(t, ok)
	assert.Equal(t, "a", n)
}

func TestResourceNameFallsBackToClusterName(t *testing.T) {
	n, ok := ResourceName(map[string]any{"cluster_name": "b"})
	assert.True(t, ok)
	assert.Equal(t, "b", n)
}

func TestResourceNameMissingBoth(t *testing.T) {
	_, ok := ResourceName(map[string]any{})
	assert.False(t, ok)
}
