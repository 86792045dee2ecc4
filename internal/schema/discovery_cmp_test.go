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

package schema_test

import (
	"testing"

	"github.com/sovereignproject/sovereign/internal/assert"
	"github.com/sovereignproject/sovereign/internal/schema"
)

func TestDiscoveryResponseEqualityIsFieldLevel(t *testing.T) {
	want := schema.DiscoveryResponse{
		VersionInfo: "abc123",
		Resources:   []any{map[string]any{"name": "service-a"}},
	}
	got := schema.DiscoveryResponse{
		VersionInfo: "abc123",
		Resources:   []any{map[string]any{"name": "service-a"}},
	}
	assert.Equal(t, want, got)
}
