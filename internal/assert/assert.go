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

// Package assert provides assertion helpers for comparing discovery
// responses and cache entries, where a plain reflect.DeepEqual failure
// gives no indication of which field diverged.
package assert

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Equal fails the test with a field-level diff if want != got. Errors are
// treated as equal if both are nil or both are non-nil; no message text is
// compared, since wrapped errors rarely compare equal by value.
func Equal(t *testing.T, want, got interface{}) {
	t.Helper()
	opts := []cmp.Option{
		cmp.Comparer(func(x, y error) bool {
			return (x == nil) == (y == nil)
		}),
	}
	diff := cmp.Diff(want, got, opts...)
	if diff != "" {
		t.Fatal(diff)
	}
}
