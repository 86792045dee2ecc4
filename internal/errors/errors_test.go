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

package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	err := QueueFull("renderqueue.Put")
	wrapped := fmt.Errorf("worker: enqueue failed: %w", err)
	assert.True(t, Is(wrapped, KindQueueFull))
	assert.False(t, Is(wrapped, KindTimeout))
}

func TestUnwrapExposesUnderlyingCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := LoadError("loadable.Load", cause)
	assert.ErrorIs(t, err, cause)
}

func TestQueueFullHasNoUnderlyingCause(t *testing.T) {
	err := QueueFull("renderqueue.Put")
	var e *Error
	requireAs(t, err, &e)
	assert.Nil(t, e.Err)
}

func requireAs(t *testing.T, err error, target any) {
	t.Helper()
	assert.True(t, As(err, target))
}
