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

package renderqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sovereignerrors "github.com/sovereignproject/sovereign/internal/errors"
)

func TestPutDeduplicatesConcurrentEnqueuesForSameClient(t *testing.T) {
	q := New(10)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Put(Job{ClientID: "client_1"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, q.Len())
	assert.True(t, q.Pending("client_1"))
}

func TestDoneAllowsReenqueueOfSameClient(t *testing.T) {
	q := New(10)
	require.NoError(t, q.Put(Job{ClientID: "client_1"}))
	assert.Equal(t, 1, q.Len())

	require.NoError(t, q.Put(Job{ClientID: "client_1"}))
	assert.Equal(t, 1, q.Len(), "second put while pending must be a no-op")

	q.Get()
	q.Done("client_1")
	assert.False(t, q.Pending("client_1"))

	require.NoError(t, q.Put(Job{ClientID: "client_1"}))
	assert.Equal(t, 1, q.Len())
}

func TestPutReturnsQueueFullAtCapacity(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Put(Job{ClientID: "a"}))

	err := q.Put(Job{ClientID: "b"})
	require.Error(t, err)
	assert.True(t, sovereignerrors.Is(err, sovereignerrors.KindQueueFull))
}

func TestGetBlocksUntilAJobIsPut(t *testing.T) {
	q := New(10)
	done := make(chan Job, 1)
	go func() { done <- q.Get() }()

	require.NoError(t, q.Put(Job{ClientID: "client_1"}))
	job := <-done
	assert.Equal(t, "client_1", job.ClientID)
}
