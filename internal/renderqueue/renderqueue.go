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

// Package renderqueue is the bounded, deduplicating work queue between a
// client registration (or a broadcast context change) and the render pool:
// at most one render per client id is ever in flight, and a burst of
// repeated enqueues for the same id collapses into a single pending job.
package renderqueue

import (
	"github.com/sovereignproject/sovereign/internal/errors"
	"github.com/sovereignproject/sovereign/internal/schema"
)

// Job is one unit of render work: render the current configuration for
// ClientID using Request.
type Job struct {
	ClientID string
	Request  schema.DiscoveryRequest
}

// Queue is a bounded channel of Jobs plus a dedup set tracking which client
// ids currently have a job either queued or being processed. The dedup set
// is why this isn't just `chan Job`: a channel alone can't answer "is
// client_1 already pending" without draining it.
type Queue struct {
	capacity int
	jobs     chan Job
	pending  map[string]struct{}
	mu       chan struct{} // 1-buffered channel used as a non-blocking mutex-with-select
}

// New returns a Queue bounded at capacity (spec default: 10).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 10
	}
	q := &Queue{
		capacity: capacity,
		jobs:     make(chan Job, capacity),
		pending:  map[string]struct{}{},
		mu:       make(chan struct{}, 1),
	}
	q.mu <- struct{}{}
	return q
}

func (q *Queue) lock()   { <-q.mu }
func (q *Queue) unlock() { q.mu <- struct{}{} }

// Put enqueues job unless job.ClientID is already pending, in which case it
// is a no-op (the already-queued job will render the latest state once it
// runs, since the renderer re-reads current data rather than using a
// snapshot captured at enqueue time). Returns errors.QueueFull if the queue
// is at capacity and job.ClientID isn't already pending.
func (q *Queue) Put(job Job) error {
	q.lock()
	defer q.unlock()

	if _, ok := q.pending[job.ClientID]; ok {
		return nil
	}

	select {
	case q.jobs <- job:
		q.pending[job.ClientID] = struct{}{}
		return nil
	default:
		return errors.QueueFull("renderqueue.Put")
	}
}

// Get blocks until a job is available and returns it. The job remains
// "pending" (blocking further Puts for the same client id) until Done is
// called with its ClientID.
func (q *Queue) Get() Job {
	return <-q.jobs
}

// Done marks clientID's job complete, allowing a future Put for the same id
// to enqueue again.
func (q *Queue) Done(clientID string) {
	q.lock()
	defer q.unlock()
	delete(q.pending, clientID)
}

// Len reports the number of jobs currently sitting in the channel buffer
// (not counting one that has been Get but not yet Done).
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Pending reports whether clientID currently has a job queued or in flight.
func (q *Queue) Pending(clientID string) bool {
	q.lock()
	defer q.unlock()
	_, ok := q.pending[clientID]
	return ok
}
