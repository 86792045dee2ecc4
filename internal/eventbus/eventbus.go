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

// Package eventbus is a small topic-based publish/subscribe primitive used
// to decouple the poller and the template context scheduler from whatever
// drives render fan-out, instead of the two holding references to each
// other.
package eventbus

import "sync"

// Topic names a channel of events. The worker listens on SourcesChanged and
// ContextChanged to decide when to re-render for every registered client.
type Topic string

const (
	SourcesChanged Topic = "SOURCES_CHANGED"
	ContextChanged Topic = "CONTEXT_CHANGED"
)

// Bus fans out published events to every subscriber of a topic.
type Bus struct {
	mu   sync.Mutex
	subs map[Topic][]chan struct{}
}

// New returns a ready-to-use Bus.
func New() *Bus {
	return &Bus{subs: map[Topic][]chan struct{}{}}
}

// Subscribe returns a channel that receives a value every time topic is
// published. The channel is buffered (capacity 1) and coalesces bursts: a
// publish while the channel already holds an unread value is a no-op rather
// than blocking the publisher.
func (b *Bus) Subscribe(topic Topic) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{}, 1)
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Publish notifies every subscriber of topic.
func (b *Bus) Publish(topic Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
