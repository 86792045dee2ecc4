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

package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublishNotifiesSubscriber(t *testing.T) {
	b := New()
	ch := b.Subscribe(SourcesChanged)

	b.Publish(SourcesChanged)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to be notified")
	}
}

func TestPublishCoalescesBursts(t *testing.T) {
	b := New()
	ch := b.Subscribe(ContextChanged)

	b.Publish(ContextChanged)
	b.Publish(ContextChanged)
	b.Publish(ContextChanged)

	assert.Len(t, ch, 1)
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() {
		b.Publish(SourcesChanged)
	})
}
