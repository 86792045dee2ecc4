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

package poller

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	instances []any
	err       error
	calls     int
}

func (f *fakeSource) Get() ([]any, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.instances, nil
}

func newTestPoller(t *testing.T, src *fakeSource, matchKey, sourceKey string) *Poller {
	t.Helper()
	p, err := New(Config{
		Sources:         []ConfiguredSource{{Source: src, Scope: "default"}},
		MatchingEnabled: true,
		NodeMatchKey:    matchKey,
		SourceMatchKey:  sourceKey,
		RefreshInterval: time.Hour,
		RetryDelay:      10 * time.Millisecond,
		MaxRetries:      2,
	})
	require.NoError(t, err)
	return p
}

func TestClusterFilterMatching(t *testing.T) {
	src := &fakeSource{instances: []any{
		map[string]any{"name": "east-only", "service_clusters": []any{"east"}},
		map[string]any{"name": "west-only", "service_clusters": []any{"west"}},
	}}
	p := newTestPoller(t, src, "cluster", "service_clusters")
	p.Poll()

	matched := p.MatchNode("east", true)
	names := instanceNames(matched["default"])
	assert.Equal(t, []string{"east-only"}, names)
}

func TestWildcardSourceMatchesEveryNode(t *testing.T) {
	src := &fakeSource{instances: []any{
		map[string]any{"name": "global", "service_clusters": []any{"*"}},
	}}
	p := newTestPoller(t, src, "cluster", "service_clusters")
	p.Poll()

	matched := p.MatchNode("anything", true)
	assert.Equal(t, []string{"global"}, instanceNames(matched["default"]))
}

func TestMatchingDisabledReturnsEverything(t *testing.T) {
	src := &fakeSource{instances: []any{
		map[string]any{"name": "a", "service_clusters": []any{"east"}},
		map[string]any{"name": "b", "service_clusters": []any{"west"}},
	}}
	p, err := New(Config{
		Sources:         []ConfiguredSource{{Source: src, Scope: "default"}},
		MatchingEnabled: false,
		RefreshInterval: time.Hour,
	})
	require.NoError(t, err)
	p.Poll()

	matched := p.MatchNode("irrelevant", true)
	assert.Len(t, matched["default"], 2)
}

func TestRetryCountIncrementsThenResetsAtMax(t *testing.T) {
	src := &fakeSource{err: errors.New("upstream unreachable")}
	p := newTestPoller(t, src, "cluster", "service_clusters")

	p.Poll()
	assert.Equal(t, 1, p.retryCount)

	p.Poll()
	// MaxRetries is 2: the second failure hits the cap and resets to 0.
	assert.Equal(t, 0, p.retryCount)
}

func TestRetryDelayBacksOffExponentiallyAndCapsAtRefreshInterval(t *testing.T) {
	src := &fakeSource{err: errors.New("unreachable")}
	p, err := New(Config{
		Sources:         []ConfiguredSource{{Source: src, Scope: "default"}},
		RefreshInterval: 5 * time.Second,
		RetryDelay:      1 * time.Second,
		MaxRetries:      10,
	})
	require.NoError(t, err)

	p.Poll() // retryCount -> 1
	assert.Equal(t, 1*time.Second, p.RetryDelay())

	p.Poll() // retryCount -> 2
	assert.Equal(t, 2*time.Second, p.RetryDelay())

	p.Poll() // retryCount -> 3
	assert.Equal(t, 4*time.Second, p.RetryDelay())

	p.Poll() // retryCount -> 4: 8s would exceed the 5s refresh interval cap
	assert.Equal(t, 5*time.Second, p.RetryDelay())
}

func TestPollPublishesOnChangeOnly(t *testing.T) {
	src := &fakeSource{instances: []any{map[string]any{"name": "a"}}}
	p := newTestPoller(t, src, "cluster", "service_clusters")

	ch := p.Bus().Subscribe("SOURCES_CHANGED")
	p.Poll()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected publish on first poll")
	}

	p.Poll() // unchanged data, no second publish
	select {
	case <-ch:
		t.Fatal("did not expect a publish for unchanged data")
	case <-time.After(50 * time.Millisecond):
	}
}

func instanceNames(instances []map[string]any) []string {
	var names []string
	for _, i := range instances {
		names = append(names, i["name"].(string))
	}
	return names
}
