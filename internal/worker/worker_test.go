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

package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereignproject/sovereign/internal/loadable"
	"github.com/sovereignproject/sovereign/internal/poller"
	"github.com/sovereignproject/sovereign/internal/render"
	"github.com/sovereignproject/sovereign/internal/renderqueue"
	"github.com/sovereignproject/sovereign/internal/schema"
	"github.com/sovereignproject/sovereign/internal/template"
	"github.com/sovereignproject/sovereign/internal/templatecontext"
)

const fixtureTemplate = `
resources:
{{- range .instances }}
  - name: {{ .name }}
{{- end }}
`

type fakeSource struct {
	instances []any
}

func (f *fakeSource) Get() ([]any, error) { return f.instances, nil }

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]schema.Entry
	clients map[string]schema.RegisteredClient
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: map[string]schema.Entry{}, clients: map[string]schema.RegisteredClient{}}
}

func (m *memoryStore) Get(key string) (schema.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *memoryStore) Set(key string, entry schema.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
	return nil
}

func (m *memoryStore) Register(id string, req schema.DiscoveryRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[id]; !ok {
		m.clients[id] = schema.RegisteredClient{ClientID: id, Request: req}
	}
	return nil
}

func (m *memoryStore) Registered(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.clients[id]
	return ok, nil
}

func (m *memoryStore) RegisteredClients() ([]schema.RegisteredClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.RegisteredClient, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	return out, nil
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newTestWorker(t *testing.T, store *memoryStore) *Worker {
	t.Helper()

	p, err := poller.New(poller.Config{
		Sources:         []poller.ConfiguredSource{{Source: &fakeSource{instances: []any{map[string]any{"name": "svc-a"}}}, Scope: "default"}},
		MatchingEnabled: false,
		RefreshInterval: time.Hour,
	})
	require.NoError(t, err)
	p.Poll()

	sched := templatecontext.New(templatecontext.Config{})

	compiled, err := template.Compile(template.Spec{
		ResourceType: "clusters",
		Path:         loadable.Loadable{Protocol: "inline", Serialization: loadable.SerializationString, Path: fixtureTemplate},
	})
	require.NoError(t, err)

	reg, err := render.NewRegistry(map[string]render.TemplateSet{
		"default": {"clusters": compiled},
	})
	require.NoError(t, err)

	pool := render.NewPool("", time.Second)
	queue := renderqueue.New(10)

	w, err := New(Config{
		NodeID:        "node-a",
		Poller:        p,
		Scheduler:     sched,
		Registry:      reg,
		Pool:          pool,
		Queue:         queue,
		Cache:         store,
		RenderWorkers: 1,
	})
	require.NoError(t, err)
	return w
}

func TestRenderAndStoreWritesEntryToCache(t *testing.T) {
	store := newMemoryStore()
	w := newTestWorker(t, store)

	job := renderqueue.Job{
		ClientID: "client-1",
		Request: schema.DiscoveryRequest{
			Node:         schema.Node{ID: "envoy-1", Cluster: "east"},
			ResourceType: "clusters",
		},
	}

	w.renderAndStore(context.Background(), job)

	assert.Equal(t, 1, store.count())
}

func TestDrainLoopRendersQueuedJobsAndMarksDone(t *testing.T) {
	store := newMemoryStore()
	w := newTestWorker(t, store)

	require.NoError(t, w.cfg.Queue.Put(renderqueue.Job{
		ClientID: "client-1",
		Request: schema.DiscoveryRequest{
			Node:         schema.Node{ID: "envoy-1", Cluster: "east"},
			ResourceType: "clusters",
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = w.drainLoop(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return !w.cfg.Queue.Pending("client-1") }, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestBroadcastIfLeaderSkippedWhenNotLeader(t *testing.T) {
	store := newMemoryStore()
	w := newTestWorker(t, store)
	require.NoError(t, store.Register("client-1", schema.DiscoveryRequest{Node: schema.Node{ID: "envoy-1", Cluster: "east"}, ResourceType: "clusters"}))

	w.cfg.NodeID = "node-b"
	w.cfg.Heartbeats = NewMemoryHeartbeatStore()
	require.NoError(t, w.cfg.Heartbeats.Beat("node-a", time.Now())) // lexicographically lower, so node-a leads
	require.NoError(t, w.cfg.Heartbeats.Beat("node-b", time.Now()))

	w.broadcastIfLeader("test")
	assert.Equal(t, 0, w.cfg.Queue.Len(), "non-leader must not enqueue broadcast renders")
}

func TestBroadcastIfLeaderEnqueuesForEveryRegisteredClient(t *testing.T) {
	store := newMemoryStore()
	w := newTestWorker(t, store)
	require.NoError(t, store.Register("client-1", schema.DiscoveryRequest{Node: schema.Node{ID: "envoy-1", Cluster: "east"}, ResourceType: "clusters"}))
	require.NoError(t, store.Register("client-2", schema.DiscoveryRequest{Node: schema.Node{ID: "envoy-2", Cluster: "east"}, ResourceType: "clusters"}))

	w.cfg.Heartbeats = NewMemoryHeartbeatStore()
	require.NoError(t, w.cfg.Heartbeats.Beat(w.cfg.NodeID, time.Now()))

	w.broadcastIfLeader("test")
	assert.Equal(t, 2, w.cfg.Queue.Len())
}

func TestIsLeaderReflectsLowestLiveHeartbeat(t *testing.T) {
	store := newMemoryStore()
	w := newTestWorker(t, store)
	w.cfg.NodeID = "node-b"
	w.cfg.Heartbeats = NewMemoryHeartbeatStore()

	require.NoError(t, w.cfg.Heartbeats.Beat("node-b", time.Now()))
	assert.True(t, w.isLeader())

	require.NoError(t, w.cfg.Heartbeats.Beat("node-a", time.Now()))
	assert.False(t, w.isLeader())
}

func TestRunExitsWhenContextCancelled(t *testing.T) {
	store := newMemoryStore()
	w := newTestWorker(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)
	assert.Error(t, err)
}
