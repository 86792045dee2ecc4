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

// Package worker is the control-plane's background process: it owns the
// source poller, the template context scheduler, the render pool and
// queue, and the cache those renders are written into, wiring them
// together with internal/workgroup so any one of them failing tears down
// the rest. It also answers PUT /client registrations and, on the elected
// leader node only, fans broadcast re-renders out to every registered
// client when sources or context change.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sovereignproject/sovereign/internal/cachebackend"
	"github.com/sovereignproject/sovereign/internal/eventbus"
	"github.com/sovereignproject/sovereign/internal/poller"
	"github.com/sovereignproject/sovereign/internal/render"
	"github.com/sovereignproject/sovereign/internal/renderqueue"
	"github.com/sovereignproject/sovereign/internal/schema"
	"github.com/sovereignproject/sovereign/internal/templatecontext"
	"github.com/sovereignproject/sovereign/internal/workgroup"
)

// Store is the cache capability a Worker needs: Backend to write rendered
// entries, Registrar to know which clients to re-render for on broadcast.
type Store interface {
	cachebackend.Backend
	cachebackend.Registrar
}

// Config bundles every collaborator a Worker wires together. None of the
// fields are optional except Heartbeats, NodeID, and the duration knobs,
// which default.
type Config struct {
	NodeID string

	Poller    *poller.Poller
	Scheduler *templatecontext.Scheduler
	Registry  *render.Registry
	Pool      *render.Pool
	Queue     *renderqueue.Queue
	Cache     Store
	Bus       *eventbus.Bus

	// CacheRules are the instance-tree paths hashed into a request's cache
	// fingerprint, matching whatever the outward HTTP layer uses so a
	// broadcast render writes under the same key a blocking read will look
	// for.
	CacheRules []string

	Heartbeats        HeartbeatStore
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration

	RenderWorkers int

	Log logrus.FieldLogger
}

// Worker is a constructed, ready-to-run Config.
type Worker struct {
	cfg Config
}

// New validates cfg, filling in defaults, and returns a ready Worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Poller == nil || cfg.Scheduler == nil || cfg.Registry == nil || cfg.Pool == nil || cfg.Queue == nil || cfg.Cache == nil {
		return nil, fmt.Errorf("worker: missing required collaborator")
	}
	if cfg.NodeID == "" {
		cfg.NodeID = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	if cfg.Bus == nil {
		cfg.Bus = cfg.Poller.Bus()
	}
	if cfg.Heartbeats == nil {
		cfg.Heartbeats = NewMemoryHeartbeatStore()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = 60 * time.Second
	}
	if cfg.RenderWorkers <= 0 {
		cfg.RenderWorkers = runtime.NumCPU()
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	return &Worker{cfg: cfg}, nil
}

// Run wires every collaborator into a workgroup.Group and blocks until ctx
// is cancelled or any member exits.
func (w *Worker) Run(ctx context.Context) error {
	var g workgroup.Group

	g.AddContext(w.cfg.Poller.RunContext)
	g.AddContext(w.cfg.Scheduler.Run)
	g.AddContext(w.heartbeatLoop)
	g.AddContext(w.broadcastLoop)

	for i := 0; i < w.cfg.RenderWorkers; i++ {
		g.AddContext(w.drainLoop)
	}

	return g.Run(ctx)
}

// Enqueue submits a single client's render request, deduplicating against
// any already-pending render for the same client id.
func (w *Worker) Enqueue(job renderqueue.Job) error {
	return w.cfg.Queue.Put(job)
}

func (w *Worker) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	if err := w.cfg.Heartbeats.Beat(w.cfg.NodeID, time.Now()); err != nil {
		w.cfg.Log.WithError(err).Warn("failed to send initial heartbeat")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.cfg.Heartbeats.Beat(w.cfg.NodeID, time.Now()); err != nil {
				w.cfg.Log.WithError(err).Warn("failed to send heartbeat")
			}
		}
	}
}

// isLeader reports whether this node is currently the elected leader. Only
// the leader fans broadcast re-renders out; every node still answers reads
// and drains its own render queue.
func (w *Worker) isLeader() bool {
	leader, err := w.cfg.Heartbeats.Leader(time.Now(), w.cfg.HeartbeatTTL)
	if err != nil {
		w.cfg.Log.WithError(err).Warn("failed to determine leader")
		return false
	}
	return leader == w.cfg.NodeID
}

// broadcastLoop fans a render out to every registered client whenever
// sources or context change, but only on the leader node -- every follower
// still drains the queue and answers reads, it just never originates a
// broadcast itself, avoiding N-fold duplicate render storms across a fleet
// of worker replicas.
func (w *Worker) broadcastLoop(ctx context.Context) error {
	sources := w.cfg.Bus.Subscribe(eventbus.SourcesChanged)
	changed := w.cfg.Bus.Subscribe(eventbus.ContextChanged)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sources:
			w.broadcastIfLeader("sources_changed")
		case <-changed:
			w.broadcastIfLeader("context_changed")
		}
	}
}

func (w *Worker) broadcastIfLeader(reason string) {
	if !w.isLeader() {
		return
	}
	clients, err := w.cfg.Cache.RegisteredClients()
	if err != nil {
		w.cfg.Log.WithError(err).Error("failed to list registered clients for broadcast")
		return
	}
	w.cfg.Log.WithFields(logrus.Fields{"reason": reason, "clients": len(clients)}).Info("broadcasting re-render")
	for _, c := range clients {
		if err := w.Enqueue(renderqueue.Job{ClientID: c.ClientID, Request: c.Request}); err != nil {
			w.cfg.Log.WithError(err).WithField("client_id", c.ClientID).Debug("broadcast enqueue skipped")
		}
	}
}

// drainLoop pulls jobs off the render queue, renders them, and writes the
// result into the cache, one goroutine of potentially several running this
// same loop concurrently (RenderWorkers controls how many).
func (w *Worker) drainLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job := w.cfg.Queue.Get()
		w.renderAndStore(ctx, job)
		w.cfg.Queue.Done(job.ClientID)
	}
}

func (w *Worker) renderAndStore(ctx context.Context, job renderqueue.Job) {
	nodeKey, err := w.cfg.Poller.ExtractNodeKey(job.Request.Node)
	if err != nil {
		w.cfg.Log.WithError(err).WithField("client_id", job.ClientID).Error("failed to extract node key for render")
		return
	}

	scoped := w.cfg.Poller.GetFilteredInstances(nodeKey)
	var instances []map[string]any
	for _, list := range scoped {
		instances = append(instances, list...)
	}

	renderCtx := w.cfg.Scheduler.Snapshot()
	if renderCtx == nil {
		renderCtx = map[string]any{}
	}
	renderCtx["instances"] = instances

	results, err := w.cfg.Pool.RenderAll(ctx, w.cfg.Registry, []render.Job{{Request: job.Request, Context: renderCtx}})
	if err != nil {
		w.cfg.Log.WithError(err).WithField("client_id", job.ClientID).Error("render failed")
		return
	}
	result := results[0]

	entry := schema.Entry{
		Text:       marshalResources(result.Resources),
		Len:        len(result.Resources),
		Version:    result.VersionInfo,
		Node:       job.Request.Node,
		RenderedAt: time.Now(),
	}
	key := job.Request.CacheKey(w.cfg.CacheRules)
	if err := w.cfg.Cache.Set(key, entry); err != nil {
		w.cfg.Log.WithError(err).WithField("client_id", job.ClientID).Error("failed to write rendered entry to cache")
	}
}

// marshalResources serialises a rendered resource list the same way it will
// be served: as the JSON array a DiscoveryResponse's "resources" field
// holds, so a cache read can splice Entry.Text straight into the outward
// response body without re-encoding.
func marshalResources(resources []any) string {
	data, err := json.Marshal(resources)
	if err != nil {
		return "[]"
	}
	return string(data)
}
