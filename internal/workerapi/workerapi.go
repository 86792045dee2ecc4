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

// Package workerapi is the worker's internal HTTP surface: a single
// PUT /client endpoint that deduplicates client registrations and enqueues
// a render for any client not already known.
package workerapi

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	sovereignerrors "github.com/sovereignproject/sovereign/internal/errors"
	"github.com/sovereignproject/sovereign/internal/renderqueue"
	"github.com/sovereignproject/sovereign/internal/schema"
)

// Registrar is the capability workerapi needs to track known clients.
type Registrar interface {
	Register(id string, req schema.DiscoveryRequest) error
	Registered(id string) (bool, error)
}

// Enqueuer submits a render job, e.g. *renderqueue.Queue.
type Enqueuer interface {
	Put(job renderqueue.Job) error
}

// Handler serves PUT /client.
type Handler struct {
	Registrar  Registrar
	Queue      Enqueuer
	CacheRules []string
	Log        logrus.FieldLogger
}

// New returns a Handler with defaults filled in.
func New(registrar Registrar, queue Enqueuer, cacheRules []string) *Handler {
	return &Handler{Registrar: registrar, Queue: queue, CacheRules: cacheRules, Log: logrus.StandardLogger()}
}

// Register wires PUT /client onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT /client", h.putClient)
}

type registerBody struct {
	Request schema.DiscoveryRequest `json:"request"`
}

func (h *Handler) putClient(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed registration request", http.StatusBadRequest)
		return
	}

	id := body.Request.CacheKey(h.CacheRules)

	already, err := h.Registrar.Registered(id)
	if err != nil {
		h.Log.WithError(err).Error("failed to check client registration")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if already {
		h.Log.WithField("client_id", id).Debug("client already registered")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Registered"))
		return
	}

	if err := h.Registrar.Register(id, body.Request); err != nil {
		h.Log.WithError(err).Error("failed to register client")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := h.Queue.Put(renderqueue.Job{ClientID: id, Request: body.Request}); err != nil {
		if sovereignerrors.Is(err, sovereignerrors.KindQueueFull) {
			http.Error(w, "render queue full, retry", http.StatusTooManyRequests)
			return
		}
		h.Log.WithError(err).Error("failed to enqueue render for new client")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.Log.WithField("client_id", id).Debug("registered new client")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Registering"))
}
