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

// Package httpapi is the outward-facing xDS HTTP surface: it decodes
// incoming discovery requests, authenticates them, performs the blocking
// cache read, and maps the result onto the status-code table a proxy
// expects.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/sovereignproject/sovereign/internal/schema"
)

// Renderer is the capability httpapi needs from the read-side: a blocking
// lookup that either returns a populated Entry or signals "not ready yet".
type Renderer interface {
	Read(ctx context.Context, req schema.DiscoveryRequest) (schema.Entry, bool, error)
}

// Authenticator validates the encrypted auth field a proxy may carry in its
// node metadata. The zero value of Handler uses AllowAll, which every
// request passes -- a deployment with auth enabled wires in the
// internal/crypto-backed implementation instead.
type Authenticator interface {
	Authenticate(req schema.DiscoveryRequest) error
}

// AllowAll is the Authenticator used when auth is disabled.
type AllowAll struct{}

// Authenticate always succeeds.
func (AllowAll) Authenticate(schema.DiscoveryRequest) error { return nil }

// Handler serves the outward discovery endpoints.
type Handler struct {
	Reader Renderer
	Auth   Authenticator

	// NoChangeCode is returned when the cached version_info matches the
	// request's. Defaults to 304.
	NoChangeCode int

	Log logrus.FieldLogger
}

const defaultNoChangeCode = http.StatusNotModified

// New returns a Handler with defaults filled in.
func New(reader Renderer) *Handler {
	return &Handler{
		Reader:       reader,
		Auth:         AllowAll{},
		NoChangeCode: defaultNoChangeCode,
		Log:          logrus.StandardLogger(),
	}
}

// Register wires the discovery endpoints for both v2 and v3 onto mux, using
// Go 1.22+ ServeMux method+wildcard patterns.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v2/discovery:{type}", h.discovery("v2"))
	mux.HandleFunc("POST /v3/discovery:{type}", h.discovery("v3"))
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// discovery returns the handler for one API version's discovery endpoint;
// resourceType comes from the "{type}" wildcard segment of the route.
func (h *Handler) discovery(apiVersion string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req schema.DiscoveryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed discovery request")
			return
		}
		req.APIVersion = apiVersion
		req.ResourceType = r.PathValue("type")
		req.DesiredControlplane = r.Host

		if err := h.Auth.Authenticate(req); err != nil {
			h.Log.WithError(err).WithField("node_id", req.Node.ID).Debug("discovery request failed authentication")
			writeError(w, http.StatusBadRequest, "the request was malformed or unauthorized")
			return
		}

		entry, ok, err := h.Reader.Read(r.Context(), req)
		if err != nil {
			h.Log.WithError(err).Error("discovery read failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			// The worker has not produced a response within the read
			// timeout -- treat it the same as "no resources found" rather
			// than surfacing the caller's internal polling mechanics.
			writeJSON(w, http.StatusNotFound, errorBody{Error: "no resources found"})
			return
		}

		noChangeCode := h.NoChangeCode
		if noChangeCode == 0 {
			noChangeCode = defaultNoChangeCode
		}

		if entry.Version == req.NormalizedVersionInfo() {
			writeJSON(w, noChangeCode, schema.DiscoveryResponse{VersionInfo: entry.Version})
			return
		}

		var resources []any
		if err := json.Unmarshal([]byte(entry.Text), &resources); err != nil {
			h.Log.WithError(err).Error("failed to deserialise cached discovery entry")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if len(req.ResourceNames) > 0 && len(resources) == 0 {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "no resources found"})
			return
		}

		writeJSON(w, http.StatusOK, schema.DiscoveryResponse{VersionInfo: entry.Version, Resources: resources})
	}
}
