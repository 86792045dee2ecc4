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

// Package accesslog wraps a http.Handler to emit one structured log line
// per request, the Go equivalent of the original's AccessLogger: a
// processor queue merged into a single structlog event per request.
package accesslog

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Middleware wraps handlers with structured per-request logging.
type Middleware struct {
	// Enabled toggles emission entirely; a disabled Middleware is a
	// transparent passthrough, matching enable_access_logs.
	Enabled bool

	// IgnoreEmptyFields drops fields that came out empty (no query string,
	// no resource names requested, etc.) instead of logging them as "-".
	IgnoreEmptyFields bool

	Log logrus.FieldLogger
}

// New returns a Middleware logging through log.
func New(log logrus.FieldLogger, enabled bool, ignoreEmptyFields bool) *Middleware {
	return &Middleware{Enabled: enabled, IgnoreEmptyFields: ignoreEmptyFields, Log: log}
}

// Wrap returns next instrumented with access logging.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil || !m.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		next.ServeHTTP(rec, r)

		fields := logrus.Fields{
			"method":      r.Method,
			"uri_path":    r.URL.Path,
			"uri_query":   r.URL.RawQuery,
			"src_addr":    r.RemoteAddr,
			"user_agent":  r.UserAgent(),
			"bytes_out":   rec.bytes,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  requestID,
		}
		if m.IgnoreEmptyFields {
			for k, v := range fields {
				if isEmpty(v) {
					delete(fields, k)
				}
			}
		}
		m.Log.WithFields(fields).Info("request")
	})
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case string:
		return val == ""
	default:
		return false
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}
