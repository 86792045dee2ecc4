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

// Package readside implements the blocking cache read the outward HTTP
// handlers perform: look up a rendered entry by fingerprint, and if it
// isn't there yet, register the request with the worker and poll until the
// worker produces one or the read timeout elapses.
package readside

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sovereignproject/sovereign/internal/cachebackend"
	"github.com/sovereignproject/sovereign/internal/schema"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultPollInterval = 500 * time.Millisecond
	defaultBackoffStart = 100 * time.Millisecond
)

// registration is the body PUT to the worker's registration endpoint.
type registration struct {
	Request schema.DiscoveryRequest `json:"request"`
}

// Reader performs blocking reads against a cache backend, registering with
// the worker on a miss.
type Reader struct {
	Cache        cachebackend.Backend
	CacheRules   []string
	WorkerURL    string
	HTTPClient   *http.Client
	Timeout      time.Duration
	PollInterval time.Duration
	Log          logrus.FieldLogger
}

// New returns a ready-to-use Reader, filling in defaults for zero-valued
// fields.
func New(cache cachebackend.Backend, workerURL string, rules []string) *Reader {
	return &Reader{
		Cache:        cache,
		CacheRules:   rules,
		WorkerURL:    workerURL,
		HTTPClient:   &http.Client{Timeout: 2 * time.Second},
		Timeout:      defaultTimeout,
		PollInterval: defaultPollInterval,
		Log:          logrus.StandardLogger(),
	}
}

// Read performs the blocking read described in the Read-Side component:
// an immediate cache hit returns straight away; a miss registers req with
// the worker and polls the cache until it's populated or Timeout elapses,
// at which point it returns ok=false to signal "no resources yet".
func (r *Reader) Read(ctx context.Context, req schema.DiscoveryRequest) (schema.Entry, bool, error) {
	key := req.CacheKey(r.CacheRules)

	if entry, ok, err := r.Cache.Get(key); err != nil {
		return schema.Entry{}, false, err
	} else if ok {
		return entry, true, nil
	}

	deadline := time.Now().Add(r.Timeout)
	registered := false
	backoff := defaultBackoffStart

	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()

	for {
		if !registered {
			switch status, err := r.register(ctx, req); {
			case err != nil:
				r.Log.WithError(err).Debug("client registration request failed")
			case status == http.StatusOK || status == http.StatusAccepted:
				registered = true
			case status == http.StatusTooManyRequests:
				r.Log.Debug("worker queue full, backing off registration retry")
				backoff = nextBackoff(backoff, time.Until(deadline))
			default:
				r.Log.WithField("status", status).Debug("unexpected registration response, retrying")
			}
		}

		if entry, ok, err := r.Cache.Get(key); err != nil {
			return schema.Entry{}, false, err
		} else if ok {
			return entry, true, nil
		}

		if time.Now().After(deadline) {
			return schema.Entry{}, false, nil
		}

		select {
		case <-ctx.Done():
			return schema.Entry{}, false, ctx.Err()
		case <-time.After(minDuration(backoff, time.Until(deadline))):
		case <-ticker.C:
		}
	}
}

// register PUTs req to the worker's client-registration endpoint and
// returns the response status code.
func (r *Reader) register(ctx context.Context, req schema.DiscoveryRequest) (int, error) {
	body, err := json.Marshal(registration{Request: req})
	if err != nil {
		return 0, fmt.Errorf("readside: marshal registration: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, r.WorkerURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("readside: build registration request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTPClient.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// nextBackoff doubles d, capped at remaining, matching the spec's
// "exponential, capped at the read timeout" registration retry policy.
func nextBackoff(d, remaining time.Duration) time.Duration {
	next := d * 2
	return minDuration(next, remaining)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
