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

// Package dualcache composes a mandatory local cachebackend.Backend with an
// optional remote one: reads try local first and fall back to remote with a
// local write-back on hit, writes go to both, and every remote failure is
// logged and swallowed rather than surfaced, so a replica degrades to
// local-only operation instead of failing discovery requests.
package dualcache

import (
	"github.com/sirupsen/logrus"

	"github.com/sovereignproject/sovereign/internal/cachebackend"
	"github.com/sovereignproject/sovereign/internal/metrics"
	"github.com/sovereignproject/sovereign/internal/schema"
)

// Cache is the dual-tier cache. Remote may be nil, in which case Cache
// behaves exactly like Local.
type Cache struct {
	Local  cachebackend.Backend
	Remote cachebackend.Backend

	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Get reads local first; on a local miss with a remote tier configured, it
// reads remote and writes the result back to local so the next read for the
// same fingerprint is satisfied locally.
func (c *Cache) Get(key string) (schema.Entry, bool, error) {
	entry, ok, err := c.Local.Get(key)
	if err != nil {
		return schema.Entry{}, false, err
	}
	if ok {
		c.count("local", "get", "hit")
		return entry, true, nil
	}
	c.count("local", "get", "miss")

	if c.Remote == nil {
		return schema.Entry{}, false, nil
	}

	entry, ok, err = c.Remote.Get(key)
	if err != nil {
		c.log().WithError(err).Warn("failed to read from remote cache")
		c.count("remote", "get", "error")
		return schema.Entry{}, false, nil
	}
	if !ok {
		c.count("remote", "get", "miss")
		return schema.Entry{}, false, nil
	}
	c.count("remote", "get", "hit")

	if err := c.Local.Set(key, entry); err != nil {
		c.log().WithError(err).Warn("failed to write back remote hit to local cache")
	}
	return entry, true, nil
}

// Set writes to local, then best-effort to remote.
func (c *Cache) Set(key string, entry schema.Entry) error {
	if err := c.Local.Set(key, entry); err != nil {
		return err
	}
	c.count("local", "set", "ok")

	if c.Remote == nil {
		return nil
	}
	if err := c.Remote.Set(key, entry); err != nil {
		c.log().WithError(err).Warn("failed to write to remote cache")
		c.count("remote", "set", "error")
		return nil
	}
	c.count("remote", "set", "ok")
	return nil
}

func (c *Cache) log() logrus.FieldLogger {
	if c.Log != nil {
		return c.Log
	}
	return logrus.StandardLogger()
}

func (c *Cache) count(backend, op, result string) {
	if c.Metrics == nil {
		return
	}
	c.Metrics.CacheResultTotal.WithLabelValues(backend, op, result).Inc()
}

// registrar returns whichever tier tracks client registrations: the remote
// tier when configured, since registrations need to survive a replica
// restart and be visible to every replica electing a leader, falling back
// to local-only when no remote tier is wired.
func (c *Cache) registrar() (cachebackend.Registrar, bool) {
	if r, ok := c.Remote.(cachebackend.Registrar); ok {
		return r, true
	}
	if r, ok := c.Local.(cachebackend.Registrar); ok {
		return r, true
	}
	return nil, false
}

// Register delegates to the registrar tier. See registrar for tier choice.
func (c *Cache) Register(id string, req schema.DiscoveryRequest) error {
	r, ok := c.registrar()
	if !ok {
		return nil
	}
	return r.Register(id, req)
}

// Registered delegates to the registrar tier.
func (c *Cache) Registered(id string) (bool, error) {
	r, ok := c.registrar()
	if !ok {
		return false, nil
	}
	return r.Registered(id)
}

// RegisteredClients delegates to the registrar tier.
func (c *Cache) RegisteredClients() ([]schema.RegisteredClient, error) {
	r, ok := c.registrar()
	if !ok {
		return nil, nil
	}
	return r.RegisteredClients()
}

var _ cachebackend.Backend = (*Cache)(nil)
var _ cachebackend.Registrar = (*Cache)(nil)
