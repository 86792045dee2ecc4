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

// Package cachebackend defines the capability interfaces every cache
// implementation (local filesystem, remote S3, and the dual combination of
// the two) satisfies. Components that read or write rendered entries depend
// only on Backend, never on a concrete store, so the worker can be wired
// with or without a remote tier without branching in its own code.
package cachebackend

import "github.com/sovereignproject/sovereign/internal/schema"

// Backend stores and retrieves rendered Entry values keyed by request
// fingerprint.
type Backend interface {
	// Get returns the entry for key, and false if no entry is stored.
	Get(key string) (schema.Entry, bool, error)

	// Set stores (or overwrites) the entry for key.
	Set(key string, entry schema.Entry) error
}

// Deleter is an optional capability: backends that can't meaningfully
// delete (e.g. an append-only remote log) simply don't implement it, and
// callers fall back to overwriting with a zero-value entry.
type Deleter interface {
	Delete(key string) error
}

// Registrar tracks which clients are known to the worker, so that a change
// in upstream data can be fanned out to every client that previously asked
// for configuration.
type Registrar interface {
	// Register records id/req if not already known. It is a no-op, not
	// an error, when the client is already registered.
	Register(id string, req schema.DiscoveryRequest) error

	// Registered reports whether id has already been registered.
	Registered(id string) (bool, error)

	// RegisteredClients lists every known (id, request) pair.
	RegisteredClients() ([]schema.RegisteredClient, error)
}
