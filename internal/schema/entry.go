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

package schema

import "time"

// Entry is the cache's unit of storage: the serialised rendered discovery
// response for one fingerprint, plus the metadata needed to answer future
// reads without re-rendering.
type Entry struct {
	// Text is the serialised resource list (JSON-encoded []any), ready to
	// be written straight into a DiscoveryResponse body.
	Text string `msgpack:"text" json:"text"`

	// Len is len(Text), kept alongside it because remote backends store
	// entries as opaque blobs and callers may want the size without
	// deserialising.
	Len int `msgpack:"len" json:"len"`

	// Version is the CRC32-derived version tag of the rendered resources.
	Version string `msgpack:"version" json:"version"`

	// Node is the proxy Node this entry was rendered for.
	Node Node `msgpack:"node" json:"node"`

	// RenderedAt is when the worker produced this entry, used by the
	// remote cache to decide which registrations to compact.
	RenderedAt time.Time `msgpack:"rendered_at" json:"rendered_at"`
}

// RegisteredClient is a (client id, request) pair the worker retains so it
// can re-render for every known client when an upstream source or template
// context changes.
type RegisteredClient struct {
	ClientID string           `msgpack:"client_id" json:"client_id"`
	Request  DiscoveryRequest `msgpack:"request" json:"request"`
}
