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

// Package loadable resolves a URI-addressed configuration value: "where do
// I get this byte string from" (protocol) composed with "how do I parse it"
// (serialisation). Every place the configuration schema accepts a path
// rather than an inline value — source config, template context entries,
// template paths, credentials — goes through a Loadable.
//
// Protocols and deserialisers are registered at package init time (build-time
// registries, not runtime plugin discovery), so the set of supported schemes
// is fixed and visible in one place per protocol.
package loadable

import (
	"fmt"
	"strings"
)

// Serialization names a deserialiser.
type Serialization string

const (
	SerializationYAML   Serialization = "yaml"
	SerializationJSON   Serialization = "json"
	SerializationJinja  Serialization = "jinja"
	SerializationString Serialization = "string"
	SerializationRaw    Serialization = "raw"
)

// Deserializer turns raw bytes into a Go value.
type Deserializer func(data []byte) (any, error)

// Protocol fetches the raw bytes (or, for protocols like "module" that never
// produce bytes, the already-decoded value) addressed by path.
type Protocol func(path string) (any, error)

var (
	protocols     = map[string]Protocol{}
	deserializers = map[Serialization]Deserializer{}
)

// RegisterProtocol adds a protocol to the build-time registry. Called from
// package init functions in this package's sibling files; panics on
// duplicate registration since that always indicates a programming error,
// not a runtime condition.
func RegisterProtocol(name string, p Protocol) {
	if _, exists := protocols[name]; exists {
		panic(fmt.Sprintf("loadable: protocol %q already registered", name))
	}
	protocols[name] = p
}

// RegisterDeserializer adds a deserialiser to the build-time registry.
func RegisterDeserializer(name Serialization, d Deserializer) {
	if _, exists := deserializers[name]; exists {
		panic(fmt.Sprintf("loadable: deserializer %q already registered", name))
	}
	deserializers[name] = d
}

// Loadable is a resolved (protocol, serialisation, path) triple.
type Loadable struct {
	Protocol      string
	Serialization Serialization
	Path          string
}

// Default protocol and serialisation mirror the legacy format's fallbacks.
const (
	defaultProtocol      = "http"
	defaultSerialization = SerializationYAML
)

// New builds a Loadable with explicit fields, defaulting Protocol and
// Serialization when left zero.
func New(protocol string, ser Serialization, path string) Loadable {
	if protocol == "" {
		protocol = defaultProtocol
	}
	if ser == "" {
		ser = defaultSerialization
	}
	return Loadable{Protocol: protocol, Serialization: ser, Path: path}
}

// ParseLegacy parses the compact "<protocol>[+<serialization>]://<path>"
// string form used throughout the configuration schema. A string with no
// "://" is treated as an inline literal string value.
func ParseLegacy(s string) (Loadable, error) {
	if !strings.Contains(s, "://") {
		return Loadable{Protocol: "inline", Serialization: SerializationString, Path: s}, nil
	}

	scheme, path, ok := strings.Cut(s, "://")
	if !ok {
		return Loadable{}, fmt.Errorf("loadable: malformed reference %q", s)
	}

	proto, ser, hasSer := strings.Cut(scheme, "+")
	serialization := SerializationYAML
	if hasSer {
		serialization = Serialization(ser)
	}

	switch proto {
	case "python", "module":
		serialization = SerializationRaw
	}
	if proto == "http" || proto == "https" {
		path = proto + "://" + path
	}

	return Loadable{Protocol: proto, Serialization: serialization, Path: path}, nil
}

// Load resolves the Loadable to a value: it runs the registered protocol to
// obtain raw bytes (or value), then the registered deserialiser.
func (l Loadable) Load() (any, error) {
	proto, ok := protocols[l.Protocol]
	if !ok {
		return nil, fmt.Errorf("loadable: unknown protocol %q", l.Protocol)
	}

	raw, err := proto(l.Path)
	if err != nil {
		return nil, fmt.Errorf("loadable: protocol %q failed for %q: %w", l.Protocol, l.Path, err)
	}

	// Protocols that already produce a decoded Go value (module, inline)
	// return non-[]byte raw values; pass them through untouched.
	data, isBytes := raw.([]byte)
	if !isBytes {
		if s, isString := raw.(string); isString {
			data = []byte(s)
		} else {
			return raw, nil
		}
	}

	deser, ok := deserializers[l.Serialization]
	if !ok {
		return nil, fmt.Errorf("loadable: unknown serialization %q", l.Serialization)
	}
	return deser(data)
}

// LoadOrDefault is Load with a fallback value on any error, matching the
// configuration layer's tolerance for optional fields backed by
// unreachable sources.
func (l Loadable) LoadOrDefault(def any) any {
	v, err := l.Load()
	if err != nil {
		return def
	}
	return v
}
