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

// Package source defines the capability interface every upstream data
// source implements, and a build-time registry mapping a configured
// "type" string to a constructor. The poller depends only on Source; it
// never knows whether a given scope is backed by a flat file, an inline
// config block, or an HTTP-addressed broker.
package source

import "fmt"

// Source retrieves the current set of instances for one configured scope.
type Source interface {
	// Get returns the instances currently known to this source. Each
	// instance is a decoded JSON/YAML tree (map[string]any plus nested
	// maps/lists/scalars).
	Get() ([]any, error)
}

// Config is the generic per-source configuration block: a type discriminator
// plus scope plus an arbitrary config mapping interpreted by the named
// source's constructor.
type Config struct {
	Type   string
	Scope  string
	Config map[string]any
}

// Constructor builds a Source from a Config.
type Constructor func(cfg Config) (Source, error)

var registry = map[string]Constructor{}

// Register adds a source type to the build-time registry. Called from this
// package's sibling files' init functions.
func Register(name string, ctor Constructor) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("source: type %q already registered", name))
	}
	registry[name] = ctor
}

// New constructs the Source configured by cfg.Type.
func New(cfg Config) (Source, error) {
	ctor, ok := registry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("source: unknown type %q", cfg.Type)
	}
	return ctor(cfg)
}
