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

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/sovereignproject/sovereign/internal/instance"
)

// Resources is an ordered list of requested resource names. An empty
// Resources means "all resources"; Contains reflects that by returning true
// unconditionally for the empty set.
type Resources []string

// Contains reports whether name is in the requested set, treating an empty
// set as containing everything.
func (r Resources) Contains(name string) bool {
	if len(r) == 0 {
		return true
	}
	for _, n := range r {
		if n == name {
			return true
		}
	}
	return false
}

// DiscoveryRequest is the inbound body of the outward discovery endpoints,
// enriched with fields the server derives from the HTTP request itself.
type DiscoveryRequest struct {
	Node          Node      `json:"node"`
	VersionInfo   string    `json:"version_info"`
	ResourceNames Resources `json:"resource_names,omitempty"`

	// APIVersion and ResourceType are parsed from the request path
	// (e.g. "v3", "clusters"), not supplied by the client.
	APIVersion   string `json:"-"`
	ResourceType string `json:"-"`

	// DesiredControlplane is the Host header of the inbound request, used
	// to select which rendered variant of a template a multi-tenant
	// deployment should serve.
	DesiredControlplane string `json:"-"`

	// IsInternalRequest marks requests made by the worker's render
	// pipeline rather than by an external proxy, which changes crypto
	// context injection and UI redaction.
	IsInternalRequest bool `json:"-"`
}

// DiscoveryResponse is the outward body of the discovery endpoints.
type DiscoveryResponse struct {
	VersionInfo string `json:"version_info"`
	Resources   []any  `json:"resources"`
}

// defaultVersionInfo is substituted whenever a request omits version_info.
const defaultVersionInfo = "0"

// NormalizedVersionInfo returns VersionInfo, defaulting to "0".
func (r DiscoveryRequest) NormalizedVersionInfo() string {
	if r.VersionInfo == "" {
		return defaultVersionInfo
	}
	return r.VersionInfo
}

// asInstance flattens the request into the opaque tree that hash rule paths
// are evaluated against. The shape mirrors the request's JSON encoding, plus
// the node's common derived fields, so a rule can address anything the
// client submitted.
func (r DiscoveryRequest) asInstance() instance.Value {
	metadata := r.Node.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	resourceNames := make([]any, len(r.ResourceNames))
	for i, n := range r.ResourceNames {
		resourceNames[i] = n
	}
	return instance.New(map[string]any{
		"version_info": r.VersionInfo,
		"resource_names": resourceNames,
		"node": map[string]any{
			"id":           r.Node.ID,
			"cluster":      r.Node.Cluster,
			"build_version": r.Node.BuildVersionString,
			"envoy_version": r.Node.EnvoyVersion(),
			"metadata":      metadata,
			"locality": map[string]any{
				"region":   r.Node.Locality.Region,
				"zone":     r.Node.Locality.Zone,
				"sub_zone": r.Node.Locality.SubZone,
			},
		},
	})
}

// CacheKey produces a deterministic fingerprint of the request, stable
// across process restarts and independent of the order rules are supplied
// in: rules are sorted before hashing, and each rule contributes
// "rule=repr(value)" to a SHA-256 digest. Two requests that agree on every
// path named by rules always produce the same key.
func (r DiscoveryRequest) CacheKey(rules []string) string {
	sorted := append([]string(nil), rules...)
	sort.Strings(sorted)

	tree := r.asInstance()
	var parts []string
	for _, rule := range sorted {
		val, ok := tree.Path(rule)
		var repr string
		if ok {
			repr = fmt.Sprintf("%#v", val.Raw())
		} else {
			repr = "<nil>"
		}
		parts = append(parts, rule+"="+repr)
	}

	h := sha256.Sum256([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(h[:])
}
