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

// Package xdstypes holds the xDS type URL tables used to annotate rendered
// resources with an "@type" field when a template doesn't set one itself.
// Resources here are JSON-like trees (map[string]any), not generated
// protobuf messages, so these are plain string constants rather than a
// dependency on Envoy's go-control-plane types.
package xdstypes

// TypeURL looks up the well-known type URL for a resource type under a
// given xDS API version ("v2" or "v3"). The second return is false for an
// unknown (apiVersion, resourceType) pair, in which case callers leave any
// existing "@type" field untouched rather than overwriting it with "".
func TypeURL(apiVersion, resourceType string) (string, bool) {
	table, ok := tables[apiVersion]
	if !ok {
		return "", false
	}
	url, ok := table[resourceType]
	return url, ok
}

var tables = map[string]map[string]string{
	"v2": {
		"listeners":     "type.googleapis.com/envoy.api.v2.Listener",
		"clusters":      "type.googleapis.com/envoy.api.v2.Cluster",
		"endpoints":     "type.googleapis.com/envoy.api.v2.ClusterLoadAssignment",
		"secrets":       "type.googleapis.com/envoy.api.v2.auth.Secret",
		"routes":        "type.googleapis.com/envoy.api.v2.RouteConfiguration",
		"scoped-routes": "type.googleapis.com/envoy.api.v2.ScopedRouteConfiguration",
	},
	"v3": {
		"listeners":     "type.googleapis.com/envoy.config.listener.v3.Listener",
		"clusters":      "type.googleapis.com/envoy.config.cluster.v3.Cluster",
		"endpoints":     "type.googleapis.com/envoy.config.endpoint.v3.ClusterLoadAssignment",
		"secrets":       "type.googleapis.com/envoy.extensions.transport_sockets.tls.v3.Secret",
		"routes":        "type.googleapis.com/envoy.config.route.v3.RouteConfiguration",
		"scoped-routes": "type.googleapis.com/envoy.config.route.v3.ScopedRouteConfiguration",
		"runtime":       "type.googleapis.com/envoy.service.runtime.v3.Runtime",
	},
}

// ResourceName returns the "name" (or, for clusters, "cluster_name") field
// of a rendered resource, used to filter a response down to the set of
// resources a proxy actually asked for.
func ResourceName(resource map[string]any) (string, bool) {
	if n, ok := resource["name"].(string); ok {
		return n, true
	}
	if n, ok := resource["cluster_name"].(string); ok {
		return n, true
	}
	return "", false
}
