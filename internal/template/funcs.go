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

package template

import (
	"text/template"

	"github.com/sovereignproject/sovereign/internal/modifier"
)

// FuncMap is the set of helper functions exposed to every compiled text
// template, beyond text/template's own builtins.
var FuncMap = template.FuncMap{
	"weightedClusters": weightedClustersFunc,
	"localityGroups":   localityGroups,
}

// weightedClustersFunc normalises the "weight" field of a list of cluster
// maps to sum to 100, in place, and returns the same slice so it can be
// used as a pipeline stage: {{ .clusters | weightedClusters }}.
func weightedClustersFunc(clusters []any) []any {
	modifier.FitWeights(clusters)
	return clusters
}

// PriorityMatrix maps a proxy's zone to a map of upstream-region -> Envoy
// locality priority, mirroring the reference implementation's
// eds_priority_matrix configuration.
type PriorityMatrix map[string]map[string]int

// localityGroups builds Envoy locality-weighted LbEndpoints groups from a
// flat list of upstream maps (each with "address", "port", and optionally
// "region"), splitting them by region and attaching a priority relative to
// the requesting proxy's own zone. DNS resolution of "address" is left to
// Envoy itself (the reference implementation's eager DNS resolution is out
// of scope for a control plane that never touches the data path).
func localityGroups(upstreams []any, proxyZone string, priorities PriorityMatrix) []map[string]any {
	byRegion := map[string][]any{}
	var order []string
	for _, u := range upstreams {
		up, ok := u.(map[string]any)
		if !ok {
			continue
		}
		region, _ := up["region"].(string)
		if region == "" {
			region = "unknown"
		}
		if _, seen := byRegion[region]; !seen {
			order = append(order, region)
		}
		byRegion[region] = append(byRegion[region], up)
	}

	groups := make([]map[string]any, 0, len(order))
	for _, region := range order {
		groups = append(groups, lbEndpointGroup(byRegion[region], region, proxyZone, priorities))
	}
	return groups
}

func lbEndpointGroup(upstreams []any, region, proxyZone string, priorities PriorityMatrix) map[string]any {
	priority := 10
	if zoned, ok := priorities[proxyZone]; ok {
		if p, ok := zoned[region]; ok {
			priority = p
		}
	}

	endpoints := make([]any, 0, len(upstreams))
	for _, u := range upstreams {
		up, _ := u.(map[string]any)
		endpoints = append(endpoints, map[string]any{
			"endpoint": map[string]any{
				"address": map[string]any{
					"socket_address": map[string]any{
						"address":    up["address"],
						"port_value": up["port"],
					},
				},
			},
		})
	}

	return map[string]any{
		"priority":     priority,
		"locality":     map[string]any{"zone": region},
		"lb_endpoints": endpoints,
	}
}
