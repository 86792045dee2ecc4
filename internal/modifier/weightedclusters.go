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

package modifier

func init() {
	RegisterGlobal("weighted_clusters", weightedClusters{})
}

// weightedClusters renormalises the "weight" field of every cluster listed
// under an instance's "clusters" key so they sum to 100, the way Envoy's
// weighted cluster route action requires. It matches any instance carrying
// a non-empty "clusters" list.
type weightedClusters struct{}

const totalWeight = 100

func (weightedClusters) Match(instance map[string]any) bool {
	clusters, ok := instance["clusters"].([]any)
	return ok && len(clusters) > 0
}

func (weightedClusters) Apply(matched []map[string]any) []map[string]any {
	for _, inst := range matched {
		clusters, ok := inst["clusters"].([]any)
		if !ok {
			continue
		}
		fitWeights(clusters)
	}
	return matched
}

// FitWeights is the exported entry point to the same normalisation, used
// directly by the template package's "weightedClusters" helper function so
// a template can apply the split inline rather than relying on the global
// modifier having matched.
func FitWeights(clusters []any) {
	fitWeights(clusters)
}

// fitWeights normalises each cluster's "weight" proportionally to sum to
// totalWeight, then nudges the last entry so rounding error doesn't leave
// the sum short of totalWeight.
func fitWeights(clusters []any) {
	weights := make([]int, len(clusters))
	total := 0
	for i, c := range clusters {
		cluster, ok := c.(map[string]any)
		if !ok {
			continue
		}
		w := intOf(cluster["weight"])
		weights[i] = w
		total += w
	}

	normalized := make([]int, len(weights))
	if total > 0 {
		for i, w := range weights {
			normalized[i] = (w * totalWeight) / total
		}
	}

	sum := 0
	for _, w := range normalized {
		sum += w
	}
	if sum != totalWeight && len(normalized) > 0 && total > 0 {
		prefixSum := 0
		for i := 0; i < len(normalized)-1; i++ {
			prefixSum += normalized[i]
		}
		normalized[len(normalized)-1] = totalWeight - prefixSum
	}

	for i, c := range clusters {
		if cluster, ok := c.(map[string]any); ok {
			cluster["weight"] = normalized[i]
		}
	}
}

func intOf(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}
