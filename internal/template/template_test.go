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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereignproject/sovereign/internal/loadable"
)

const clusterTemplateYAML = `
resources:
{{- range .clusters }}
  - name: {{ .name }}
    connect_timeout: 5s
{{- end }}
`

func TestCompileAndRenderTextTemplate(t *testing.T) {
	spec := Spec{
		ResourceType: "clusters",
		Path:         loadable.Loadable{Protocol: "inline", Serialization: loadable.SerializationString, Path: clusterTemplateYAML},
	}
	compiled, err := Compile(spec)
	require.NoError(t, err)

	resources, err := compiled.Render(map[string]any{
		"clusters": []map[string]any{{"name": "service-a"}, {"name": "service-b"}},
	})
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "service-a", resources[0]["name"])
	assert.Equal(t, "service-b", resources[1]["name"])
}

func TestVersionIsStableForIdenticalSource(t *testing.T) {
	spec := Spec{ResourceType: "clusters", Path: loadable.Loadable{Protocol: "inline", Serialization: loadable.SerializationString, Path: clusterTemplateYAML}}
	a, err := Compile(spec)
	require.NoError(t, err)
	b, err := Compile(spec)
	require.NoError(t, err)
	assert.Equal(t, a.Version(), b.Version())
}

func TestVersionChangesWhenSourceChanges(t *testing.T) {
	a, err := Compile(Spec{ResourceType: "clusters", Path: loadable.Loadable{Protocol: "inline", Serialization: loadable.SerializationString, Path: "resources: []"}})
	require.NoError(t, err)
	b, err := Compile(Spec{ResourceType: "clusters", Path: loadable.Loadable{Protocol: "inline", Serialization: loadable.SerializationString, Path: "resources: [1]"}})
	require.NoError(t, err)
	assert.NotEqual(t, a.Version(), b.Version())
}

func TestModuleTemplateRendersViaRegisteredFunction(t *testing.T) {
	name := "template-test-module"
	var fn ModuleFunc = func(ctx map[string]any) ([]map[string]any, error) {
		return []map[string]any{{"name": ctx["clusterName"]}}, nil
	}
	loadable.RegisterModule(name, fn)

	spec := Spec{ResourceType: "clusters", Path: loadable.Loadable{Protocol: "module", Serialization: loadable.SerializationRaw, Path: name}}
	compiled, err := Compile(spec)
	require.NoError(t, err)

	resources, err := compiled.Render(map[string]any{"clusterName": "x"})
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "x", resources[0]["name"])
}

func TestVersionInfoIsOrderIndependent(t *testing.T) {
	a, err := Compile(Spec{ResourceType: "clusters", Path: loadable.Loadable{Protocol: "inline", Serialization: loadable.SerializationString, Path: "resources: []"}})
	require.NoError(t, err)
	b, err := Compile(Spec{ResourceType: "listeners", Path: loadable.Loadable{Protocol: "inline", Serialization: loadable.SerializationString, Path: "resources: [1]"}})
	require.NoError(t, err)

	assert.Equal(t, VersionInfo([]*Compiled{a, b}), VersionInfo([]*Compiled{b, a}))
}

func TestWeightedClustersHelperNormalizesToHundred(t *testing.T) {
	clusters := []any{
		map[string]any{"name": "a", "weight": 1},
		map[string]any{"name": "b", "weight": 3},
	}
	out := weightedClustersFunc(clusters)
	sum := 0
	for _, c := range out {
		sum += c.(map[string]any)["weight"].(int)
	}
	assert.Equal(t, 100, sum)
}

func TestLocalityGroupsBuildsPerRegionEndpoints(t *testing.T) {
	upstreams := []any{
		map[string]any{"address": "10.0.0.1", "port": 8080, "region": "us-east-1"},
		map[string]any{"address": "10.0.0.2", "port": 8080, "region": "us-west-1"},
	}
	priorities := PriorityMatrix{"us-east-1": {"us-west-1": 1}}

	groups := localityGroups(upstreams, "us-east-1", priorities)
	require.Len(t, groups, 2)
	assert.Equal(t, "us-east-1", groups[0]["locality"].(map[string]any)["zone"])
	assert.Equal(t, 1, groups[1]["priority"])
}
