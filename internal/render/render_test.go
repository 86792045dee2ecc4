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

package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereignproject/sovereign/internal/loadable"
	"github.com/sovereignproject/sovereign/internal/schema"
	"github.com/sovereignproject/sovereign/internal/template"
)

func compileFixture(t *testing.T, resourceType, yamlSource string) *template.Compiled {
	t.Helper()
	c, err := template.Compile(template.Spec{
		ResourceType: resourceType,
		Path:         loadable.Loadable{Protocol: "inline", Serialization: loadable.SerializationString, Path: yamlSource},
	})
	require.NoError(t, err)
	return c
}

const clusterTemplate = `
resources:
{{- range .instances }}
  - name: {{ .name }}
{{- end }}
`

func TestRegistrySelectsExactVersionMatch(t *testing.T) {
	def := compileFixture(t, "clusters", clusterTemplate)
	v2 := compileFixture(t, "clusters", clusterTemplate)
	reg, err := NewRegistry(map[string]TemplateSet{
		defaultKey: {"clusters": def},
		"1.20.0":   {"clusters": v2},
	})
	require.NoError(t, err)

	assert.Equal(t, v2, reg.Select("1.20.0")["clusters"])
	assert.Equal(t, def, reg.Select("1.19.0")["clusters"])
}

func TestRegistrySelectsMostSpecificConstraint(t *testing.T) {
	def := compileFixture(t, "clusters", clusterTemplate)
	wide := compileFixture(t, "clusters", clusterTemplate)
	narrow := compileFixture(t, "clusters", clusterTemplate)
	reg, err := NewRegistry(map[string]TemplateSet{
		defaultKey:  {"clusters": def},
		">=1.0.0":   {"clusters": wide},
		">=1.20.0":  {"clusters": narrow},
	})
	require.NoError(t, err)

	assert.Equal(t, narrow, reg.Select("1.25.0")["clusters"])
	assert.Equal(t, wide, reg.Select("1.5.0")["clusters"])
	assert.Equal(t, def, reg.Select("default")["clusters"])
}

func TestNewRegistryRequiresDefaultSet(t *testing.T) {
	_, err := NewRegistry(map[string]TemplateSet{"1.0.0": {}})
	assert.Error(t, err)
}

func TestNewRegistryRejectsInvalidVersionKey(t *testing.T) {
	_, err := NewRegistry(map[string]TemplateSet{defaultKey: {}, "not-a-version": {}})
	assert.Error(t, err)
}

func TestRenderFiltersAnnotatesAndFingerprints(t *testing.T) {
	tmpl := compileFixture(t, "clusters", clusterTemplate)
	reg, err := NewRegistry(map[string]TemplateSet{defaultKey: {"clusters": tmpl}})
	require.NoError(t, err)

	req := schema.DiscoveryRequest{
		Node:          schema.Node{ID: "envoy-1", Cluster: "T1"},
		ResourceType:  "clusters",
		APIVersion:    "v3",
		ResourceNames: schema.Resources{"service-a"},
	}
	ctx := map[string]any{"instances": []map[string]any{{"name": "service-a"}, {"name": "service-b"}}}

	result, err := Render(reg, Job{Request: req, Context: ctx})
	require.NoError(t, err)
	require.Len(t, result.Resources, 1)

	resource := result.Resources[0].(map[string]any)
	assert.Equal(t, "service-a", resource["name"])
	assert.Equal(t, "type.googleapis.com/envoy.config.cluster.v3.Cluster", resource["@type"])
	assert.NotEmpty(t, result.VersionInfo)
}

func TestRenderReturnsAllResourcesWhenNoneRequested(t *testing.T) {
	tmpl := compileFixture(t, "clusters", clusterTemplate)
	reg, err := NewRegistry(map[string]TemplateSet{defaultKey: {"clusters": tmpl}})
	require.NoError(t, err)

	req := schema.DiscoveryRequest{Node: schema.Node{Cluster: "T1"}, ResourceType: "clusters", APIVersion: "v3"}
	ctx := map[string]any{"instances": []map[string]any{{"name": "a"}, {"name": "b"}}}

	result, err := Render(reg, Job{Request: req, Context: ctx})
	require.NoError(t, err)
	assert.Len(t, result.Resources, 2)
}

func TestRenderFingerprintStableAcrossRepeatedRenders(t *testing.T) {
	tmpl := compileFixture(t, "clusters", clusterTemplate)
	reg, err := NewRegistry(map[string]TemplateSet{defaultKey: {"clusters": tmpl}})
	require.NoError(t, err)

	req := schema.DiscoveryRequest{Node: schema.Node{Cluster: "T1"}, ResourceType: "clusters", APIVersion: "v3"}
	ctx := map[string]any{"instances": []map[string]any{{"name": "a"}}}

	first, err := Render(reg, Job{Request: req, Context: ctx})
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		again, err := Render(reg, Job{Request: req, Context: ctx})
		require.NoError(t, err)
		assert.Equal(t, first.VersionInfo, again.VersionInfo)
	}
}

func TestRenderUnknownResourceTypeErrors(t *testing.T) {
	tmpl := compileFixture(t, "clusters", clusterTemplate)
	reg, err := NewRegistry(map[string]TemplateSet{defaultKey: {"clusters": tmpl}})
	require.NoError(t, err)

	req := schema.DiscoveryRequest{Node: schema.Node{Cluster: "T1"}, ResourceType: "listeners"}
	_, err = Render(reg, Job{Request: req})
	assert.Error(t, err)
}
