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

// Package render turns a DiscoveryRequest plus the current instance/context
// snapshot into a DiscoveryResponse: pick the template set for the proxy's
// Envoy version, render it, filter to the requested resource names, tag
// "@type", and fingerprint the result.
package render

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/sovereignproject/sovereign/internal/schema"
	"github.com/sovereignproject/sovereign/internal/template"
	"github.com/sovereignproject/sovereign/internal/xdstypes"
)

// defaultKey names the fallback template set every configuration must
// provide, selected whenever a proxy's Envoy version matches nothing more
// specific.
const defaultKey = "default"

// TemplateSet is every resource-type template registered for one Envoy
// version key ("default" or a semver constraint such as ">=1.20.0").
type TemplateSet map[string]*template.Compiled

// Registry holds one TemplateSet per configured version key, plus the
// version constraints those keys parse as (anything that isn't "default"
// and doesn't parse as a constraint is a configuration error surfaced at
// load time, not at render time).
type Registry struct {
	sets        map[string]TemplateSet
	constraints map[string]*semver.Constraints
	order       []string // constraint keys, most specific first
}

// NewRegistry builds a Registry from version-keyed template sets. Every
// non-"default" key must either parse as a semver version (selected only by
// exact Envoy version match) or a semver constraint (selected by range);
// NewRegistry returns an error rather than silently dropping a
// misconfigured version key.
func NewRegistry(sets map[string]TemplateSet) (*Registry, error) {
	if _, ok := sets[defaultKey]; !ok {
		return nil, fmt.Errorf("render: template registry has no %q set", defaultKey)
	}
	r := &Registry{sets: sets, constraints: map[string]*semver.Constraints{}}
	for key := range sets {
		if key == defaultKey {
			continue
		}
		c, err := semver.NewConstraint(key)
		if err != nil {
			return nil, fmt.Errorf("render: template version key %q is not a valid semver constraint: %w", key, err)
		}
		r.constraints[key] = c
		r.order = append(r.order, key)
	}
	// Most specific first: exact versions ("1.20.0") before open ranges
	// (">=1.20.0"), both before "default". A single version string parses
	// as its own trivially exact constraint, so sorting purely by key
	// length is a reasonable, deterministic proxy for specificity without
	// needing to rank constraint operators.
	sort.Slice(r.order, func(i, j int) bool { return len(r.order[i]) > len(r.order[j]) })
	return r, nil
}

// Select returns the TemplateSet that applies to envoyVersion: an exact key
// match first, then the most specific matching constraint, then "default".
func (r *Registry) Select(envoyVersion string) TemplateSet {
	if set, ok := r.sets[envoyVersion]; ok {
		return set
	}
	v, err := semver.NewVersion(envoyVersion)
	if err == nil {
		for _, key := range r.order {
			if r.constraints[key].Check(v) {
				return r.sets[key]
			}
		}
	}
	return r.sets[defaultKey]
}

// Job is everything needed to render one proxy's discovery response.
type Job struct {
	Request schema.DiscoveryRequest
	Context map[string]any // template context scheduler snapshot, merged with "instances"
}

// Result is a rendered, filtered, type-annotated discovery response ready
// to hand to the cache.
type Result struct {
	VersionInfo string
	Resources   []any
}

// Render executes the template registered for job.Request.ResourceType under
// the set selected for the proxy's Envoy version, filters the output to the
// requested resource names, annotates each resource with "@type" if it
// lacks one, and computes the response's version_info.
func Render(reg *Registry, job Job) (Result, error) {
	set := reg.Select(job.Request.Node.EnvoyVersion())
	tmpl, ok := set[job.Request.ResourceType]
	if !ok {
		return Result{}, fmt.Errorf("render: no template registered for resource type %q", job.Request.ResourceType)
	}
	return WithTemplate(tmpl, job)
}

// WithTemplate runs the render steps (execute, filter, annotate, fingerprint)
// against an already-selected template, independent of a Registry. This is
// the entry point the subprocess-isolated renderer helper uses: it receives
// a compiled template and a Job over its stdin pipe and has no Registry of
// its own to select from.
func WithTemplate(tmpl *template.Compiled, job Job) (Result, error) {
	ctx := make(map[string]any, len(job.Context)+3)
	for k, v := range job.Context {
		ctx[k] = v
	}
	ctx["discovery_request"] = job.Request
	ctx["host_header"] = job.Request.DesiredControlplane
	ctx["resource_names"] = job.Request.ResourceNames

	rendered, err := tmpl.Render(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("render: %w", err)
	}

	filtered := filterResources(rendered, job.Request.ResourceNames)
	addTypeURLs(job.Request.APIVersion, job.Request.ResourceType, filtered)

	resources := make([]any, len(filtered))
	for i, r := range filtered {
		resources[i] = r
	}

	version, err := fingerprint(job.Request.Node, tmpl.Version(), resources)
	if err != nil {
		return Result{}, fmt.Errorf("render: fingerprinting response: %w", err)
	}

	return Result{VersionInfo: version, Resources: resources}, nil
}

// filterResources keeps only resources whose name matches one of requested,
// unless requested is empty (meaning "everything").
func filterResources(resources []map[string]any, requested schema.Resources) []map[string]any {
	if len(requested) == 0 {
		return resources
	}
	out := make([]map[string]any, 0, len(resources))
	for _, r := range resources {
		name, ok := xdstypes.ResourceName(r)
		if ok && requested.Contains(name) {
			out = append(out, r)
		}
	}
	return out
}

// addTypeURLs fills in "@type" on every resource that doesn't already carry
// one, using the well-known type URL table for apiVersion/resourceType. A
// resource type with no entry (e.g. a module template producing something
// outside the known xDS set) is left untouched.
func addTypeURLs(apiVersion, resourceType string, resources []map[string]any) {
	url, ok := xdstypes.TypeURL(apiVersion, resourceType)
	if !ok {
		return
	}
	for _, r := range resources {
		if _, has := r["@type"]; !has {
			r["@type"] = url
		}
	}
}

// fingerprint combines the template's own version, the render context, and
// the node identity into one CRC32 hash, matching the reference
// implementation's "hash everything that could change the output" approach
// to version_info -- a client that already holds this exact version_info
// can be told "nothing changed" without re-rendering.
func fingerprint(node schema.Node, templateVersion string, resources []any) (string, error) {
	canonical, err := json.Marshal(resources)
	if err != nil {
		return "", err
	}
	h := crc32.NewIEEE()
	_, _ = h.Write([]byte(templateVersion))
	_, _ = h.Write([]byte(node.Cluster))
	_, _ = h.Write([]byte(node.ID))
	_, _ = h.Write(canonical)
	return fmt.Sprintf("%d", h.Sum32()), nil
}
