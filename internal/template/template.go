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

// Package template wraps a configured resource-type template: where its
// source comes from (a loadable.Loadable), how it renders (text/template or
// a registered Go module function), and the version fingerprint derived
// from its source.
package template

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"sort"
	"text/template"

	"github.com/sovereignproject/sovereign/internal/loadable"
)

// ModuleFunc is the Go equivalent of the reference implementation's
// "python://" module templates: a function registered at build time,
// invoked with the render context instead of parsed and executed as text.
type ModuleFunc func(ctx map[string]any) ([]map[string]any, error)

// Spec configures one resource-type template.
type Spec struct {
	ResourceType string
	Path         loadable.Loadable
	DependsOn    []string
}

// Compiled is a Spec that has loaded its source and, for the text flavour,
// parsed it. Compile once per configuration reload; Render many times.
type Compiled struct {
	spec     Spec
	source   string
	version  string
	isModule bool
	module   ModuleFunc
	text     *template.Template
}

// Compile loads spec.Path and prepares it for rendering. For a "module"
// protocol path, the loaded value must be a ModuleFunc (registered via
// loadable.RegisterModule); anything else is treated as template/Jinja-style
// text and parsed with text/template.
func Compile(spec Spec) (*Compiled, error) {
	v, err := spec.Path.Load()
	if err != nil {
		return nil, fmt.Errorf("template %s: loading source: %w", spec.ResourceType, err)
	}

	c := &Compiled{spec: spec}

	if fn, ok := v.(ModuleFunc); ok {
		c.isModule = true
		c.module = fn
		c.source = fmt.Sprintf("module:%s", spec.Path.Path)
		c.version = checksum(c.source)
		return c, nil
	}

	text, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("template %s: loaded value is not text and not a registered module function (%T)", spec.ResourceType, v)
	}

	tmpl, err := template.New(spec.ResourceType).Funcs(FuncMap).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("template %s: parsing: %w", spec.ResourceType, err)
	}
	c.text = tmpl
	c.source = text
	c.version = checksum(text)
	return c, nil
}

// checksum mirrors the reference implementation's use of a content hash of
// the template's own source (not its rendered output) as the template's
// contribution to a response's version_info.
func checksum(source string) string {
	return fmt.Sprintf("%d", crc32.ChecksumIEEE([]byte(source)))
}

// Version returns the CRC32 fingerprint of this template's source text.
func (c *Compiled) Version() string { return c.version }

// Source returns the template's raw, unparsed source text. For a module
// template this is a synthetic "module:<name>" marker, not executable text;
// callers that need to cross a process boundary should check IsModule
// first, since a module template's function value can't be recompiled from
// Source alone.
func (c *Compiled) Source() string { return c.source }

// IsModule reports whether this template is a registered Go function rather
// than parsed text -- such a template can only be rendered in-process.
func (c *Compiled) IsModule() bool { return c.isModule }

// Recompile builds a standalone Compiled from the same resource type and
// raw text source, parsing it fresh. Used by the subprocess render helper,
// which receives only a resource type and source string over its stdin
// pipe and has no access to the original loadable.Loadable.
func Recompile(resourceType, source string) (*Compiled, error) {
	tmpl, err := template.New(resourceType).Funcs(FuncMap).Parse(source)
	if err != nil {
		return nil, fmt.Errorf("template %s: parsing: %w", resourceType, err)
	}
	return &Compiled{
		spec:    Spec{ResourceType: resourceType},
		text:    tmpl,
		source:  source,
		version: checksum(source),
	}, nil
}

// ResourceType returns the configured resource type, e.g. "clusters".
func (c *Compiled) ResourceType() string { return c.spec.ResourceType }

// DependsOn lists the template-context task names this template requires,
// used to decide whether a context task change should trigger a re-render.
func (c *Compiled) DependsOn() []string { return c.spec.DependsOn }

// Render executes the template (or module function) against ctx and returns
// the list of resource maps it produced.
func (c *Compiled) Render(ctx map[string]any) ([]map[string]any, error) {
	if c.isModule {
		return c.module(ctx)
	}

	var buf bytes.Buffer
	if err := c.text.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("template %s: execute: %w", c.spec.ResourceType, err)
	}

	v, err := loadable.Loadable{Protocol: "inline", Serialization: loadable.SerializationYAML, Path: buf.String()}.Load()
	if err != nil {
		return nil, fmt.Errorf("template %s: decoding rendered output: %w", c.spec.ResourceType, err)
	}
	decoded, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("template %s: rendered output is not a mapping", c.spec.ResourceType)
	}
	rawResources, ok := decoded["resources"]
	if !ok {
		return nil, fmt.Errorf("template %s: rendered output has no \"resources\" key", c.spec.ResourceType)
	}
	list, ok := rawResources.([]any)
	if !ok {
		return nil, fmt.Errorf("template %s: \"resources\" is not a list", c.spec.ResourceType)
	}

	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("template %s: resource entry is not a mapping", c.spec.ResourceType)
		}
		out = append(out, m)
	}
	return out, nil
}

// VersionInfo combines multiple templates' individual versions into one
// stable string, sorted by resource type so the order templates were
// registered in doesn't affect the result.
func VersionInfo(templates []*Compiled) string {
	sorted := make([]*Compiled, len(templates))
	copy(sorted, templates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].spec.ResourceType < sorted[j].spec.ResourceType })

	h := crc32.NewIEEE()
	for _, t := range sorted {
		_, _ = h.Write([]byte(t.spec.ResourceType))
		_, _ = h.Write([]byte(t.version))
	}
	return fmt.Sprintf("%d", h.Sum32())
}
