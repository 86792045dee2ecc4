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

// Package build exposes the version metadata linked into the sovereignctl
// and sovereign-renderer binaries at build time.
package build

import (
	"gopkg.in/yaml.v3"
)

// Info is the version metadata reported by `sovereignctl version` and the
// /version HTTP endpoint.
type Info struct {
	Branch  string `yaml:"branch,omitempty"`
	Sha     string `yaml:"sha,omitempty"`
	Version string `yaml:"version,omitempty"`
}

// Branch allows for a queryable branch name set at build time.
var Branch string

// Sha allows for a queryable git sha set at build time.
var Sha string

// Version allows for a queryable version set at build time.
var Version string

// String renders the build info as YAML.
func String() string {
	out, err := yaml.Marshal(&Info{Branch, Sha, Version})
	if err != nil {
		panic(err)
	}
	return string(out)
}
