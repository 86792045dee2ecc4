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

// Package schema holds the wire-level types shared by every component of the
// control plane: the proxy identity (Node), the discovery request/response
// pair, the cache Entry, and the RegisteredClient record the worker iterates
// on change events.
package schema

import (
	"strconv"
	"strings"
)

// Locality describes the optional topology hint a proxy reports alongside
// its Node.
type Locality struct {
	Region  string `json:"region,omitempty" yaml:"region,omitempty"`
	Zone    string `json:"zone,omitempty" yaml:"zone,omitempty"`
	SubZone string `json:"sub_zone,omitempty" yaml:"sub_zone,omitempty"`
}

// BuildVersion is the structured form of a proxy's build/release string,
// alongside the legacy slashed representation it was parsed from.
type BuildVersion struct {
	Major int `json:"major,omitempty" yaml:"major,omitempty"`
	Minor int `json:"minor,omitempty" yaml:"minor,omitempty"`
	Patch int `json:"patch,omitempty" yaml:"patch,omitempty"`
}

// Node identifies the proxy instance making a discovery request.
type Node struct {
	// ID is the proxy hostname. Defaults to "-" when absent.
	ID string `json:"id" yaml:"id"`

	// Cluster is the logical service-cluster the proxy belongs to. Must be
	// non-empty.
	Cluster string `json:"cluster" yaml:"cluster"`

	// BuildVersionString is the legacy "<revision>/<version>/..." string a
	// proxy may report.
	BuildVersionString string `json:"build_version,omitempty" yaml:"build_version,omitempty"`

	// BuildVersion is the structured alternative to BuildVersionString.
	BuildVersion *BuildVersion `json:"build_version_struct,omitempty" yaml:"build_version_struct,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Locality Locality        `json:"locality,omitempty" yaml:"locality,omitempty"`
}

// defaultEnvoyVersion is returned whenever neither build version
// representation can be parsed. Parsing never fails outward; it degrades to
// this sentinel instead.
const defaultEnvoyVersion = "default"

// EnvoyVersion derives the proxy's release version from whichever build
// version representation is present, preferring the structured form.
// Parsing never errors: malformed or absent input yields "default".
func (n Node) EnvoyVersion() string {
	if n.BuildVersion != nil {
		return formatBuildVersion(*n.BuildVersion)
	}
	if n.BuildVersionString == "" {
		return defaultEnvoyVersion
	}
	parts := strings.Split(n.BuildVersionString, "/")
	if len(parts) < 2 {
		return defaultEnvoyVersion
	}
	version := parts[1]
	if version == "" {
		return defaultEnvoyVersion
	}
	return version
}

func formatBuildVersion(v BuildVersion) string {
	return strings.Join([]string{
		strconv.Itoa(v.Major), strconv.Itoa(v.Minor), strconv.Itoa(v.Patch),
	}, ".")
}

// Common returns the fields that identify a logical group of adjacent
// proxies: proxies that share a Common value are interchangeable replicas
// of the same configuration.
func (n Node) Common() (cluster, buildVersion string, locality Locality) {
	return n.Cluster, n.EnvoyVersion(), n.Locality
}
