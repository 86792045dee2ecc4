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

// Package config is the on-disk YAML schema every sovereignctl command
// parses, validates, and (for "serve") uses to build the control plane's
// components. One base file plus any number of environment overlays are
// merged with dario.cat/mergo, the same two-stage load the teacher's
// pkg/config package does for its own YAML configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// SourceConfig is one configured upstream instance source: a type
// discriminator, the scope it contributes instances to, and an arbitrary
// config block interpreted by that type's constructor.
type SourceConfig struct {
	Type   string         `yaml:"type"`
	Scope  string         `yaml:"scope"`
	Config map[string]any `yaml:"config"`
}

// TemplateConfig names the on-disk location of one resource-type template.
type TemplateConfig struct {
	Path string `yaml:"path"`
}

// TemplateContextEntry names one background-refreshed context value.
type TemplateContextEntry struct {
	Name string `yaml:"name"`
	// Path is a loadable.ParseLegacy reference ("http://...", "file://...").
	Path string `yaml:"path"`
	// RefreshRate is a plain integer-seconds string or a five-field cron
	// expression, parsed with templatecontext.ParseInterval.
	RefreshRate string `yaml:"refresh_rate"`
}

// CacheConfig controls the local/remote cache tiers.
type CacheConfig struct {
	// LocalDir is where the filesystem cache tier stores rendered blobs
	// and the client registration database. Required.
	LocalDir string `yaml:"local_dir"`

	// RemoteBucket, if set, enables the S3-backed remote tier.
	RemoteBucket string `yaml:"remote_bucket"`
	RemoteRegion string `yaml:"remote_region"`
	RemotePrefix string `yaml:"remote_prefix"`

	// ReadTimeout bounds how long a blocking discovery read waits for a
	// render before giving up and returning a "not yet available" result.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// Rules lists the DiscoveryRequest fields folded into the cache
	// fingerprint, beyond the always-included node identity and resource
	// type (e.g. "locality", "metadata.region").
	Rules []string `yaml:"rules"`
}

// CryptoConfig selects and keys the cipher suite used for the "auth" field
// and the render context's "crypto" helper.
type CryptoConfig struct {
	// Suite is one of "disabled", "aesgcm", "fernet". Defaults to
	// "disabled" when EncryptionKey is empty regardless of this setting.
	Suite string `yaml:"suite"`

	EncryptionKey string `yaml:"encryption_key"`

	AuthEnabled   bool     `yaml:"auth_enabled"`
	AuthPasswords []string `yaml:"auth_passwords"`
}

// LoggingConfig controls the application and access loggers.
type LoggingConfig struct {
	Level             string `yaml:"level"`
	JSON              bool   `yaml:"json"`
	AccessLogsEnabled bool   `yaml:"access_logs_enabled"`
	IgnoreEmptyFields bool   `yaml:"ignore_empty_fields"`
}

// Config is the root configuration schema, the Go equivalent of the
// original's SovereignConfig.
type Config struct {
	// Sources lists every configured upstream instance source.
	Sources []SourceConfig `yaml:"sources"`

	// Templates maps an Envoy version key ("default", a semver version, or
	// a semver constraint) to its per-resource-type template paths.
	Templates map[string]map[string]TemplateConfig `yaml:"templates"`

	// Modifiers and GlobalModifiers name registered instance.Modifier and
	// instance.GlobalModifier implementations to apply, in order.
	Modifiers       []string `yaml:"modifiers"`
	GlobalModifiers []string `yaml:"global_modifiers"`

	// TemplateContext lists the named values the Template Context
	// Scheduler keeps refreshed in the background and injects into every
	// render, the Go equivalent of the original's template_context dict.
	TemplateContext []TemplateContextEntry `yaml:"template_context"`

	Cache  CacheConfig  `yaml:"cache"`
	Crypto CryptoConfig `yaml:"crypto"`

	Logging LoggingConfig `yaml:"logging"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// WorkerHost/WorkerPort is where the internal PUT /client listener
	// (internal/workerapi) binds; the outward discovery listener on
	// Host/Port registers new clients against it.
	WorkerHost string `yaml:"worker_host"`
	WorkerPort int    `yaml:"worker_port"`

	NodeMatchKey      string `yaml:"node_match_key"`
	MatchingEnabled   bool   `yaml:"matching_enabled"`
	SourceMatchKey    string `yaml:"source_match_key"`
	SourcesRefreshRate time.Duration `yaml:"sources_refresh_rate"`

	RefreshContext     bool          `yaml:"refresh_context"`
	ContextRefreshRate time.Duration `yaml:"context_refresh_rate"`

	RenderWorkers int    `yaml:"render_workers"`
	RendererPath  string `yaml:"renderer_path"`
	RenderTimeout time.Duration `yaml:"render_timeout"`

	Environment string `yaml:"environment"`
	Debug       bool   `yaml:"debug"`
}

// Parse decodes YAML config from r and applies defaults for every field
// left zero.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// ParseFile opens path and parses it.
func ParseFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Overlay merges overlay on top of base: any field overlay leaves zero
// keeps base's value, any field overlay sets wins. Mirrors the original's
// "base config + environment overlay" precedence, using the same
// dario.cat/mergo library the teacher's go.mod already carries.
func Overlay(base *Config, overlay *Config) (*Config, error) {
	merged := *base
	if err := mergo.Merge(&merged, overlay, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("config: merge overlay: %w", err)
	}
	return &merged, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.WorkerHost == "" {
		c.WorkerHost = "127.0.0.1"
	}
	if c.WorkerPort == 0 {
		c.WorkerPort = 8081
	}
	if c.NodeMatchKey == "" {
		c.NodeMatchKey = "cluster"
	}
	if c.SourceMatchKey == "" {
		c.SourceMatchKey = "service_clusters"
	}
	if c.SourcesRefreshRate == 0 {
		c.SourcesRefreshRate = 30 * time.Second
	}
	if c.ContextRefreshRate == 0 {
		c.ContextRefreshRate = time.Hour
	}
	if c.RenderWorkers == 0 {
		c.RenderWorkers = runtime.NumCPU()
	}
	if c.RenderTimeout == 0 {
		c.RenderTimeout = 10 * time.Second
	}
	if c.Cache.ReadTimeout == 0 {
		c.Cache.ReadTimeout = 5 * time.Second
	}
	if c.Cache.LocalDir == "" {
		c.Cache.LocalDir = "/var/lib/sovereign/cache"
	}
	if c.Crypto.Suite == "" {
		c.Crypto.Suite = "disabled"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports the first configuration error found, the way the
// original's pydantic models raised on construction.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("config: at least one source must be configured")
	}
	for i, s := range c.Sources {
		if s.Type == "" {
			return fmt.Errorf("config: sources[%d]: type is required", i)
		}
	}
	if len(c.Templates) == 0 {
		return fmt.Errorf("config: at least one template set must be configured")
	}
	if _, ok := c.Templates["default"]; !ok {
		return fmt.Errorf(`config: templates must include a "default" version key`)
	}
	if c.Crypto.AuthEnabled && c.Crypto.EncryptionKey == "" {
		return fmt.Errorf("config: auth_enabled requires an encryption_key")
	}
	return nil
}
