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

package source

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sovereignproject/sovereign/internal/loadable"
)

func init() {
	Register("file", newFileSource)
	Register("inline", newInlineSource)
	Register("http", newHTTPSource)
	Register("mock", newMockSource)
}

// fileSource loads instances from a Loadable path, re-reading it on every
// poll so on-disk edits are picked up without a restart.
type fileSource struct {
	path loadable.Loadable
}

func newFileSource(cfg Config) (Source, error) {
	raw, ok := cfg.Config["path"].(string)
	if !ok {
		return nil, fmt.Errorf("file source config must contain a string \"path\"")
	}
	l, err := loadable.ParseLegacy(raw)
	if err != nil {
		return nil, err
	}
	return &fileSource{path: l}, nil
}

func (s *fileSource) Get() ([]any, error) {
	v, err := s.path.Load()
	if err != nil {
		return nil, err
	}
	return asInstanceList(v)
}

func asInstanceList(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("source: expected a list of instances, got %T", v)
	}
}

// inlineSource returns instances supplied directly in the source config, so
// small fleets can describe their upstream data in the same config file as
// everything else.
type inlineSource struct {
	instances []any
}

func newInlineSource(cfg Config) (Source, error) {
	raw, ok := cfg.Config["instances"]
	if !ok {
		return nil, fmt.Errorf("inline source config must contain \"instances\"")
	}
	instances, err := asInstanceList(raw)
	if err != nil {
		return nil, err
	}
	return &inlineSource{instances: instances}, nil
}

func (s *inlineSource) Get() ([]any, error) {
	return s.instances, nil
}

// httpSource polls one or more broker URLs for instances, falling back to a
// locally cached last-known-good copy (and, if configured, a static debug
// list) when every broker is unreachable.
type httpSource struct {
	urls           []string
	backupPath     string
	debug          bool
	debugInstances []any

	client *http.Client
}

func newHTTPSource(cfg Config) (Source, error) {
	urlsRaw, ok := cfg.Config["urls"].([]any)
	if !ok || len(urlsRaw) == 0 {
		return nil, fmt.Errorf("http source config must contain a non-empty \"urls\" list")
	}
	urls := make([]string, len(urlsRaw))
	for i, u := range urlsRaw {
		s, ok := u.(string)
		if !ok {
			return nil, fmt.Errorf("http source urls must be strings")
		}
		urls[i] = s
	}

	backupPath, _ := cfg.Config["backup_file"].(string)
	if backupPath == "" {
		backupPath = "sovereign_source_backup.json"
	}

	debug, _ := cfg.Config["debug"].(bool)
	var debugInstances []any
	if di, ok := cfg.Config["debug_instances"]; ok {
		var err error
		debugInstances, err = asInstanceList(di)
		if err != nil {
			return nil, err
		}
	}

	return &httpSource{
		urls:           urls,
		backupPath:     backupPath,
		debug:          debug,
		debugInstances: debugInstances,
		client:         &http.Client{Timeout: 3 * time.Second},
	}, nil
}

func (s *httpSource) Get() ([]any, error) {
	var lastErr error
	for _, u := range s.urls {
		instances, err := s.fetch(u)
		if err != nil {
			lastErr = err
			continue
		}
		s.save(instances)
		return instances, nil
	}

	if s.debug {
		return s.debugInstances, nil
	}
	instances, err := s.loadBackup()
	if err != nil {
		return nil, fmt.Errorf("http source: all brokers unreachable (last error: %w) and no backup available: %w", lastErr, err)
	}
	return instances, nil
}

func (s *httpSource) fetch(url string) ([]any, error) {
	resp, err := s.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	var instances []any
	if err := json.NewDecoder(resp.Body).Decode(&instances); err != nil {
		return nil, err
	}
	return instances, nil
}

func (s *httpSource) save(instances []any) {
	data, err := json.Marshal(instances)
	if err != nil {
		return
	}
	_ = os.WriteFile(s.backupPath, data, 0o644)
}

func (s *httpSource) loadBackup() ([]any, error) {
	data, err := os.ReadFile(s.backupPath)
	if err != nil {
		return nil, err
	}
	var instances []any
	if err := json.Unmarshal(data, &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// mockSource returns a fixed set of instances, used in tests and in
// development environments with no real upstream data source available.
type mockSource struct {
	instances []any
}

func newMockSource(cfg Config) (Source, error) {
	instances, err := asInstanceList(cfg.Config["instances"])
	if err != nil {
		return nil, err
	}
	return &mockSource{instances: instances}, nil
}

func (s *mockSource) Get() ([]any, error) {
	return s.instances, nil
}
