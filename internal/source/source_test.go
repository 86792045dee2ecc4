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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineSourceReturnsConfiguredInstances(t *testing.T) {
	s, err := New(Config{Type: "inline", Config: map[string]any{
		"instances": []any{map[string]any{"instance_id": "a"}},
	}})
	require.NoError(t, err)

	instances, err := s.Get()
	require.NoError(t, err)
	assert.Len(t, instances, 1)
}

func TestFileSourceReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instances.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- instance_id: a\n- instance_id: b\n"), 0o600))

	s, err := New(Config{Type: "file", Config: map[string]any{"path": path}})
	require.NoError(t, err)

	instances, err := s.Get()
	require.NoError(t, err)
	assert.Len(t, instances, 2)
}

func TestHTTPSourceFallsBackToDebugInstances(t *testing.T) {
	s, err := New(Config{Type: "http", Config: map[string]any{
		"urls":            []any{"http://127.0.0.1:1/unreachable"},
		"debug":           true,
		"debug_instances": []any{map[string]any{"instance_id": "fallback"}},
	}})
	require.NoError(t, err)

	instances, err := s.Get()
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "fallback", instances[0].(map[string]any)["instance_id"])
}

func TestHTTPSourceFetchesFromBroker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"instance_id":"live"}]`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	s, err := New(Config{Type: "http", Config: map[string]any{
		"urls":        []any{srv.URL},
		"backup_file": filepath.Join(dir, "backup.json"),
	}})
	require.NoError(t, err)

	instances, err := s.Get()
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "live", instances[0].(map[string]any)["instance_id"])
}

func TestUnknownSourceType(t *testing.T) {
	_, err := New(Config{Type: "does-not-exist"})
	assert.Error(t, err)
}
