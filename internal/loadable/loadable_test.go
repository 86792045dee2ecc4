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

package loadable

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLegacyInlineWithoutScheme(t *testing.T) {
	l, err := ParseLegacy("just-a-string")
	require.NoError(t, err)
	assert.Equal(t, "inline", l.Protocol)
	assert.Equal(t, SerializationString, l.Serialization)
	assert.Equal(t, "just-a-string", l.Path)
}

func TestParseLegacyProtocolPlusSerialization(t *testing.T) {
	l, err := ParseLegacy("file+json:///etc/sovereign/sources.json")
	require.NoError(t, err)
	assert.Equal(t, "file", l.Protocol)
	assert.Equal(t, SerializationJSON, l.Serialization)
	assert.Equal(t, "/etc/sovereign/sources.json", l.Path)
}

func TestParseLegacyDefaultsSerializationToYAML(t *testing.T) {
	l, err := ParseLegacy("file:///etc/sovereign/sources.yaml")
	require.NoError(t, err)
	assert.Equal(t, SerializationYAML, l.Serialization)
}

func TestParseLegacyModuleForcesRawSerialization(t *testing.T) {
	l, err := ParseLegacy("module+yaml://example.pkg:Value")
	require.NoError(t, err)
	assert.Equal(t, SerializationRaw, l.Serialization)
}

func TestParseLegacyHTTPPreservesScheme(t *testing.T) {
	l, err := ParseLegacy("https://example.com/sources.yaml")
	require.NoError(t, err)
	assert.Equal(t, "https", l.Protocol)
	assert.Equal(t, "https://example.com/sources.yaml", l.Path)
}

func TestLoadFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\nb: two\n"), 0o600))

	l := New("file", SerializationYAML, path)
	v, err := l.Load()
	require.NoError(t, err)

	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "two", m["b"])
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("SOVEREIGN_TEST_VALUE", "hello")
	l := New("env", SerializationString, "SOVEREIGN_TEST_VALUE")
	v, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestLoadEnvMissingErrors(t *testing.T) {
	l := New("env", SerializationRaw, "SOVEREIGN_TEST_MISSING_VALUE")
	_, err := l.Load()
	assert.Error(t, err)
}

func TestLoadOrDefaultFallsBackOnError(t *testing.T) {
	l := New("file", SerializationYAML, "/nonexistent/path.yaml")
	v := l.LoadOrDefault("fallback")
	assert.Equal(t, "fallback", v)
}

func TestLoadHTTPJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cluster":"east"}`))
	}))
	defer srv.Close()

	l := New("http", SerializationJSON, srv.URL)
	v, err := l.Load()
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "east", m["cluster"])
}

func TestLoadModuleRegistry(t *testing.T) {
	RegisterModule("test/fixture", 42)
	l := New("module", SerializationRaw, "test/fixture")
	v, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestLoadUnknownProtocol(t *testing.T) {
	l := New("carrier-pigeon", SerializationRaw, "x")
	_, err := l.Load()
	assert.Error(t, err)
}
