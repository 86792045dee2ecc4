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

package dualcache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereignproject/sovereign/internal/schema"
)

type memBackend struct {
	entries map[string]schema.Entry
	getErr  error
	setErr  error
}

func newMemBackend() *memBackend {
	return &memBackend{entries: map[string]schema.Entry{}}
}

func (m *memBackend) Get(key string) (schema.Entry, bool, error) {
	if m.getErr != nil {
		return schema.Entry{}, false, m.getErr
	}
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *memBackend) Set(key string, entry schema.Entry) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.entries[key] = entry
	return nil
}

func TestGetHitsLocalWithoutTouchingRemote(t *testing.T) {
	local := newMemBackend()
	remote := newMemBackend()
	local.entries["k"] = schema.Entry{Text: "local-value"}
	remote.entries["k"] = schema.Entry{Text: "remote-value"}

	c := &Cache{Local: local, Remote: remote}
	entry, ok, err := c.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "local-value", entry.Text)
}

func TestGetFallsBackToRemoteAndWritesBack(t *testing.T) {
	local := newMemBackend()
	remote := newMemBackend()
	remote.entries["k"] = schema.Entry{Text: "remote-value"}

	c := &Cache{Local: local, Remote: remote}
	entry, ok, err := c.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "remote-value", entry.Text)

	// Cold-replica remote fallback: a second read must hit local without
	// the remote backend participating.
	remote.entries = map[string]schema.Entry{}
	entry, ok, err = c.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "remote-value", entry.Text)
}

func TestGetMissWithNoRemoteConfigured(t *testing.T) {
	local := newMemBackend()
	c := &Cache{Local: local}
	_, ok, err := c.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetWritesBothTiersAndToleratesRemoteFailure(t *testing.T) {
	local := newMemBackend()
	remote := newMemBackend()
	remote.setErr = errors.New("remote unavailable")

	c := &Cache{Local: local, Remote: remote}
	err := c.Set("k", schema.Entry{Text: "v"})
	require.NoError(t, err, "a remote write failure must not fail the overall Set")

	_, ok, _ := local.Get("k")
	assert.True(t, ok)
}

func TestGetPropagatesLocalError(t *testing.T) {
	local := newMemBackend()
	local.getErr = errors.New("disk error")
	c := &Cache{Local: local}
	_, _, err := c.Get("k")
	assert.Error(t, err)
}

type memRegistrar struct {
	*memBackend
	registered map[string]schema.DiscoveryRequest
}

func newMemRegistrar() *memRegistrar {
	return &memRegistrar{memBackend: newMemBackend(), registered: map[string]schema.DiscoveryRequest{}}
}

func (m *memRegistrar) Register(id string, req schema.DiscoveryRequest) error {
	m.registered[id] = req
	return nil
}

func (m *memRegistrar) Registered(id string) (bool, error) {
	_, ok := m.registered[id]
	return ok, nil
}

func (m *memRegistrar) RegisteredClients() ([]schema.RegisteredClient, error) {
	var out []schema.RegisteredClient
	for id, req := range m.registered {
		out = append(out, schema.RegisteredClient{ClientID: id, Request: req})
	}
	return out, nil
}

func TestRegisterPrefersRemoteRegistrarWhenConfigured(t *testing.T) {
	local := newMemRegistrar()
	remote := newMemRegistrar()
	c := &Cache{Local: local, Remote: remote}

	require.NoError(t, c.Register("client-1", schema.DiscoveryRequest{}))

	registered, err := remote.Registered("client-1")
	require.NoError(t, err)
	assert.True(t, registered)

	_, ok := local.registered["client-1"]
	assert.False(t, ok, "local tier must not be written when remote is the registrar")
}

func TestRegisterFallsBackToLocalWhenNoRemoteConfigured(t *testing.T) {
	local := newMemRegistrar()
	c := &Cache{Local: local}

	require.NoError(t, c.Register("client-1", schema.DiscoveryRequest{}))

	registered, err := c.Registered("client-1")
	require.NoError(t, err)
	assert.True(t, registered)
}

func TestRegisteredIsFalseWhenNoRegistrarConfigured(t *testing.T) {
	c := &Cache{Local: newMemBackend()}
	registered, err := c.Registered("client-1")
	require.NoError(t, err)
	assert.False(t, registered)
}
