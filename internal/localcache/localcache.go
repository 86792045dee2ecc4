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

// Package localcache is the filesystem-backed cache tier every replica
// keeps regardless of whether a remote tier is configured: rendered
// entries as SHA-256-named blob files, and known client registrations in an
// embedded SQL database alongside them.
package localcache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/sovereignproject/sovereign/internal/cachebackend"
	"github.com/sovereignproject/sovereign/internal/schema"
)

const (
	createTable = `CREATE TABLE IF NOT EXISTS registered_clients (
		client_id TEXT PRIMARY KEY,
		discovery_request TEXT NOT NULL
	)`
	insertClient  = `INSERT OR IGNORE INTO registered_clients (client_id, discovery_request) VALUES (?, ?)`
	listClients   = `SELECT client_id, discovery_request FROM registered_clients`
	searchClient  = `SELECT 1 FROM registered_clients WHERE client_id = ?`
)

// Cache is the local cache tier. It satisfies cachebackend.Backend,
// cachebackend.Deleter, and cachebackend.Registrar.
type Cache struct {
	dir string
	db  *sql.DB
}

// Open creates (if necessary) dir and the registration database within it,
// and returns a ready-to-use Cache.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("localcache: creating %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "clients.db"))
	if err != nil {
		return nil, fmt.Errorf("localcache: opening registration database: %w", err)
	}
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("localcache: creating registration table: %w", err)
	}

	return &Cache{dir: dir, db: db}, nil
}

// Close releases the registration database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) blobPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:]))
}

// Get implements cachebackend.Backend.
func (c *Cache) Get(key string) (schema.Entry, bool, error) {
	data, err := os.ReadFile(c.blobPath(key))
	if os.IsNotExist(err) {
		return schema.Entry{}, false, nil
	}
	if err != nil {
		return schema.Entry{}, false, fmt.Errorf("localcache: reading blob for %s: %w", key, err)
	}
	var entry schema.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return schema.Entry{}, false, fmt.Errorf("localcache: decoding blob for %s: %w", key, err)
	}
	return entry, true, nil
}

// Set implements cachebackend.Backend.
func (c *Cache) Set(key string, entry schema.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("localcache: encoding entry for %s: %w", key, err)
	}
	return os.WriteFile(c.blobPath(key), data, 0o644)
}

// Delete implements cachebackend.Deleter.
func (c *Cache) Delete(key string) error {
	err := os.Remove(c.blobPath(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Register implements cachebackend.Registrar. Registration is
// insert-or-ignore: re-registering a known client id is a no-op.
func (c *Cache) Register(id string, req schema.DiscoveryRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("localcache: encoding request for %s: %w", id, err)
	}
	_, err = c.db.Exec(insertClient, id, string(data))
	return err
}

// Registered implements cachebackend.Registrar.
func (c *Cache) Registered(id string) (bool, error) {
	row := c.db.QueryRow(searchClient, id)
	var found int
	err := row.Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RegisteredClients implements cachebackend.Registrar.
func (c *Cache) RegisteredClients() ([]schema.RegisteredClient, error) {
	rows, err := c.db.Query(listClients)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []schema.RegisteredClient
	for rows.Next() {
		var id, reqJSON string
		if err := rows.Scan(&id, &reqJSON); err != nil {
			return nil, err
		}
		var req schema.DiscoveryRequest
		if err := json.Unmarshal([]byte(reqJSON), &req); err != nil {
			return nil, fmt.Errorf("localcache: decoding registered request for %s: %w", id, err)
		}
		clients = append(clients, schema.RegisteredClient{ClientID: id, Request: req})
	}
	return clients, rows.Err()
}

var (
	_ cachebackend.Backend   = (*Cache)(nil)
	_ cachebackend.Deleter   = (*Cache)(nil)
	_ cachebackend.Registrar = (*Cache)(nil)
)
