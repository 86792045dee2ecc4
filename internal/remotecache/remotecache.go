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

// Package remotecache is the optional S3-backed cache tier shared across
// replicas: it lets a freshly started instance answer from the last known
// entry instead of presenting a cold cache, and lets client registrations
// survive a replica restart.
package remotecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sovereignproject/sovereign/internal/cachebackend"
	"github.com/sovereignproject/sovereign/internal/schema"
)

// S3API is the subset of *s3.Client this package depends on, so tests can
// substitute an in-memory fake instead of talking to real S3.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Cache is the remote cache tier, keyed under Prefix and with client
// registrations written as individually timestamped objects that get
// compacted into a single object once they exceed CompactionThreshold.
type Cache struct {
	Client S3API
	Bucket string

	// Prefix namespaces rendered entries; defaults to "sovereign-cache/".
	Prefix string

	// RegistrationPrefix namespaces per-client registration objects;
	// defaults to "registrations-".
	RegistrationPrefix string

	// CompactionThreshold is how many individual registration objects
	// accumulate before they're merged into one; defaults to 100.
	CompactionThreshold int
}

const (
	defaultPrefix              = "sovereign-cache/"
	defaultRegistrationPrefix  = "registrations-"
	defaultCompactionThreshold = 100
)

func (c *Cache) prefix() string {
	if c.Prefix == "" {
		return defaultPrefix
	}
	return c.Prefix
}

func (c *Cache) registrationPrefix() string {
	if c.RegistrationPrefix == "" {
		return defaultRegistrationPrefix
	}
	return c.RegistrationPrefix
}

func (c *Cache) compactionThreshold() int {
	if c.CompactionThreshold == 0 {
		return defaultCompactionThreshold
	}
	return c.CompactionThreshold
}

func (c *Cache) objectKey(key string) string {
	return c.prefix() + url.QueryEscape(key)
}

// Get implements cachebackend.Backend.
func (c *Cache) Get(key string) (schema.Entry, bool, error) {
	ctx := context.Background()
	out, err := c.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(c.objectKey(key)),
	})
	if isNotFound(err) {
		return schema.Entry{}, false, nil
	}
	if err != nil {
		return schema.Entry{}, false, fmt.Errorf("remotecache: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return schema.Entry{}, false, fmt.Errorf("remotecache: reading body for %s: %w", key, err)
	}

	var entry schema.Entry
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		return schema.Entry{}, false, fmt.Errorf("remotecache: decoding %s: %w", key, err)
	}
	return entry, true, nil
}

// Set implements cachebackend.Backend.
func (c *Cache) Set(key string, entry schema.Entry) error {
	data, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("remotecache: encoding %s: %w", key, err)
	}
	_, err = c.Client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(c.objectKey(key)),
		Body:   strings.NewReader(string(data)),
	})
	if err != nil {
		return fmt.Errorf("remotecache: put %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk) || strings.Contains(err.Error(), "NoSuchKey")
}

func (c *Cache) registrationKey(id string, ts time.Time) string {
	return fmt.Sprintf("%s%s-%s.msgpack", c.registrationPrefix(), formatTimestamp(ts), url.QueryEscape(id))
}

func formatTimestamp(ts time.Time) string {
	return strconv.FormatInt(ts.UnixMicro(), 10)
}

// Register implements cachebackend.Registrar by writing a new timestamped
// registration object, then compacting if the registration prefix has grown
// past the configured threshold.
func (c *Cache) Register(id string, req schema.DiscoveryRequest) error {
	ctx := context.Background()

	entries, err := c.registrationEntries(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ClientID == id {
			return nil
		}
	}

	data, err := msgpack.Marshal(schema.RegisteredClient{ClientID: id, Request: req})
	if err != nil {
		return fmt.Errorf("remotecache: encoding registration for %s: %w", id, err)
	}

	key := c.registrationKey(id, time.Now())
	if _, err := c.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(string(data)),
	}); err != nil {
		return fmt.Errorf("remotecache: registering %s: %w", id, err)
	}

	if len(entries)+1 > c.compactionThreshold() {
		return c.compact(ctx, append(entries, schema.RegisteredClient{ClientID: id, Request: req}))
	}
	return nil
}

// Registered implements cachebackend.Registrar.
func (c *Cache) Registered(id string) (bool, error) {
	entries, err := c.registrationEntries(context.Background())
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.ClientID == id {
			return true, nil
		}
	}
	return false, nil
}

// RegisteredClients implements cachebackend.Registrar.
func (c *Cache) RegisteredClients() ([]schema.RegisteredClient, error) {
	return c.registrationEntries(context.Background())
}

func (c *Cache) registrationEntries(ctx context.Context) ([]schema.RegisteredClient, error) {
	out, err := c.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.Bucket),
		Prefix: aws.String(c.registrationPrefix()),
	})
	if err != nil {
		return nil, fmt.Errorf("remotecache: listing registrations: %w", err)
	}

	sort.Slice(out.Contents, func(i, j int) bool {
		return aws.ToString(out.Contents[i].Key) < aws.ToString(out.Contents[j].Key)
	})

	var clients []schema.RegisteredClient
	for _, obj := range out.Contents {
		objOut, err := c.Client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(c.Bucket), Key: obj.Key})
		if err != nil {
			continue
		}
		data, err := io.ReadAll(objOut.Body)
		objOut.Body.Close()
		if err != nil {
			continue
		}
		var rc schema.RegisteredClient
		if err := msgpack.Unmarshal(data, &rc); err != nil {
			continue
		}
		clients = append(clients, rc)
	}
	return clients, nil
}

// compact merges every individual registration object into one compacted
// object and deletes the originals, bounding how many objects List has to
// page through as the fleet grows.
func (c *Cache) compact(ctx context.Context, entries []schema.RegisteredClient) error {
	data, err := msgpack.Marshal(entries)
	if err != nil {
		return fmt.Errorf("remotecache: encoding compacted registrations: %w", err)
	}

	compactedKey := fmt.Sprintf("%scompacted-%s.msgpack", c.registrationPrefix(), formatTimestamp(time.Now()))
	if _, err := c.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(compactedKey),
		Body:   strings.NewReader(string(data)),
	}); err != nil {
		return fmt.Errorf("remotecache: writing compacted registrations: %w", err)
	}

	out, err := c.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.Bucket),
		Prefix: aws.String(c.registrationPrefix()),
	})
	if err != nil {
		return nil // best-effort: the compacted object is already written
	}

	var toDelete []types.ObjectIdentifier
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) == compactedKey {
			continue
		}
		toDelete = append(toDelete, types.ObjectIdentifier{Key: obj.Key})
	}
	if len(toDelete) == 0 {
		return nil
	}
	_, err = c.Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(c.Bucket),
		Delete: &types.Delete{Objects: toDelete},
	})
	return err
}

var (
	_ cachebackend.Backend   = (*Cache)(nil)
	_ cachebackend.Registrar = (*Cache)(nil)
)
