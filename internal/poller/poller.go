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

// Package poller continuously ingests instance data from every configured
// Source, diffs it against what it last saw, applies configured modifiers,
// and matches the result against proxy nodes by a configurable key. It is
// the component that decides which instances a given proxy should receive.
package poller

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sovereignproject/sovereign/internal/eventbus"
	"github.com/sovereignproject/sovereign/internal/instance"
	"github.com/sovereignproject/sovereign/internal/metrics"
	"github.com/sovereignproject/sovereign/internal/modifier"
	"github.com/sovereignproject/sovereign/internal/schema"
	"github.com/sovereignproject/sovereign/internal/source"
)

// ScopedInstances groups instances by the scope of the source that produced
// them, e.g. "default" or a named secondary data set.
type ScopedInstances map[string][]map[string]any

// ConfiguredSource pairs a constructed Source with the scope its instances
// belong to.
type ConfiguredSource struct {
	Source source.Source
	Scope  string
}

// Config bundles the poller's tunables, normally sourced from the top-level
// configuration schema.
type Config struct {
	Sources         []ConfiguredSource
	MatchingEnabled bool
	NodeMatchKey    string
	SourceMatchKey  string
	RefreshInterval time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	DebugMatching   bool

	GlobalModifiers []modifier.GlobalModifier
	Modifiers       []modifier.Modifier

	Bus     *eventbus.Bus
	Metrics *metrics.Metrics
	Log     logrus.FieldLogger
}

const (
	defaultRefreshInterval = 30 * time.Second
	defaultMaxRetries      = 3
	defaultRetryDelay      = 1 * time.Second
	staleAfter             = 2 * time.Minute
)

// Poller is the Source Poller. The zero value is not usable; construct with
// New.
type Poller struct {
	cfg Config

	mu           sync.RWMutex
	data         ScopedInstances
	dataModified ScopedInstances
	lastUpdated  time.Time
	instanceCount int
	retryCount   int

	matchCache map[string]ScopedInstances
}

// New validates cfg and returns a ready Poller. At least one source is
// required.
func New(cfg Config) (*Poller, error) {
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("poller: no data sources configured")
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Bus == nil {
		cfg.Bus = eventbus.New()
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	return &Poller{
		cfg:        cfg,
		data:       ScopedInstances{},
		matchCache: map[string]ScopedInstances{},
	}, nil
}

// Bus returns the event bus the poller publishes SourcesChanged on.
func (p *Poller) Bus() *eventbus.Bus { return p.cfg.Bus }

// DataIsStale reports whether the poller has not successfully refreshed in
// over two minutes, signalling upstream data sources may be unreachable.
func (p *Poller) DataIsStale() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastUpdated.Before(time.Now().Add(-staleAfter))
}

// Refresh pulls fresh data from every configured source, merges it into
// ScopedInstances, and compares it against what was previously held.
// It returns true if the refreshed data differs from what was already
// stored. Any source erroring increments the internal retry counter; once
// it reaches MaxRetries it resets to zero so the next cycle starts a fresh
// backoff run.
func (p *Poller) Refresh() bool {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.SourcesPollTotal.WithLabelValues("attempt").Inc()
	}
	start := time.Now()
	defer func() {
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.SourcesPollDuration.Observe(time.Since(start).Seconds())
		}
	}()

	fresh := ScopedInstances{}
	for _, cs := range p.cfg.Sources {
		instances, err := cs.Source.Get()
		if err != nil {
			return p.handleRefreshError(err)
		}
		for _, inst := range instances {
			m, ok := inst.(map[string]any)
			if !ok {
				continue
			}
			fresh[cs.Scope] = append(fresh[cs.Scope], m)
		}
	}

	p.mu.Lock()
	p.retryCount = 0
	changed := !reflect.DeepEqual(fresh, p.data)
	p.lastUpdated = time.Now()
	if !changed {
		p.mu.Unlock()
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.SourcesPollTotal.WithLabelValues("ok").Inc()
			p.cfg.Metrics.SourcesUnchangedTotal.Inc()
		}
		return false
	}

	count := 0
	for _, instances := range fresh {
		count += len(instances)
	}
	p.instanceCount = count
	p.data = fresh
	p.mu.Unlock()

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.SourcesPollTotal.WithLabelValues("ok").Inc()
		p.cfg.Metrics.SourcesChangedTotal.Inc()
	}
	p.cfg.Log.WithField("instances", count).Info("sources refreshed with changes")
	return true
}

func (p *Poller) handleRefreshError(err error) bool {
	p.mu.Lock()
	p.retryCount++
	retryCount := p.retryCount
	if retryCount >= p.cfg.MaxRetries {
		p.retryCount = 0
	}
	p.mu.Unlock()

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.SourcesPollTotal.WithLabelValues("error").Inc()
		p.cfg.Metrics.SourcesRetryCount.Set(float64(retryCount))
	}
	p.cfg.Log.WithError(err).WithFields(logrus.Fields{
		"attempt":     retryCount,
		"max_retries": p.cfg.MaxRetries,
	}).Error("error while refreshing sources")
	return false
}

// RetryDelay computes the delay to sleep before the next poll attempt,
// applying exponential backoff while retryCount is non-zero and capping at
// the configured refresh interval.
func (p *Poller) RetryDelay() time.Duration {
	p.mu.RLock()
	retryCount := p.retryCount
	p.mu.RUnlock()

	if retryCount == 0 {
		return p.cfg.RefreshInterval
	}
	delay := p.cfg.RetryDelay * time.Duration(1<<uint(retryCount-1))
	if delay > p.cfg.RefreshInterval {
		delay = p.cfg.RefreshInterval
	}
	return delay
}

// ApplyModifications deep-copies the current source data and runs every
// configured global modifier and per-instance modifier over it, in that
// order (global modifiers run before per-instance modifiers, and each runs
// in the order it was configured).
func (p *Poller) ApplyModifications() ScopedInstances {
	p.mu.RLock()
	data := p.data
	p.mu.RUnlock()

	if len(p.cfg.GlobalModifiers) == 0 && len(p.cfg.Modifiers) == 0 {
		return data
	}

	out := ScopedInstances{}
	for scope, instances := range data {
		out[scope] = modifier.Apply(instances, p.cfg.GlobalModifiers, p.cfg.Modifiers)
	}
	return out
}

// Poll runs one refresh-and-modify cycle. When the refresh changed the
// underlying data, it clears the node-match cache and publishes
// SourcesChanged so the worker knows to re-render for every registered
// client.
func (p *Poller) Poll() {
	updated := p.Refresh()

	modified := p.ApplyModifications()
	p.mu.Lock()
	p.dataModified = modified
	p.mu.Unlock()

	if updated {
		p.mu.Lock()
		p.matchCache = map[string]ScopedInstances{}
		p.mu.Unlock()
		p.cfg.Bus.Publish(eventbus.SourcesChanged)
	}
}

// Run polls forever until stop is closed, sleeping RetryDelay() between
// attempts. It is shaped to satisfy workgroup.Group's
// func(<-chan struct{}) error member signature.
func (p *Poller) Run(stop <-chan struct{}) error {
	for {
		p.Poll()

		select {
		case <-stop:
			return nil
		case <-time.After(p.RetryDelay()):
		}
	}
}

// RunContext is Run's context.Context-based equivalent, for wiring via
// workgroup.Group's AddContext.
func (p *Poller) RunContext(ctx context.Context) error {
	for {
		p.Poll()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.RetryDelay()):
		}
	}
}

// nodeValue builds the opaque tree a node-match-key path is evaluated
// against, mirroring the shape schema.DiscoveryRequest.CacheKey uses.
func nodeValue(node schema.Node) instance.Value {
	return instance.New(map[string]any{
		"id":            node.ID,
		"cluster":       node.Cluster,
		"build_version": node.BuildVersionString,
		"envoy_version": node.EnvoyVersion(),
		"metadata":      node.Metadata,
		"locality": map[string]any{
			"region":   node.Locality.Region,
			"zone":     node.Locality.Zone,
			"sub_zone": node.Locality.SubZone,
		},
	})
}

// ExtractNodeKey evaluates NodeMatchKey against node.
func (p *Poller) ExtractNodeKey(node schema.Node) (any, error) {
	if p.cfg.NodeMatchKey == "" {
		return nil, nil
	}
	v, ok := nodeValue(node).Path(p.cfg.NodeMatchKey)
	if !ok {
		return nil, fmt.Errorf("poller: node_match_key %q not found on node", p.cfg.NodeMatchKey)
	}
	return v.Raw(), nil
}

func (p *Poller) extractSourceKey(inst map[string]any) (any, bool) {
	if p.cfg.SourceMatchKey == "" {
		return nil, false
	}
	v, ok := instance.New(inst).Path(p.cfg.SourceMatchKey)
	if !ok {
		return nil, false
	}
	return v.Raw(), true
}

// MatchNode returns the instances that match nodeValue, evaluated against
// either the post-modification data (modify=true) or the raw source data.
// When matching is disabled, every instance in every scope matches.
func (p *Poller) MatchNode(nodeValue any, modify bool) ScopedInstances {
	if p.DataIsStale() {
		p.cfg.Log.WithField("last_updated", p.lastUpdatedSnapshot()).Debug("sources have not refreshed recently")
	}

	p.mu.RLock()
	var data ScopedInstances
	if modify {
		data = p.dataModified
	} else {
		data = p.data
	}
	matchingEnabled := p.cfg.MatchingEnabled
	p.mu.RUnlock()

	ret := ScopedInstances{}
	for scope, instances := range data {
		if !matchingEnabled {
			ret[scope] = instances
			continue
		}
		for _, inst := range instances {
			sourceValue, ok := p.extractSourceKey(inst)
			if !ok {
				continue
			}
			if p.matches(sourceValue, nodeValue) {
				ret[scope] = append(ret[scope], inst)
			}
		}
	}
	return ret
}

func (p *Poller) lastUpdatedSnapshot() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastUpdated
}

// matches implements the matching rule from the matching scope: a source
// instance is offered to a node if the source value contains the node
// value, they're equal, either side is the wildcard, or (in debug mode) the
// node value is empty.
func (p *Poller) matches(sourceValue, nodeValue any) bool {
	return contains(sourceValue, nodeValue) ||
		reflect.DeepEqual(sourceValue, nodeValue) ||
		isWildcard(nodeValue) ||
		isWildcard(sourceValue) ||
		isDebugRequest(nodeValue, p.cfg.DebugMatching)
}

func contains(container, item any) bool {
	switch c := container.(type) {
	case []any:
		for _, v := range c {
			if reflect.DeepEqual(v, item) {
				return true
			}
		}
		return false
	case string:
		s, ok := item.(string)
		if !ok {
			return false
		}
		return s != "" && (c == s || indexOf(c, s) >= 0)
	default:
		return false
	}
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func isWildcard(v any) bool {
	if s, ok := v.(string); ok {
		return s == "*"
	}
	if l, ok := v.([]any); ok {
		return len(l) == 1 && l[0] == "*"
	}
	return false
}

func isDebugRequest(nodeValue any, debug bool) bool {
	s, ok := nodeValue.(string)
	return ok && s == "" && debug
}

// GetFilteredInstances matches nodeValue and caches the result, so repeated
// requests from the same logical node don't re-run matching until the
// underlying source data changes.
func (p *Poller) GetFilteredInstances(nodeVal any) ScopedInstances {
	key := fmt.Sprintf("%v", nodeVal)

	p.mu.RLock()
	cached, ok := p.matchCache[key]
	p.mu.RUnlock()
	if ok {
		return cached
	}

	result := p.MatchNode(nodeVal, true)

	p.mu.Lock()
	p.matchCache[key] = result
	p.mu.Unlock()
	return result
}
