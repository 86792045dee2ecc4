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

// Package metrics provides Prometheus metrics for the control plane.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sovereignproject/sovereign/internal/build"
)

// Metrics holds the process-wide set of Prometheus collectors. One Metrics
// is constructed at startup and threaded explicitly into every component
// that emits a metric (the poller, the context scheduler, the render
// pipeline, the render queue, the read-side handler) rather than referenced
// through a package-level singleton.
type Metrics struct {
	buildInfoGauge *prometheus.GaugeVec

	SourcesPollDuration  prometheus.Histogram
	SourcesPollTotal     *prometheus.CounterVec
	SourcesRetryCount    prometheus.Gauge
	SourcesLastUpdated   prometheus.Gauge
	SourcesUnchangedTotal prometheus.Counter
	SourcesChangedTotal   prometheus.Counter

	ContextTaskDuration *prometheus.HistogramVec
	ContextTaskState    *prometheus.GaugeVec
	ContextChangedTotal prometheus.Counter

	RenderDuration *prometheus.HistogramVec
	RenderTotal    *prometheus.CounterVec

	CacheReadDuration prometheus.Histogram
	CacheResultTotal  *prometheus.CounterVec

	QueueDepth      prometheus.Gauge
	QueueDedupTotal prometheus.Counter
	QueueFullTotal  prometheus.Counter

	ClientRegistrationsTotal *prometheus.CounterVec
}

const (
	// BuildInfoGauge is the metric name for build information.
	BuildInfoGauge = "sovereign_build_info"
)

// NewMetrics creates a new set of metrics and registers them with the
// supplied registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := Metrics{
		buildInfoGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: BuildInfoGauge,
				Help: "Build information. Labels include the branch and git SHA the binary was built from, and the version.",
			},
			[]string{"branch", "revision", "version"},
		),
		SourcesPollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sovereign_sources_poll_duration_seconds",
			Help:    "Time taken to poll and diff all configured sources.",
			Buckets: prometheus.DefBuckets,
		}),
		SourcesPollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sovereign_sources_poll_total",
			Help: "Total number of source poll attempts by result.",
		}, []string{"result"}),
		SourcesRetryCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sovereign_sources_retry_count",
			Help: "Current consecutive source poll failure count.",
		}),
		SourcesLastUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sovereign_sources_last_updated_timestamp",
			Help: "Unix timestamp of the last successful source poll.",
		}),
		SourcesUnchangedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sovereign_sources_unchanged_total",
			Help: "Total number of polls where source data was unchanged.",
		}),
		SourcesChangedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sovereign_sources_changed_total",
			Help: "Total number of polls where source data changed.",
		}),
		ContextTaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sovereign_context_task_duration_seconds",
			Help:    "Time taken to refresh a named template context task.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task"}),
		ContextTaskState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sovereign_context_task_state",
			Help: "Current state of a context task: 0=pending, 1=ready, 2=failed.",
		}, []string{"task"}),
		ContextChangedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sovereign_context_changed_total",
			Help: "Total number of debounced NEW_CONTEXT publishes.",
		}),
		RenderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sovereign_render_duration_seconds",
			Help:    "Time taken to render a discovery response, by resource type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"resource_type", "api_version"}),
		RenderTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sovereign_render_total",
			Help: "Total number of renders by result.",
		}, []string{"result", "error"}),
		CacheReadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sovereign_cache_read_duration_seconds",
			Help:    "Time taken for a blocking cache read to resolve.",
			Buckets: prometheus.DefBuckets,
		}),
		CacheResultTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sovereign_cache_result_total",
			Help: "Total cache read/write operations by backend and result.",
		}, []string{"backend", "op", "result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sovereign_render_queue_depth",
			Help: "Current number of distinct client ids pending render.",
		}),
		QueueDedupTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sovereign_render_queue_dedup_total",
			Help: "Total number of enqueue calls that were absorbed by an in-flight id.",
		}),
		QueueFullTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sovereign_render_queue_full_total",
			Help: "Total number of enqueue calls rejected because the queue was full.",
		}),
		ClientRegistrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sovereign_client_registrations_total",
			Help: "Total number of client registration requests by result.",
		}, []string{"result"}),
	}
	m.buildInfoGauge.WithLabelValues(build.Branch, build.Sha, build.Version).Set(1)
	m.register(registry)
	return &m
}

func (m *Metrics) register(registry *prometheus.Registry) {
	registry.MustRegister(
		m.buildInfoGauge,
		m.SourcesPollDuration,
		m.SourcesPollTotal,
		m.SourcesRetryCount,
		m.SourcesLastUpdated,
		m.SourcesUnchangedTotal,
		m.SourcesChangedTotal,
		m.ContextTaskDuration,
		m.ContextTaskState,
		m.ContextChangedTotal,
		m.RenderDuration,
		m.RenderTotal,
		m.CacheReadDuration,
		m.CacheResultTotal,
		m.QueueDepth,
		m.QueueDedupTotal,
		m.QueueFullTotal,
		m.ClientRegistrationsTotal,
	)
}

// Zero sets zero values for metrics whose label sets wouldn't otherwise be
// emitted until first use, so that scraping always exposes every series.
func (m *Metrics) Zero() {
	m.SourcesLastUpdated.Set(float64(time.Now().Unix()))
	m.SourcesPollTotal.WithLabelValues("ok")
	m.SourcesPollTotal.WithLabelValues("error")
	m.RenderTotal.WithLabelValues("ok", "")
	m.CacheResultTotal.WithLabelValues("local", "get", "hit")
	m.CacheResultTotal.WithLabelValues("local", "get", "miss")
	m.CacheResultTotal.WithLabelValues("remote", "get", "hit")
	m.CacheResultTotal.WithLabelValues("remote", "get", "miss")
}
