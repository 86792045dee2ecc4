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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.Zero()

	families, err := registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, want := range []string{
		BuildInfoGauge,
		"sovereign_sources_poll_total",
		"sovereign_render_total",
		"sovereign_cache_result_total",
		"sovereign_render_queue_depth",
	} {
		assert.True(t, names[want], "expected metric %s to be registered", want)
	}
}

func TestRenderTotalLabelled(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RenderTotal.WithLabelValues("ok", "").Inc()
	m.RenderTotal.WithLabelValues("err", "RenderError").Inc()

	metric := &dto.Metric{}
	require.NoError(t, m.RenderTotal.WithLabelValues("ok", "").Write(metric))
	assert.Equal(t, float64(1), metric.GetCounter().GetValue())
}
