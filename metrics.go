// Copyright 2025 Antfly, Inc.
//
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

package beamline

import "github.com/prometheus/client_golang/prometheus"

var (
	translateRequestOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "beamline",
			Name:      "translate_request_ops_total",
			Help:      "The total number of translate requests.",
		},
		[]string{"model"},
	)
	hypothesisCreationOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "beamline",
			Name:      "hypothesis_creation_ops_total",
			Help:      "The total number of hypotheses returned.",
		},
		[]string{"model"},
	)

	scoreRequestOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "beamline",
			Name:      "score_request_ops_total",
			Help:      "The total number of forced-decode score requests.",
		},
		[]string{"model"},
	)

	decoderStepOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "beamline",
			Name:      "decoder_step_ops_total",
			Help:      "The total number of beam-search decoder steps run.",
		},
		[]string{"model"},
	)

	modelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "antfly",
			Subsystem: "beamline",
			Name:      "model_load_duration_seconds",
			Help:      "Time taken to load a decoder artifact.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"model"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "antfly",
			Subsystem: "beamline",
			Name:      "request_duration_seconds",
			Help:      "Time taken to process a request.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"endpoint", "model", "status"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "beamline",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits.",
		},
		[]string{"type"}, // decode
	)

	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "beamline",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses.",
		},
		[]string{"type"}, // decode
	)

	loadedModels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "antfly",
			Subsystem: "beamline",
			Name:      "loaded_models",
			Help:      "Number of decoders currently loaded in memory.",
		},
	)
)

func init() {
	prometheus.MustRegister(translateRequestOps)
	prometheus.MustRegister(hypothesisCreationOps)
	prometheus.MustRegister(scoreRequestOps)
	prometheus.MustRegister(decoderStepOps)
	prometheus.MustRegister(modelLoadDuration)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
	prometheus.MustRegister(loadedModels)
}

// RecordModelLoadDuration records how long it took to load a decoder
func RecordModelLoadDuration(model string, seconds float64) {
	modelLoadDuration.WithLabelValues(model).Observe(seconds)
}

// RecordRequestDuration records how long a request took
func RecordRequestDuration(endpoint, model, status string, seconds float64) {
	requestDuration.WithLabelValues(endpoint, model, status).Observe(seconds)
}

// RecordTranslateRequest increments the translate request counter
func RecordTranslateRequest(model string) {
	translateRequestOps.WithLabelValues(model).Inc()
}

// RecordHypothesisCreation records the number of hypotheses returned
func RecordHypothesisCreation(model string, count int) {
	hypothesisCreationOps.WithLabelValues(model).Add(float64(count))
}

// RecordScoreRequest increments the forced-decode request counter
func RecordScoreRequest(model string) {
	scoreRequestOps.WithLabelValues(model).Inc()
}

// RecordDecoderSteps records the number of beam-search steps run
func RecordDecoderSteps(model string, count int) {
	decoderStepOps.WithLabelValues(model).Add(float64(count))
}

// RecordCacheHit increments the cache hit counter
func RecordCacheHit(cacheType string) {
	cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss increments the cache miss counter
func RecordCacheMiss(cacheType string) {
	cacheMisses.WithLabelValues(cacheType).Inc()
}

// SetLoadedModels updates the loaded decoder gauge
func SetLoadedModels(count int) {
	loadedModels.Set(float64(count))
}
