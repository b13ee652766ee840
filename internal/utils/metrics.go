// internal/utils/metrics.go
package utils

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metric names
const (
	MetricImageAttempts     = "image_attempts_total"
	MetricImageSuccess      = "image_success_total"
	MetricImageFailure      = "image_failure_total"
	MetricPromptLLM         = "prompt_llm_total"
	MetricPromptFallback    = "prompt_fallback_total"
	MetricImagesSaved       = "images_saved_total"
	MetricSessionsStarted   = "sessions_started_total"
	MetricSessionsFailed    = "sessions_failed_total"
	MetricActiveSessions    = "active_sessions"
	MetricImageGenerationMs = "image_generation_ms"
	MetricAPIRequests       = "api_requests_total"
	MetricAPIResponseMs     = "api_response_time_ms"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// slot returns the value cell for name, creating it under the write lock on first use
func (m *MetricsCollector) slot(set map[string]*int64, name string) *int64 {
	m.mu.RLock()
	v, exists := set[name]
	m.mu.RUnlock()
	if exists {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, exists = set[name]; !exists {
		v = new(int64)
		set[name] = v
	}
	return v
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	v, exists := m.counters[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(v)
}

// SetGauge sets a gauge metric
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.slot(m.gauges, name), value)
}

// GetGauge gets the current value of a gauge
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	v, exists := m.gauges[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(v)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		histogram, exists = m.histograms[name]
		if !exists {
			histogram = &Histogram{min: value, max: value}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value
	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = atomic.LoadInt64(v)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		gauges[name] = atomic.LoadInt64(v)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// PipelineMetrics records generation pipeline events
type PipelineMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewPipelineMetrics creates a recorder over the global collector
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		metrics: GetMetricsCollector(),
		logger:  GetLogger(),
	}
}

// NewPipelineMetricsWith creates a recorder over a dedicated collector
func NewPipelineMetricsWith(collector *MetricsCollector) *PipelineMetrics {
	return &PipelineMetrics{
		metrics: collector,
		logger:  GetLogger(),
	}
}

// Collector exposes the underlying collector
func (pm *PipelineMetrics) Collector() *MetricsCollector {
	return pm.metrics
}

// RecordImageAttempt records one provider call
func (pm *PipelineMetrics) RecordImageAttempt(provider string, ok bool, duration time.Duration) {
	pm.metrics.IncrementCounter(MetricImageAttempts)
	pm.metrics.IncrementCounter(MetricImageAttempts + "_" + provider)
	if ok {
		pm.metrics.IncrementCounter(MetricImageSuccess)
	} else {
		pm.metrics.IncrementCounter(MetricImageFailure)
	}
	pm.metrics.RecordHistogram(MetricImageGenerationMs, duration.Milliseconds())
}

// RecordPromptSource records whether prompts came from an LLM or the fallback
func (pm *PipelineMetrics) RecordPromptSource(usedLLM bool) {
	if usedLLM {
		pm.metrics.IncrementCounter(MetricPromptLLM)
	} else {
		pm.metrics.IncrementCounter(MetricPromptFallback)
	}
}

// RecordImagesSaved records persisted images after approval
func (pm *PipelineMetrics) RecordImagesSaved(count int) {
	pm.metrics.AddCounter(MetricImagesSaved, int64(count))
}

// RecordSessionStarted records a new generation session
func (pm *PipelineMetrics) RecordSessionStarted() {
	pm.metrics.IncrementCounter(MetricSessionsStarted)
}

// RecordSessionFailed records a session entering the failed state
func (pm *PipelineMetrics) RecordSessionFailed() {
	pm.metrics.IncrementCounter(MetricSessionsFailed)
}

// SetActiveSessions sets the active sessions gauge
func (pm *PipelineMetrics) SetActiveSessions(n int) {
	pm.metrics.SetGauge(MetricActiveSessions, int64(n))
}

// RecordAPIRequest records metrics for an API request
func (pm *PipelineMetrics) RecordAPIRequest(route, method string, statusCode int, duration time.Duration) {
	pm.metrics.IncrementCounter(MetricAPIRequests)
	pm.metrics.RecordHistogram(MetricAPIResponseMs, duration.Milliseconds())

	pm.logger.Debug("API request completed", map[string]interface{}{
		"route":    route,
		"method":   method,
		"status":   statusCode,
		"duration": duration.Milliseconds(),
	})
}

// LogSnapshot logs the current counters and gauges
func (pm *PipelineMetrics) LogSnapshot() {
	snapshot := pm.metrics.GetMetrics()
	pm.logger.Info("Periodic metrics report", map[string]interface{}{
		"counters": snapshot["counters"],
		"gauges":   snapshot["gauges"],
	})
}
