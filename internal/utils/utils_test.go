package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLineSortsFields(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	line := formatLine(WARNING, ts, "x.go:1:f", "retrying", map[string]interface{}{
		"provider": "runware",
		"attempt":  2,
	})
	assert.Equal(t, "[WARNING] 2024-05-01 12:00:00.000 x.go:1:f - retrying | attempt=2 provider=runware\n", line)
}

func TestLoggerLevelsAndFile(t *testing.T) {
	logger := GetLogger()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stdout)

	logFile := filepath.Join(t.TempDir(), "logs", "app.log")
	require.NoError(t, InitLogger(logFile))
	defer CloseLogger()

	logger.SetLogLevel(INFO)
	logger.Debug("hidden", nil)
	logger.Info("session started", map[string]interface{}{"session_id": "session_1"})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "session_id=session_1")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "session started"))
}

func TestMetricsCollectorConcurrent(t *testing.T) {
	m := NewMetricsCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.IncrementCounter("hits")
			m.RecordHistogram("latency", int64(i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(50), m.GetCounterValue("hits"))
	h := m.GetMetrics()["histograms"].(map[string]map[string]int64)["latency"]
	assert.Equal(t, int64(50), h["count"])
	assert.Equal(t, int64(0), h["min"])
	assert.Equal(t, int64(49), h["max"])

	m.SetGauge("active", 3)
	assert.Equal(t, int64(3), m.GetGauge("active"))
	assert.Equal(t, int64(0), m.GetGauge("missing"))
}

func TestPipelineMetrics(t *testing.T) {
	pm := &PipelineMetrics{metrics: NewMetricsCollector(), logger: GetLogger()}
	pm.RecordImageAttempt("together", false, 10*time.Millisecond)
	pm.RecordImageAttempt("together", true, 20*time.Millisecond)
	pm.RecordPromptSource(false)
	pm.RecordImagesSaved(2)

	c := pm.Collector()
	assert.Equal(t, int64(2), c.GetCounterValue(MetricImageAttempts))
	assert.Equal(t, int64(2), c.GetCounterValue(MetricImageAttempts+"_together"))
	assert.Equal(t, int64(1), c.GetCounterValue(MetricImageSuccess))
	assert.Equal(t, int64(1), c.GetCounterValue(MetricImageFailure))
	assert.Equal(t, int64(1), c.GetCounterValue(MetricPromptFallback))
	assert.Equal(t, int64(2), c.GetCounterValue(MetricImagesSaved))
}
