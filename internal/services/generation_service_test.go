package services

import (
	"context"
	"testing"
	"time"

	"github.com/Corphon/SceneForge/internal/imagegen"
	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testScene = models.ScenePrompt{
	SceneNumber: 2,
	SceneTitle:  "The Door",
	ImagePrompt: "a wooden door in fog",
}

func TestGenerateWithRetrySucceedsAfterFailures(t *testing.T) {
	for k := 0; k < 3; k++ {
		stub := &stubImageProvider{failures: k}
		svc, collector := newStubGenerator(stub, 3)

		preview := svc.GenerateWithRetry(context.Background(), testScene, "stub", "stub-model")
		assert.Equal(t, k+1, stub.Calls(), "k=%d", k)
		assert.NotEmpty(t, preview.PreviewURL)
		assert.Nil(t, preview.Error)
		assert.Equal(t, 2, preview.SceneNumber)
		assert.Equal(t, "The Door", preview.SceneTitle)
		assert.Equal(t, "a wooden door in fog", preview.Prompt)
		assert.Equal(t, "stub", preview.ProviderUsed)
		assert.Equal(t, "stub-model", preview.ModelUsed)
		assert.False(t, preview.Approved)
		assert.GreaterOrEqual(t, preview.GenerationTime, 0.0)
		assert.Equal(t, int64(k+1), collector.GetCounterValue(utils.MetricImageAttempts))
		assert.Equal(t, int64(1), collector.GetCounterValue(utils.MetricImageSuccess))
	}
}

func TestGenerateWithRetryAlwaysFails(t *testing.T) {
	stub := &stubImageProvider{failures: -1}
	svc, collector := newStubGenerator(stub, 4)

	preview := svc.GenerateWithRetry(context.Background(), testScene, "stub", "m")
	assert.Equal(t, 4, stub.Calls())
	assert.Equal(t, "", preview.PreviewURL)
	require.NotNil(t, preview.Error)
	assert.Equal(t, "HTTP 503: busy", *preview.Error)
	assert.Equal(t, int64(4), collector.GetCounterValue(utils.MetricImageFailure))
}

func TestGenerateWithRetryUnknownProvider(t *testing.T) {
	stub := &stubImageProvider{}
	svc, collector := newStubGenerator(stub, 3)

	preview := svc.GenerateWithRetry(context.Background(), testScene, "bogus", "m")
	assert.Equal(t, 0, stub.Calls())
	assert.Equal(t, "", preview.PreviewURL)
	require.NotNil(t, preview.Error)
	assert.Equal(t, "Unknown provider: bogus", *preview.Error)
	assert.Equal(t, "bogus", preview.ProviderUsed)
	assert.Equal(t, int64(0), collector.GetCounterValue(utils.MetricImageAttempts))
}

func TestGenerateWithRetryWaitsBetweenAttempts(t *testing.T) {
	stub := &stubImageProvider{failures: 2}
	set := imagegen.NewSetFrom(map[string]imagegen.Provider{"stub": stub})
	svc := NewGenerationService(set, 3, 20*time.Millisecond, utils.NewPipelineMetricsWith(utils.NewMetricsCollector()))

	start := time.Now()
	preview := svc.GenerateWithRetry(context.Background(), testScene, "stub", "m")
	elapsed := time.Since(start)

	assert.NotEmpty(t, preview.PreviewURL)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	assert.GreaterOrEqual(t, preview.GenerationTime, 0.04)
}

func TestGenerateWithRetryStopsOnCancel(t *testing.T) {
	stub := &stubImageProvider{failures: -1}
	set := imagegen.NewSetFrom(map[string]imagegen.Provider{"stub": stub})
	svc := NewGenerationService(set, 5, time.Hour, utils.NewPipelineMetricsWith(utils.NewMetricsCollector()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	preview := svc.GenerateWithRetry(ctx, testScene, "stub", "m")
	assert.Equal(t, 1, stub.Calls())
	require.NotNil(t, preview.Error)
	assert.Equal(t, context.Canceled.Error(), *preview.Error)
}

func TestNewGenerationServiceClampsRetries(t *testing.T) {
	stub := &stubImageProvider{failures: -1}
	svc, _ := newStubGenerator(stub, 0)
	svc.GenerateWithRetry(context.Background(), testScene, "stub", "m")
	assert.Equal(t, 1, stub.Calls())
	assert.Equal(t, []string{"stub"}, svc.Providers())
}
