// internal/services/generation_service.go
package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Corphon/SceneForge/internal/imagegen"
	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/utils"
)

// GenerationService 带重试的单场景出图
type GenerationService struct {
	providers  *imagegen.Set
	maxRetries int
	retryDelay time.Duration
	metrics    *utils.PipelineMetrics
	now        func() time.Time
}

// NewGenerationService 创建重试编排器；maxRetries 小于 1 时按 1 处理
func NewGenerationService(providers *imagegen.Set, maxRetries int, retryDelay time.Duration, metrics *utils.PipelineMetrics) *GenerationService {
	if providers == nil {
		providers = imagegen.NewSetFrom(nil)
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	if metrics == nil {
		metrics = utils.NewPipelineMetrics()
	}
	return &GenerationService{
		providers:  providers,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Providers 可用的图像提供者名称
func (s *GenerationService) Providers() []string {
	return s.providers.Names()
}

// GenerateWithRetry 总是返回一条结果记录；成功立即返回，失败时 PreviewURL 为空并带上最后一次错误
func (s *GenerationService) GenerateWithRetry(ctx context.Context, scene models.ScenePrompt, providerKey, model string) models.PreviewImage {
	start := s.now()
	logger := utils.GetLogger()

	preview := models.PreviewImage{
		SceneNumber:  scene.SceneNumber,
		SceneTitle:   scene.SceneTitle,
		Prompt:       scene.ImagePrompt,
		ProviderUsed: providerKey,
		ModelUsed:    model,
	}

	provider, ok := s.providers.Get(providerKey)
	if !ok {
		return s.failed(preview, start, fmt.Sprintf("Unknown provider: %s", providerKey))
	}

	lastError := "image generation failed"
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		attemptStart := s.now()
		url, err := provider.GenerateImage(ctx, scene.ImagePrompt, model)
		s.metrics.RecordImageAttempt(providerKey, err == nil && url != "", s.now().Sub(attemptStart))

		if err == nil && url != "" {
			preview.PreviewURL = url
			preview.GenerationTime = elapsedSeconds(s.now().Sub(start))
			return preview
		}
		if err != nil {
			lastError = err.Error()
		}

		logger.Warn("出图尝试失败", map[string]interface{}{
			"scene":    scene.SceneNumber,
			"provider": providerKey,
			"model":    model,
			"attempt":  attempt,
			"error":    lastError,
		})

		if attempt < s.maxRetries {
			if err := sleepContext(ctx, s.retryDelay); err != nil {
				lastError = err.Error()
				break
			}
		}
	}

	return s.failed(preview, start, lastError)
}

func (s *GenerationService) failed(preview models.PreviewImage, start time.Time, msg string) models.PreviewImage {
	preview.PreviewURL = ""
	preview.GenerationTime = elapsedSeconds(s.now().Sub(start))
	preview.Error = &msg
	return preview
}

func elapsedSeconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return math.Round(d.Seconds()*1000) / 1000
}

// sleepContext 等待 d，ctx 结束时提前返回其错误
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
