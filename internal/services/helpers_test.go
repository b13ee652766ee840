package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Corphon/SceneForge/internal/config"
	"github.com/Corphon/SceneForge/internal/imagegen"
	"github.com/Corphon/SceneForge/internal/utils"
)

// stubImageProvider 前 failures 次调用失败，之后返回固定格式的 URL
type stubImageProvider struct {
	mu       sync.Mutex
	failures int
	calls    int
	prompts  []string
	urlBase  string
	block    chan struct{}
}

func (s *stubImageProvider) Initialize(cfg config.ProviderConfig, client *http.Client) error {
	return nil
}

func (s *stubImageProvider) GetName() string { return "stub" }

func (s *stubImageProvider) GetSupportedModels() []string { return []string{"stub-model"} }

func (s *stubImageProvider) GenerateImage(ctx context.Context, prompt, model string) (string, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if s.failures < 0 || s.calls <= s.failures {
		return "", errors.New("HTTP 503: busy")
	}
	base := s.urlBase
	if base == "" {
		base = "https://images.example.com"
	}
	return fmt.Sprintf("%s/%d.jpg", base, s.calls), nil
}

func (s *stubImageProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newStubGenerator(p imagegen.Provider, maxRetries int) (*GenerationService, *utils.MetricsCollector) {
	collector := utils.NewMetricsCollector()
	set := imagegen.NewSetFrom(map[string]imagegen.Provider{"stub": p})
	return NewGenerationService(set, maxRetries, 0, utils.NewPipelineMetricsWith(collector)), collector
}
