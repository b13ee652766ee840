// internal/imagegen/providers/runware/runware.go
package runware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Corphon/SceneForge/internal/config"
	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/imagegen"
	"github.com/Corphon/SceneForge/internal/utils"
	"github.com/google/uuid"
)

func init() {
	imagegen.Register(config.ProviderRunware, func() imagegen.Provider {
		return &Provider{}
	})
}

// Provider Runware imageInference 接口
type Provider struct {
	apiKey string
	url    string
	models []string
	client *http.Client
}

type inferenceTask struct {
	TaskType       string  `json:"taskType"`
	TaskUUID       string  `json:"taskUUID"`
	OutputType     string  `json:"outputType"`
	OutputFormat   string  `json:"outputFormat"`
	PositivePrompt string  `json:"positivePrompt"`
	Height         int     `json:"height"`
	Width          int     `json:"width"`
	Model          string  `json:"model"`
	Steps          int     `json:"steps"`
	CFGScale       float64 `json:"CFGScale"`
	NumberResults  int     `json:"numberResults"`
}

type inferenceResult struct {
	ImageURL string `json:"imageURL"`
}

func (p *Provider) Initialize(cfg config.ProviderConfig, client *http.Client) error {
	p.apiKey = cfg.APIKey
	if !cfg.HasKey() {
		p.apiKey = ""
	}
	p.url = cfg.BaseURL
	p.models = cfg.Models
	p.client = client
	if p.client == nil {
		p.client = http.DefaultClient
	}
	return nil
}

func (p *Provider) GetName() string {
	return config.ProviderRunware
}

func (p *Provider) GetSupportedModels() []string {
	return p.models
}

func (p *Provider) GenerateImage(ctx context.Context, prompt, model string) (string, error) {
	url, err := p.generate(ctx, prompt, model)
	if err != nil {
		utils.GetLogger().Warn("Runware image request failed", map[string]interface{}{
			"model": model,
			"error": err.Error(),
		})
	}
	return url, err
}

func (p *Provider) generate(ctx context.Context, prompt, model string) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("runware: %w", imagegen.ErrMissingAPIKey)
	}

	task := inferenceTask{
		TaskType:       "imageInference",
		TaskUUID:       uuid.NewString(),
		OutputType:     "URL",
		OutputFormat:   "JPG",
		PositivePrompt: prompt,
		Height:         1024,
		Width:          1024,
		Model:          model,
		Steps:          25,
		CFGScale:       7.5,
		NumberResults:  1,
	}

	var raw json.RawMessage
	if err := imagegen.PostJSON(ctx, p.client, p.url, p.apiKey, []inferenceTask{task}, &raw); err != nil {
		return "", apperrors.NewUpstreamError(config.ProviderRunware, err)
	}

	url := extractURL(raw)
	if url == "" {
		return "", fmt.Errorf("runware: %w", imagegen.ErrNoImageURL)
	}
	return url, nil
}

// extractURL 兼容两种响应：顶层数组，或 {"data": [...]}
func extractURL(raw json.RawMessage) string {
	var list []inferenceResult
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) > 0 {
			return list[0].ImageURL
		}
		return ""
	}

	var wrapped struct {
		Data []inferenceResult `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Data) > 0 {
		return wrapped.Data[0].ImageURL
	}
	return ""
}
