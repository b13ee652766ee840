// internal/imagegen/providers/together/together.go
package together

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Corphon/SceneForge/internal/config"
	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/imagegen"
	"github.com/Corphon/SceneForge/internal/utils"
)

func init() {
	imagegen.Register(config.ProviderTogether, func() imagegen.Provider {
		return &Provider{}
	})
}

// Provider Together AI images/generations 接口
type Provider struct {
	apiKey string
	url    string
	models []string
	client *http.Client
}

type generationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Steps          int    `json:"steps"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

type generationResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
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
	return config.ProviderTogether
}

func (p *Provider) GetSupportedModels() []string {
	return p.models
}

// stepsFor schnell 模型只需要 4 步
func stepsFor(model string) int {
	if strings.Contains(strings.ToLower(model), "schnell") {
		return 4
	}
	return 20
}

func (p *Provider) GenerateImage(ctx context.Context, prompt, model string) (string, error) {
	if p.apiKey == "" {
		err := fmt.Errorf("together: %w", imagegen.ErrMissingAPIKey)
		utils.GetLogger().Warn("Together image request skipped", map[string]interface{}{"error": err.Error()})
		return "", err
	}

	req := generationRequest{
		Model:          model,
		Prompt:         prompt,
		Width:          1024,
		Height:         1024,
		Steps:          stepsFor(model),
		N:              1,
		ResponseFormat: "url",
	}

	var resp generationResponse
	if err := imagegen.PostJSON(ctx, p.client, p.url, p.apiKey, req, &resp); err != nil {
		utils.GetLogger().Warn("Together image request failed", map[string]interface{}{
			"model": model,
			"error": err.Error(),
		})
		return "", apperrors.NewUpstreamError(config.ProviderTogether, err)
	}

	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		utils.GetLogger().Warn("Together response carried no image", map[string]interface{}{"model": model})
		return "", fmt.Errorf("together: %w", imagegen.ErrNoImageURL)
	}
	return resp.Data[0].URL, nil
}
