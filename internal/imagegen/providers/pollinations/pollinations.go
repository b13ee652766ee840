// internal/imagegen/providers/pollinations/pollinations.go
package pollinations

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Corphon/SceneForge/internal/config"
	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/imagegen"
	"github.com/Corphon/SceneForge/internal/utils"
)

func init() {
	imagegen.Register(config.ProviderPollinations, func() imagegen.Provider {
		return &Provider{}
	})
}

// Provider 免密钥的 Pollinations 图像接口：图像 URL 即请求地址
type Provider struct {
	baseURL string
	models  []string
	client  *http.Client
}

func (p *Provider) Initialize(cfg config.ProviderConfig, client *http.Client) error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("pollinations: base URL not configured")
	}
	p.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	p.models = cfg.Models
	p.client = client
	if p.client == nil {
		p.client = http.DefaultClient
	}
	return nil
}

func (p *Provider) GetName() string {
	return config.ProviderPollinations
}

func (p *Provider) GetSupportedModels() []string {
	return p.models
}

// BuildURL 构造图像地址
func (p *Provider) BuildURL(prompt, model string) string {
	q := url.Values{}
	q.Set("width", "1024")
	q.Set("height", "1024")
	q.Set("nologo", "true")
	if model != "" {
		q.Set("model", model)
	}
	return p.baseURL + "/" + url.PathEscape(prompt) + "?" + q.Encode()
}

// GenerateImage 请求一次以触发渲染并确认返回的是图像
func (p *Provider) GenerateImage(ctx context.Context, prompt, model string) (string, error) {
	imageURL := p.BuildURL(prompt, model)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		utils.GetLogger().Warn("Pollinations image request failed", map[string]interface{}{
			"model": model,
			"error": err.Error(),
		})
		return "", apperrors.NewUpstreamError(config.ProviderPollinations, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 16<<20))

	if resp.StatusCode != http.StatusOK {
		utils.GetLogger().Warn("Pollinations returned non-200", map[string]interface{}{
			"model":  model,
			"status": resp.StatusCode,
		})
		return "", apperrors.NewUpstreamError(config.ProviderPollinations, fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return "", fmt.Errorf("pollinations: unexpected content type %q: %w", ct, imagegen.ErrNoImageURL)
	}
	return imageURL, nil
}
