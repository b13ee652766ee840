// internal/imagegen/interface.go
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/Corphon/SceneForge/internal/config"
)

// 错误定义
var (
	ErrUnknownProvider = errors.New("unknown image provider")
	ErrMissingAPIKey   = errors.New("API key not configured")
	ErrNoImageURL      = errors.New("no image URL in response")
)

// Provider 图像生成提供者：prompt + model -> 图像 URL
type Provider interface {
	Initialize(cfg config.ProviderConfig, client *http.Client) error

	GetName() string

	GetSupportedModels() []string

	// GenerateImage 返回图像 URL；任何失败都以 error 返回，不会 panic
	GenerateImage(ctx context.Context, prompt, model string) (string, error)
}

// ProviderFactory 提供者工厂函数
type ProviderFactory func() Provider

var (
	providersMu sync.RWMutex
	providers   = make(map[string]ProviderFactory)
)

// Register 注册提供者工厂，通常在 init 中调用
func Register(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// ListProviders 返回所有已注册的提供者名称（已排序）
func ListProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set 启动时构建的提供者集合，按名称查找
type Set struct {
	providers map[string]Provider
}

// NewSet 为 cfg 中每个已注册的提供者创建实例；初始化失败的提供者被跳过并返回其错误
func NewSet(cfg map[string]config.ProviderConfig, client *http.Client) (*Set, map[string]error) {
	set := &Set{providers: make(map[string]Provider)}
	failures := make(map[string]error)

	providersMu.RLock()
	defer providersMu.RUnlock()

	for name, providerCfg := range cfg {
		factory, ok := providers[name]
		if !ok {
			continue
		}
		provider := factory()
		if err := provider.Initialize(providerCfg, client); err != nil {
			failures[name] = err
			continue
		}
		set.providers[name] = provider
	}
	return set, failures
}

// NewSetFrom 直接由实例构建集合
func NewSetFrom(providers map[string]Provider) *Set {
	set := &Set{providers: make(map[string]Provider, len(providers))}
	for name, p := range providers {
		set.providers[name] = p
	}
	return set
}

// Get 按名称查找提供者
func (s *Set) Get(name string) (Provider, bool) {
	p, ok := s.providers[name]
	return p, ok
}

// Names 返回集合中的提供者名称（已排序）
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PostJSON 发送 JSON 请求并把 200 响应解码到 out
func PostJSON(ctx context.Context, client *http.Client, url, apiKey string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
