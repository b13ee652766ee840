// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 提供者名称
const (
	ProviderRunware      = "runware"
	ProviderTogether     = "together"
	ProviderPollinations = "pollinations"

	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderAnthropic  = "anthropic"

	// 未配置密钥时原实现使用的占位值
	placeholderKey = "your_key_here"
)

// ProviderConfig 单个外部提供者的配置
type ProviderConfig struct {
	APIKey  string   `yaml:"api_key"`
	BaseURL string   `yaml:"api_url"`
	Models  []string `yaml:"models"`
}

// HasKey 判断是否配置了可用的API密钥
func (p ProviderConfig) HasKey() bool {
	return p.APIKey != "" && p.APIKey != placeholderKey
}

// Config 存储应用配置，进程启动时读取一次
type Config struct {
	Port      string
	DataDir   string
	LogDir    string
	DebugMode bool

	// 运行时参数
	HTTPTimeout        time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
	SessionRetention   time.Duration
	RateLimitPerMinute int

	// 图像生成提供者
	Image map[string]ProviderConfig
	// 文本生成提供者（场景提示词）
	LLM map[string]ProviderConfig
}

// fileOverlay YAML 覆盖文件的结构
type fileOverlay struct {
	Image map[string]ProviderConfig `yaml:"image_providers"`
	LLM   map[string]ProviderConfig `yaml:"llm_providers"`
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8000"),
		DataDir:            getEnv("DATA_DIR", "image_generation"),
		LogDir:             getEnv("LOG_DIR", "logs"),
		DebugMode:          getEnvBool("DEBUG_MODE", false),
		HTTPTimeout:        getEnvSeconds("HTTP_TIMEOUT", 60),
		MaxRetries:         getEnvInt("MAX_RETRIES", 3),
		RetryDelay:         getEnvSeconds("RETRY_DELAY", 2),
		SessionRetention:   getEnvDuration("SESSION_RETENTION", 0),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
		Image: map[string]ProviderConfig{
			ProviderRunware: {
				APIKey:  getEnv("RUNWARE_API_KEY", placeholderKey),
				BaseURL: getEnv("RUNWARE_API_URL", "https://api.runware.ai/v1/imageInference"),
				Models:  []string{"runware:101@1", "runware:100@1", "runware:102@1"},
			},
			ProviderTogether: {
				APIKey:  getEnv("TOGETHER_API_KEY", placeholderKey),
				BaseURL: getEnv("TOGETHER_API_URL", "https://api.together.xyz/v1/images/generations"),
				Models: []string{
					"black-forest-labs/FLUX.1-schnell-Free",
					"stabilityai/stable-diffusion-xl-base-1.0",
					"runwayml/stable-diffusion-v1-5",
				},
			},
			ProviderPollinations: {
				BaseURL: getEnv("POLLINATIONS_API_URL", "https://image.pollinations.ai/prompt"),
				Models:  []string{"flux", "turbo"},
			},
		},
		LLM: map[string]ProviderConfig{
			ProviderOpenRouter: {
				APIKey:  getEnv("OPENROUTER_API_KEY", placeholderKey),
				BaseURL: getEnv("OPENROUTER_API_URL", "https://openrouter.ai/api/v1"),
				Models: []string{
					"openai/gpt-oss-20b:free",
					"meta-llama/llama-3.1-8b-instruct:free",
					"microsoft/phi-3-mini-128k-instruct:free",
				},
			},
			ProviderOpenAI: {
				APIKey:  getEnv("OPENAI_API_KEY", placeholderKey),
				BaseURL: getEnv("OPENAI_BASE_URL", ""),
				Models:  []string{"gpt-4o-mini", "gpt-4.1-mini"},
			},
			ProviderGemini: {
				APIKey: getEnv("GEMINI_API_KEY", placeholderKey),
				Models: []string{"gemini-2.0-flash", "gemini-2.5-flash"},
			},
			ProviderAnthropic: {
				APIKey:  getEnv("ANTHROPIC_API_KEY", placeholderKey),
				BaseURL: getEnv("ANTHROPIC_API_URL", "https://api.anthropic.com"),
				Models:  []string{"claude-3-5-haiku-latest", "claude-3-7-sonnet-latest"},
			},
		},
	}

	if err := cfg.applyFile(getEnv("CONFIG_FILE", "config.yaml")); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for name, p := range cfg.Image {
		if name != ProviderPollinations && !p.HasKey() {
			log.Printf("警告: 未设置 %s API密钥，该图像提供者将不可用", name)
		}
	}

	return cfg, nil
}

// applyFile 合并可选的YAML覆盖文件，文件不存在不视为错误
func (c *Config) applyFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}

	mergeProviders(c.Image, overlay.Image)
	mergeProviders(c.LLM, overlay.LLM)
	return nil
}

func mergeProviders(dst, src map[string]ProviderConfig) {
	for name, override := range src {
		current := dst[name]
		if override.APIKey != "" {
			current.APIKey = override.APIKey
		}
		if override.BaseURL != "" {
			current.BaseURL = override.BaseURL
		}
		if len(override.Models) > 0 {
			current.Models = override.Models
		}
		dst[name] = current
	}
}

// Validate 启动时校验配置
func (c *Config) Validate() error {
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT 必须为正数")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES 至少为 1，当前为 %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("RETRY_DELAY 不能为负数")
	}
	for name, p := range c.Image {
		if len(p.Models) == 0 {
			return fmt.Errorf("图像提供者 %s 未配置模型列表", name)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("图像提供者 %s 未配置API地址", name)
		}
	}
	for name, p := range c.LLM {
		if len(p.Models) == 0 {
			return fmt.Errorf("文本提供者 %s 未配置模型列表", name)
		}
	}
	return nil
}

// Available 返回各提供者是否具备可用凭据
func (c *Config) Available() map[string]bool {
	result := make(map[string]bool, len(c.Image)+len(c.LLM))
	for name, p := range c.Image {
		result[name] = name == ProviderPollinations || p.HasKey()
	}
	for name, p := range c.LLM {
		result[name] = p.HasKey()
	}
	return result
}

// ModelLists 返回 /models 接口使用的模型清单
func (c *Config) ModelLists() (map[string][]string, map[string][]string) {
	ai := make(map[string][]string, len(c.LLM))
	for name, p := range c.LLM {
		ai[name] = append([]string(nil), p.Models...)
	}
	images := make(map[string][]string, len(c.Image))
	for name, p := range c.Image {
		images[name] = append([]string(nil), p.Models...)
	}
	return ai, images
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("警告: 环境变量 %s=%q 不是整数，使用默认值 %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// getEnvSeconds 读取以秒为单位的整数，兼容原有 HTTP_TIMEOUT/RETRY_DELAY 写法
func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return time.Duration(defaultSeconds) * time.Second
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	log.Printf("警告: 环境变量 %s=%q 无法解析，使用默认值 %ds", key, value, defaultSeconds)
	return time.Duration(defaultSeconds) * time.Second
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("警告: 环境变量 %s=%q 不是有效时长，使用默认值 %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
