// internal/services/prompt_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Corphon/SceneForge/internal/config"
	"github.com/Corphon/SceneForge/internal/llm"
	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/utils"
)

// FallbackProvider 请求中显式选择确定性生成
const FallbackProvider = "fallback"

const (
	maxTitleRunes    = 50
	maxExcerptRunes  = 100
	promptExcerptLen = 80

	llmTemperature = 0.7
	llmMaxTokens   = 3000

	qualitySuffix = "High quality, detailed, professional rendering with excellent composition and lighting."
)

var styleDescriptions = map[string]string{
	"cinematic": "cinematic style with dramatic lighting and professional composition, movie-like quality",
	"cartoon":   "vibrant cartoon style with bold colors and expressive characters, animated look",
	"realistic": "photorealistic style with natural lighting and detailed textures, real-world appearance",
	"artistic":  "artistic illustration style with creative interpretation, painterly quality",
}

var stylePrefixes = map[string]string{
	"cinematic": "Cinematic shot with dramatic lighting and professional composition showing",
	"cartoon":   "Vibrant cartoon style scene with bold colors showing",
	"realistic": "Photorealistic scene with natural lighting showing",
	"artistic":  "Artistic illustration with creative interpretation showing",
}

var sceneBatchSchema = llm.GenerateSchema[models.SceneBatch]()

// StyleDescription 未知风格回落到 "cinematic style"
func StyleDescription(style string) string {
	if d, ok := styleDescriptions[style]; ok {
		return d
	}
	return "cinematic style"
}

// MediaTypes 支持的风格键（已排序）
func MediaTypes() []string {
	keys := make([]string, 0, len(styleDescriptions))
	for k := range styleDescriptions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PromptService 场景提示词生成：LLM 优先，任何失败回落到确定性切分
type PromptService struct {
	providers map[string]llm.Provider
	metrics   *utils.PipelineMetrics
}

// NewPromptService 使用已初始化的提供者创建服务
func NewPromptService(providers map[string]llm.Provider, metrics *utils.PipelineMetrics) *PromptService {
	if providers == nil {
		providers = map[string]llm.Provider{}
	}
	if metrics == nil {
		metrics = utils.NewPipelineMetrics()
	}
	return &PromptService{providers: providers, metrics: metrics}
}

// NewPromptServiceFromConfig 初始化配置中所有具备密钥的文本提供者
func NewPromptServiceFromConfig(cfg *config.Config, client *http.Client, metrics *utils.PipelineMetrics) *PromptService {
	logger := utils.GetLogger()
	providers := make(map[string]llm.Provider)
	for name, providerCfg := range cfg.LLM {
		if !providerCfg.HasKey() {
			continue
		}
		p, err := llm.GetProvider(name, providerCfg, client)
		if err != nil {
			logger.Warn("文本提供者初始化失败", map[string]interface{}{"provider": name, "error": err.Error()})
			continue
		}
		providers[name] = p
	}
	return NewPromptService(providers, metrics)
}

// Providers 已可用的文本提供者名称
func (s *PromptService) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildPrompts 返回恰好 numScenes 个提示词，编号 1..numScenes
func (s *PromptService) BuildPrompts(ctx context.Context, script string, numScenes int, style, providerName, model string) []models.ScenePrompt {
	logger := utils.GetLogger()

	provider, ok := s.providers[providerName]
	if providerName == FallbackProvider || !ok {
		if providerName != FallbackProvider {
			logger.Info("文本提供者不可用，使用确定性生成", map[string]interface{}{"provider": providerName})
		}
		s.metrics.RecordPromptSource(false)
		return FallbackPrompts(script, numScenes, style)
	}

	scenes, err := s.generateWithLLM(ctx, provider, script, numScenes, style, model)
	if err != nil {
		logger.Warn("LLM 场景生成失败，回落到确定性生成", map[string]interface{}{
			"provider": providerName,
			"model":    model,
			"error":    err.Error(),
		})
		s.metrics.RecordPromptSource(false)
		return FallbackPrompts(script, numScenes, style)
	}

	s.metrics.RecordPromptSource(true)
	return scenes
}

func (s *PromptService) generateWithLLM(ctx context.Context, provider llm.Provider, script string, numScenes int, style, model string) ([]models.ScenePrompt, error) {
	resp, err := provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt:      BuildLLMPrompt(script, numScenes, style),
		Model:       model,
		Temperature: llmTemperature,
		MaxTokens:   llmMaxTokens,
		JSONOutput:  true,
		Schema:      sceneBatchSchema,
		SchemaName:  "scene_batch",
	})
	if err != nil {
		return nil, err
	}
	return ParseSceneBatch(resp.Text, numScenes)
}

// BuildLLMPrompt 构造发给文本模型的请求
func BuildLLMPrompt(script string, numScenes int, style string) string {
	desc := StyleDescription(style)
	var b strings.Builder
	fmt.Fprintf(&b, "Create %d detailed visual scene descriptions from this script.\n", numScenes)
	fmt.Fprintf(&b, "Style: %s\n\n", desc)
	fmt.Fprintf(&b, "Script: %s\n\n", script)
	b.WriteString("Split the story into exactly that many sequential narrative beats. For each beat write a prompt for an AI image model ")
	b.WriteString("with vivid sensory detail, mood, lighting, camera angle and composition. Keep characters consistent across scenes: ")
	b.WriteString("the same age, build, hair, face, clothing and props every time they appear. Let settings and lighting evolve with the plot ")
	b.WriteString("while keeping one overarching visual style, so the images read as consecutive frames of one film.\n\n")
	b.WriteString("Return valid JSON in this exact format:\n")
	b.WriteString("{\n  \"scenes\": [\n    {\n")
	b.WriteString("      \"scene_number\": 1,\n")
	b.WriteString("      \"scene_title\": \"Brief scene title (max 50 characters)\",\n")
	b.WriteString("      \"script_excerpt\": \"relevant script text (max 100 characters)\",\n")
	fmt.Fprintf(&b, "      \"image_prompt\": \"detailed visual description for image generation in %s\"\n", desc)
	b.WriteString("    }\n  ]\n}")
	return b.String()
}

// CleanJSONResponse 去掉代码块标记和 JSON 前后的多余文字
func CleanJSONResponse(text string) string {
	text = strings.TrimSpace(text)

	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}

	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return text
}

// ParseSceneBatch 解析并校验 LLM 返回的场景批次
func ParseSceneBatch(text string, numScenes int) ([]models.ScenePrompt, error) {
	var batch models.SceneBatch
	if err := json.Unmarshal([]byte(CleanJSONResponse(text)), &batch); err != nil {
		return nil, fmt.Errorf("解析场景JSON失败: %w", err)
	}
	if len(batch.Scenes) != numScenes {
		return nil, fmt.Errorf("场景数量不匹配: 期望 %d, 实际 %d", numScenes, len(batch.Scenes))
	}

	scenes := make([]models.ScenePrompt, numScenes)
	for i, scene := range batch.Scenes {
		if strings.TrimSpace(scene.ImagePrompt) == "" {
			return nil, fmt.Errorf("场景 %d 缺少 image_prompt", i+1)
		}
		title := strings.TrimSpace(scene.SceneTitle)
		if title == "" {
			title = fmt.Sprintf("Scene %d", i+1)
		}
		scenes[i] = models.ScenePrompt{
			SceneNumber:   i + 1,
			SceneTitle:    truncateRunes(title, maxTitleRunes),
			ScriptExcerpt: clipExcerpt(strings.TrimSpace(scene.ScriptExcerpt)),
			ImagePrompt:   strings.TrimSpace(scene.ImagePrompt),
		}
	}
	return scenes, nil
}

// FallbackPrompts 按词数均分脚本，最后一段吸收余数；脚本为空时摘录为空串
func FallbackPrompts(script string, numScenes int, style string) []models.ScenePrompt {
	if numScenes < 1 {
		return []models.ScenePrompt{}
	}

	prefix, ok := stylePrefixes[style]
	if !ok {
		prefix = "Scene showing"
	}

	words := strings.Fields(script)
	perScene := len(words) / numScenes
	if perScene < 1 {
		perScene = 1
	}

	scenes := make([]models.ScenePrompt, numScenes)
	for i := 0; i < numScenes; i++ {
		start := i * perScene
		end := start + perScene
		if i == numScenes-1 {
			end = len(words)
		}
		if start > len(words) {
			start = len(words)
		}
		if end > len(words) {
			end = len(words)
		}
		if end < start {
			end = start
		}

		excerpt := clipExcerpt(strings.Join(words[start:end], " "))
		scenes[i] = models.ScenePrompt{
			SceneNumber:   i + 1,
			SceneTitle:    fmt.Sprintf("Scene %d", i+1),
			ScriptExcerpt: excerpt,
			ImagePrompt:   fmt.Sprintf("%s %s. %s", prefix, truncateRunes(excerpt, promptExcerptLen), qualitySuffix),
		}
	}
	return scenes
}

// clipExcerpt 超过 100 字符时保留 97 字符并追加 "..."
func clipExcerpt(s string) string {
	if utf8.RuneCountInString(s) <= maxExcerptRunes {
		return s
	}
	return truncateRunes(s, maxExcerptRunes-3) + "..."
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
