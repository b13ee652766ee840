// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Corphon/SceneForge/internal/config"
	"github.com/Corphon/SceneForge/internal/llm"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

func init() {
	llm.Register(config.ProviderOpenAI, func() llm.Provider {
		return &Provider{}
	})
}

// Provider 使用官方 SDK，支持 JSON Schema 结构化输出
type Provider struct {
	client openai.Client
	models []string
}

func (p *Provider) Initialize(cfg config.ProviderConfig, httpClient *http.Client) error {
	if !cfg.HasKey() {
		return fmt.Errorf("OpenAI %w", llm.ErrMissingAPIKey)
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	// 重试由调用方的回退策略处理
	opts = append(opts, option.WithMaxRetries(0))

	p.client = openai.NewClient(opts...)
	p.models = cfg.Models
	return nil
}

func (p *Provider) GetName() string {
	return "OpenAI"
}

func (p *Provider) GetSupportedModels() []string {
	return p.models
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" && len(p.models) > 0 {
		model = p.models[0]
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(model),
		Temperature: openai.Float(float64(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	switch {
	case req.Schema != nil:
		name := req.SchemaName
		if name == "" {
			name = "structured_response"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        name,
					Description: openai.String("Structured data response"),
					Schema:      req.Schema,
					Strict:      openai.Bool(true),
				},
			},
		}
	case req.JSONOutput:
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, llm.ErrEmptyResponse
	}

	return &llm.CompletionResponse{
		Text:         completion.Choices[0].Message.Content,
		FinishReason: string(completion.Choices[0].FinishReason),
		TokensUsed:   int(completion.Usage.TotalTokens),
		ModelName:    completion.Model,
		ProviderName: p.GetName(),
	}, nil
}
