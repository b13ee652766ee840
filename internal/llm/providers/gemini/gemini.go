// internal/llm/providers/gemini/gemini.go
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Corphon/SceneForge/internal/config"
	"github.com/Corphon/SceneForge/internal/llm"
	"google.golang.org/genai"
)

func init() {
	llm.Register(config.ProviderGemini, func() llm.Provider {
		return &Provider{}
	})
}

// Provider Google Gemini
type Provider struct {
	client *genai.Client
	models []string
}

func (p *Provider) Initialize(cfg config.ProviderConfig, httpClient *http.Client) error {
	if !cfg.HasKey() {
		return fmt.Errorf("Gemini %w", llm.ErrMissingAPIKey)
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return fmt.Errorf("failed to create genai client: %w", err)
	}
	p.client = client
	p.models = cfg.Models
	return nil
}

func (p *Provider) GetName() string {
	return "Gemini"
}

func (p *Provider) GetSupportedModels() []string {
	return p.models
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" && len(p.models) > 0 {
		model = p.models[0]
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.JSONOutput || req.Schema != nil {
		genConfig.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), genConfig)
	if err != nil {
		return nil, fmt.Errorf("generate content error: %w", err)
	}

	text, finish, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return &llm.CompletionResponse{
		Text:         text,
		FinishReason: finish,
		TokensUsed:   tokens,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", "", llm.ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", "", llm.ErrEmptyResponse
	}
	return sb.String(), string(resp.Candidates[0].FinishReason), nil
}
