package gemini

import (
	"testing"

	"github.com/Corphon/SceneForge/internal/config"
	"github.com/Corphon/SceneForge/internal/llm"
	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestInitializeRequiresKey(t *testing.T) {
	_, err := llm.GetProvider(config.ProviderGemini, config.ProviderConfig{APIKey: ""}, nil)
	assert.ErrorIs(t, err, llm.ErrMissingAPIKey)
}

func TestResponseText(t *testing.T) {
	_, _, err := responseText(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)

	text, finish, err := responseText(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: `{"scenes":`},
				{Text: `[]}`},
			}},
			FinishReason: genai.FinishReasonStop,
		}},
	})
	assert.NoError(t, err)
	assert.Equal(t, `{"scenes":[]}`, text)
	assert.Equal(t, "STOP", finish)
}
