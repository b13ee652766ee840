package together

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Corphon/SceneForge/internal/config"
	"github.com/Corphon/SceneForge/internal/imagegen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateImage(t *testing.T) {
	var got generationRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"data":[{"url":"https://api.together.ai/img/1.png"}]}`))
	}))
	defer server.Close()

	p := &Provider{}
	require.NoError(t, p.Initialize(config.ProviderConfig{APIKey: "tg", BaseURL: server.URL}, server.Client()))

	url, err := p.GenerateImage(context.Background(), "a forest", "black-forest-labs/FLUX.1-schnell-Free")
	require.NoError(t, err)
	assert.Equal(t, "https://api.together.ai/img/1.png", url)
	assert.Equal(t, 4, got.Steps)
	assert.Equal(t, "url", got.ResponseFormat)
	assert.Equal(t, 1, got.N)
}

func TestStepsFor(t *testing.T) {
	assert.Equal(t, 4, stepsFor("FLUX.1-SCHNELL"))
	assert.Equal(t, 20, stepsFor("stabilityai/stable-diffusion-xl-base-1.0"))
}

func TestGenerateImageNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	p := &Provider{}
	require.NoError(t, p.Initialize(config.ProviderConfig{APIKey: "tg", BaseURL: server.URL}, server.Client()))

	_, err := p.GenerateImage(context.Background(), "p", "m")
	assert.ErrorIs(t, err, imagegen.ErrNoImageURL)
}
