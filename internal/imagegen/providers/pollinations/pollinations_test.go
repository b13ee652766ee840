package pollinations

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Corphon/SceneForge/internal/config"
	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateImageReturnsRequestURL(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		assert.Equal(t, "flux", r.URL.Query().Get("model"))
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	defer server.Close()

	p := &Provider{}
	require.NoError(t, p.Initialize(config.ProviderConfig{BaseURL: server.URL + "/prompt/"}, server.Client()))

	url, err := p.GenerateImage(context.Background(), "a red fox", "flux")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, server.URL+"/prompt/a%20red%20fox?"))
	assert.Equal(t, "/prompt/a%20red%20fox", gotPath)
}

func TestGenerateImageRejectsNonImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	p := &Provider{}
	require.NoError(t, p.Initialize(config.ProviderConfig{BaseURL: server.URL}, server.Client()))

	_, err := p.GenerateImage(context.Background(), "x", "")
	assert.Error(t, err)
}

func TestGenerateImageStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	p := &Provider{}
	require.NoError(t, p.Initialize(config.ProviderConfig{BaseURL: server.URL}, server.Client()))

	_, err := p.GenerateImage(context.Background(), "x", "turbo")
	assert.ErrorContains(t, err, "502")
	assert.True(t, apperrors.IsUpstreamError(err))
}
