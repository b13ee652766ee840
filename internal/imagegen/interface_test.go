package imagegen

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Corphon/SceneForge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	initErr error
}

func (s *stubProvider) Initialize(cfg config.ProviderConfig, client *http.Client) error {
	return s.initErr
}
func (s *stubProvider) GetName() string              { return "stub" }
func (s *stubProvider) GetSupportedModels() []string { return []string{"m"} }
func (s *stubProvider) GenerateImage(ctx context.Context, prompt, model string) (string, error) {
	return "https://img/" + prompt, nil
}

func TestNewSet(t *testing.T) {
	Register("stub-ok", func() Provider { return &stubProvider{} })
	Register("stub-bad", func() Provider { return &stubProvider{initErr: errors.New("nope")} })

	set, failures := NewSet(map[string]config.ProviderConfig{
		"stub-ok":    {},
		"stub-bad":   {},
		"not-linked": {},
	}, nil)

	_, ok := set.Get("stub-ok")
	assert.True(t, ok)
	_, ok = set.Get("stub-bad")
	assert.False(t, ok)
	assert.Equal(t, []string{"stub-ok"}, set.Names())
	assert.Contains(t, failures, "stub-bad")
	assert.Contains(t, ListProviders(), "stub-ok")
}

func TestPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if r.Header.Get("Authorization") != "Bearer k" {
			http.Error(w, "denied", http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, PostJSON(context.Background(), server.Client(), server.URL, "k", map[string]string{}, &out))
	assert.True(t, out.OK)

	err := PostJSON(context.Background(), server.Client(), server.URL, "", map[string]string{}, &out)
	assert.ErrorContains(t, err, "HTTP 403: denied")
}
