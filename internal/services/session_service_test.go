package services

import (
	"context"
	"strings"
	"testing"
	"time"

	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/imagegen"
	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionEnv struct {
	svc      *SessionService
	projects *ProjectService
	stub     *stubImageProvider
	metrics  *utils.MetricsCollector
}

func newSessionEnv(t *testing.T, stub *stubImageProvider) *sessionEnv {
	t.Helper()
	return newSessionEnvWith(t, stub, nil)
}

// newSessionEnvWith 在 "stub" 之外登记额外的图像提供者
func newSessionEnvWith(t *testing.T, stub *stubImageProvider, extra map[string]imagegen.Provider) *sessionEnv {
	t.Helper()
	projects, files, index := newTestProjects(t)
	collector := utils.NewMetricsCollector()
	metrics := utils.NewPipelineMetricsWith(collector)

	srv := newImageServer(t)
	if stub.urlBase == "" {
		stub.urlBase = srv.URL
	}

	providers := map[string]imagegen.Provider{"stub": stub}
	for name, p := range extra {
		providers[name] = p
	}
	set := imagegen.NewSetFrom(providers)
	svc := NewSessionService(
		context.Background(),
		NewSessionRegistry(metrics),
		projects,
		NewPromptService(nil, metrics),
		NewGenerationService(set, 2, 0, metrics),
		NewApprovalService(srv.Client(), files, index, metrics),
		metrics,
	)
	return &sessionEnv{svc: svc, projects: projects, stub: stub, metrics: collector}
}

func (e *sessionEnv) createProject(t *testing.T, script string) string {
	t.Helper()
	info, err := e.projects.CreateProject(context.Background(), models.ScriptRequest{Script: script})
	require.NoError(t, err)
	return info.ProjectID
}

func (e *sessionEnv) start(t *testing.T, projectID string, n int) string {
	t.Helper()
	started, err := e.svc.StartGeneration(context.Background(), models.GenerationRequest{
		ProjectID:     projectID,
		NumScenes:     n,
		AIProvider:    FallbackProvider,
		ImageProvider: "stub",
		ImageModel:    "stub-model",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusGenerating, started.Status)
	assert.Equal(t, n, started.TotalScenes)
	assert.True(t, strings.HasPrefix(started.SessionID, "session_"))
	assert.Len(t, started.SessionID, len("session_")+8)
	return started.SessionID
}

func TestGenerationReachesPreviewing(t *testing.T) {
	env := newSessionEnv(t, &stubImageProvider{})
	projectID := env.createProject(t, strings.Repeat("word ", 50))

	id := env.start(t, projectID, 3)
	env.svc.Wait()

	session, err := env.svc.Status(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreviewing, session.Status)
	assert.Equal(t, 3, session.TotalScenes)
	assert.Equal(t, 3, session.CompletedScenes)
	require.Len(t, session.Previews, 3)
	for i, p := range session.Previews {
		assert.Equal(t, i+1, p.SceneNumber)
		assert.NotEmpty(t, p.PreviewURL)
		_, ok := session.FindPrompt(p.SceneNumber)
		assert.True(t, ok)
	}
	assert.Empty(t, session.Errors)
	assert.True(t, env.projects.files.FileExists(projectID, ScenePromptsFile))
	assert.Equal(t, int64(1), env.metrics.GetCounterValue(utils.MetricSessionsStarted))
	assert.Equal(t, int64(1), env.metrics.GetCounterValue(utils.MetricPromptFallback))
}

func TestGenerationRecordsSceneFailures(t *testing.T) {
	env := newSessionEnv(t, &stubImageProvider{failures: -1})
	projectID := env.createProject(t, "a b c d")

	id := env.start(t, projectID, 2)
	env.svc.Wait()

	session, err := env.svc.Status(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreviewing, session.Status)
	assert.Equal(t, 2, session.CompletedScenes)
	assert.Equal(t, []string{"Failed to generate scene 1", "Failed to generate scene 2"}, session.Errors)
	for _, p := range session.Previews {
		assert.Empty(t, p.PreviewURL)
		require.NotNil(t, p.Error)
	}
	assert.Equal(t, 4, env.stub.Calls())
}

func TestStartGenerationErrors(t *testing.T) {
	env := newSessionEnv(t, &stubImageProvider{})

	_, err := env.svc.StartGeneration(context.Background(), models.GenerationRequest{ProjectID: "story_missing", NumScenes: 2})
	assert.ErrorIs(t, err, ErrProjectNotFound)

	projectID := env.createProject(t, "x")
	_, err = env.svc.StartGeneration(context.Background(), models.GenerationRequest{ProjectID: projectID, NumScenes: -1})
	assert.True(t, apperrors.IsValidationError(err))
	assert.Equal(t, 0, env.svc.Count())
}

func TestDeletedSessionIsNotRecreated(t *testing.T) {
	stub := &stubImageProvider{block: make(chan struct{})}
	env := newSessionEnv(t, stub)
	projectID := env.createProject(t, "a b c")

	id := env.start(t, projectID, 3)
	require.NoError(t, env.svc.Delete(id))
	close(stub.block)
	env.svc.Wait()

	_, err := env.svc.Status(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, env.svc.Count())
	assert.LessOrEqual(t, stub.Calls(), 1)

	assert.ErrorIs(t, env.svc.Delete(id), ErrSessionNotFound)
}

func TestRegenerateReplacesScene(t *testing.T) {
	env := newSessionEnv(t, &stubImageProvider{})
	projectID := env.createProject(t, "one two three four")
	id := env.start(t, projectID, 2)
	env.svc.Wait()

	for i := 0; i < 2; i++ {
		result, err := env.svc.Regenerate(context.Background(), models.RegenerationRequest{
			SessionID: id, SceneNumber: 2, ImageProvider: "stub", ImageModel: "stub-model",
		})
		require.NoError(t, err)
		assert.Equal(t, "success", result.Status)
		assert.Equal(t, 2, result.SceneNumber)
		assert.NotEmpty(t, result.NewPreview.PreviewURL)
	}

	session, _ := env.svc.Status(id)
	count := 0
	for _, p := range session.Previews {
		if p.SceneNumber == 2 {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, session.CompletedScenes)
	assert.Equal(t, models.StatusPreviewing, session.Status)
}

func TestRegenerateUnknownProvider(t *testing.T) {
	env := newSessionEnv(t, &stubImageProvider{})
	projectID := env.createProject(t, "one two")
	id := env.start(t, projectID, 1)
	env.svc.Wait()

	result, err := env.svc.Regenerate(context.Background(), models.RegenerationRequest{
		SessionID: id, SceneNumber: 1, ImageProvider: "bogus",
	})
	require.NoError(t, err)
	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, "", result.NewPreview.PreviewURL)
	require.NotNil(t, result.NewPreview.Error)
	assert.Equal(t, "Unknown provider: bogus", *result.NewPreview.Error)

	session, _ := env.svc.Status(id)
	assert.Contains(t, session.Errors, "Failed to regenerate scene 1")
	assert.Len(t, session.Previews, 1)
}

func TestRegenerateNotFound(t *testing.T) {
	env := newSessionEnv(t, &stubImageProvider{})
	_, err := env.svc.Regenerate(context.Background(), models.RegenerationRequest{SessionID: "nope", SceneNumber: 1})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	projectID := env.createProject(t, "one")
	id := env.start(t, projectID, 1)
	env.svc.Wait()
	_, err = env.svc.Regenerate(context.Background(), models.RegenerationRequest{SessionID: id, SceneNumber: 9})
	assert.ErrorIs(t, err, ErrSceneNotFound)
}

func TestApproveSavesAndCompletes(t *testing.T) {
	env := newSessionEnv(t, &stubImageProvider{})
	projectID := env.createProject(t, "one two three four five six")
	id := env.start(t, projectID, 3)
	env.svc.Wait()

	result, err := env.svc.Approve(context.Background(), models.ApprovalRequest{
		SessionID:      id,
		SceneApprovals: map[string]bool{"1": true, "2": false, "3": true},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, 2, result.SavedImages)
	assert.Equal(t, 3, result.TotalScenes)

	session, _ := env.svc.Status(id)
	assert.Equal(t, models.StatusCompleted, session.Status)
	assert.True(t, session.Previews[0].Approved)
	assert.False(t, session.Previews[1].Approved)

	detail, err := env.projects.GetProject(context.Background(), projectID)
	require.NoError(t, err)
	assert.Equal(t, 2, detail.TotalImages)

	assert.Equal(t, 1, env.svc.Cleanup())
	_, err = env.svc.Status(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestApproveErrors(t *testing.T) {
	env := newSessionEnv(t, &stubImageProvider{})
	_, err := env.svc.Approve(context.Background(), models.ApprovalRequest{SessionID: "nope"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	projectID := env.createProject(t, "one")
	id := env.start(t, projectID, 1)
	env.svc.Wait()
	_, err = env.svc.Approve(context.Background(), models.ApprovalRequest{
		SessionID:      id,
		SceneApprovals: map[string]bool{"first": true},
	})
	assert.True(t, apperrors.IsValidationError(err))
}

func TestShutdownMarksGeneratingSessionFailed(t *testing.T) {
	stub := &stubImageProvider{block: make(chan struct{})}
	env := newSessionEnv(t, stub)
	ctx, cancel := context.WithCancel(context.Background())
	env.svc.baseCtx = ctx

	projectID := env.createProject(t, "a b")
	id := env.start(t, projectID, 2)
	cancel()
	env.svc.Wait()

	session, err := env.svc.Status(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, session.Status)
	require.NotEmpty(t, session.Errors)
	assert.Equal(t, "Generation failed: context canceled", session.Errors[len(session.Errors)-1])
	assert.Equal(t, int64(1), env.metrics.GetCounterValue(utils.MetricSessionsFailed))
}

func TestListSessions(t *testing.T) {
	env := newSessionEnv(t, &stubImageProvider{})
	projectID := env.createProject(t, "one two")
	a := env.start(t, projectID, 1)
	b := env.start(t, projectID, 2)
	env.svc.Wait()

	list := env.svc.List()
	require.Len(t, list, 2)
	ids := []string{list[0].SessionID, list[1].SessionID}
	assert.ElementsMatch(t, []string{a, b}, ids)
	assert.Eventually(t, func() bool { return env.svc.Count() == 2 }, time.Second, 10*time.Millisecond)
}

// panicImageProvider 每次调用都 panic
type panicImageProvider struct{ stubImageProvider }

func (p *panicImageProvider) GenerateImage(ctx context.Context, prompt, model string) (string, error) {
	panic("provider exploded")
}

func TestRegenerateDuringGenerationKeepsOnePreviewPerScene(t *testing.T) {
	stub := &stubImageProvider{block: make(chan struct{})}
	fast := &stubImageProvider{urlBase: "https://fast.example.com"}
	env := newSessionEnvWith(t, stub, map[string]imagegen.Provider{"fast": fast})
	projectID := env.createProject(t, "one two three four five six")

	id := env.start(t, projectID, 3)

	// 后台任务阻塞在场景 1 时重新生成场景 3
	result, err := env.svc.Regenerate(context.Background(), models.RegenerationRequest{
		SessionID: id, SceneNumber: 3, ImageProvider: "fast", ImageModel: "stub-model",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)

	mid, err := env.svc.Status(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusGenerating, mid.Status)
	assert.Equal(t, 1, mid.CompletedScenes)

	close(stub.block)
	env.svc.Wait()

	session, err := env.svc.Status(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreviewing, session.Status)
	require.Len(t, session.Previews, 3)
	assert.Equal(t, len(session.Previews), session.CompletedScenes)
	for i, p := range session.Previews {
		assert.Equal(t, i+1, p.SceneNumber)
		assert.NotEmpty(t, p.PreviewURL)
	}
	assert.Equal(t, "https://fast.example.com/1.jpg", session.Previews[2].PreviewURL)
	assert.Equal(t, "fast", session.Previews[2].ProviderUsed)
	// 已由重新生成写入的场景不再出图
	assert.Equal(t, 2, stub.Calls())
	assert.Empty(t, session.Errors)
}

func TestPanicInBackgroundMarksSessionFailed(t *testing.T) {
	env := newSessionEnvWith(t, &stubImageProvider{}, map[string]imagegen.Provider{"boom": &panicImageProvider{}})
	projectID := env.createProject(t, "one two")

	started, err := env.svc.StartGeneration(context.Background(), models.GenerationRequest{
		ProjectID:     projectID,
		NumScenes:     2,
		AIProvider:    FallbackProvider,
		ImageProvider: "boom",
		ImageModel:    "stub-model",
	})
	require.NoError(t, err)
	env.svc.Wait()

	session, err := env.svc.Status(started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, session.Status)
	assert.Empty(t, session.Previews)
	require.NotEmpty(t, session.Errors)
	assert.Equal(t, "Generation failed: provider exploded", session.Errors[len(session.Errors)-1])
	assert.Equal(t, int64(1), env.metrics.GetCounterValue(utils.MetricSessionsFailed))
}

func TestRegenerateIgnoresRequestCancellation(t *testing.T) {
	stub := &stubImageProvider{}
	env := newSessionEnv(t, stub)
	projectID := env.createProject(t, "one two")
	id := env.start(t, projectID, 1)
	env.svc.Wait()

	before, err := env.svc.Status(id)
	require.NoError(t, err)
	require.NotEmpty(t, before.Previews[0].PreviewURL)

	// 下一次调用失败，重试发生在请求已取消之后
	stub.mu.Lock()
	stub.failures = stub.calls + 1
	stub.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := env.svc.Regenerate(ctx, models.RegenerationRequest{
		SessionID: id, SceneNumber: 1, ImageProvider: "stub", ImageModel: "stub-model",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Nil(t, result.NewPreview.Error)

	session, err := env.svc.Status(id)
	require.NoError(t, err)
	require.Len(t, session.Previews, 1)
	assert.NotEmpty(t, session.Previews[0].PreviewURL)
	assert.Nil(t, session.Previews[0].Error)
	assert.Empty(t, session.Errors)
}

func TestApproveIgnoresRequestCancellation(t *testing.T) {
	env := newSessionEnv(t, &stubImageProvider{})
	projectID := env.createProject(t, "one two")
	id := env.start(t, projectID, 2)
	env.svc.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := env.svc.Approve(ctx, models.ApprovalRequest{
		SessionID:      id,
		SceneApprovals: map[string]bool{"1": true, "2": true},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.SavedImages)
	assert.Equal(t, models.StatusCompleted, result.Status)
}

func TestApproveKeepsFailedSessionFailed(t *testing.T) {
	env := newSessionEnv(t, &stubImageProvider{})
	projectID := env.createProject(t, "one two")
	id := env.start(t, projectID, 1)
	env.svc.Wait()

	_, err := env.svc.Registry().Update(id, func(session *models.GenerationSession) error {
		session.Status = models.StatusFailed
		return nil
	})
	require.NoError(t, err)

	result, err := env.svc.Approve(context.Background(), models.ApprovalRequest{
		SessionID:      id,
		SceneApprovals: map[string]bool{"1": true},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, 1, result.SavedImages)

	session, _ := env.svc.Status(id)
	assert.Equal(t, models.StatusFailed, session.Status)
}
