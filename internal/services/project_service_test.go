package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProjects(t *testing.T) (*ProjectService, *storage.FileStorage, *storage.ProjectIndex) {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	index, err := storage.OpenProjectIndex(filepath.Join(dir, "projects.db"))
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })
	return NewProjectService(files, index), files, index
}

func TestNewProjectID(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	a := NewProjectID(now)
	b := NewProjectID(now)
	assert.True(t, strings.HasPrefix(a, "story_20240305_140709_"))
	assert.Len(t, a, len("story_20240305_140709_")+8)
	assert.NotEqual(t, a, b)
}

func TestCreateProjectWritesFiles(t *testing.T) {
	svc, files, index := newTestProjects(t)
	ctx := context.Background()

	info, err := svc.CreateProject(ctx, models.ScriptRequest{Script: "A fox ran. The end."})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTitle, info.Title)
	assert.Equal(t, 5, info.Analysis.WordCount)
	assert.Equal(t, "A fox ran. The end.", info.ScriptContent)

	assert.True(t, files.FileExists(info.ProjectID, ScriptFile))
	assert.True(t, files.FileExists(info.ProjectID, AnalysisFile))
	assert.True(t, files.DirExists(info.ProjectID+"/"+ImagesDir))

	rec, err := index.GetProject(ctx, info.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTitle, rec.Title)

	script, err := svc.LoadScript(info.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "A fox ran. The end.", script)
}

func TestLoadScriptErrors(t *testing.T) {
	svc, files, _ := newTestProjects(t)

	_, err := svc.LoadScript("story_missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	_, err = svc.LoadScript("../etc")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	_, err = svc.LoadScript("")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	require.NoError(t, files.EnsureDir("story_empty"))
	_, err = svc.LoadScript("story_empty")
	assert.ErrorIs(t, err, ErrScriptNotFound)
}

func TestSaveScenePromptsTranscript(t *testing.T) {
	svc, files, _ := newTestProjects(t)
	require.NoError(t, files.EnsureDir("story_1"))

	require.NoError(t, svc.SaveScenePrompts("story_1", []models.ScenePrompt{
		{SceneNumber: 1, SceneTitle: "Dawn", ScriptExcerpt: "The sun rose", ImagePrompt: "sunrise"},
	}))

	data, err := files.LoadFile("story_1", ScenePromptsFile)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "Scene Prompts for Image Generation\n"+strings.Repeat("=", 50)))
	assert.Contains(t, text, "Scene 1: Dawn\nScript: The sun rose\nPrompt: sunrise\n")
}

func TestListProjectsIncludesDiskOnly(t *testing.T) {
	svc, files, _ := newTestProjects(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	first, err := svc.CreateProject(ctx, models.ScriptRequest{Script: "one", Title: "First"})
	require.NoError(t, err)
	svc.now = func() time.Time { return base.Add(time.Minute) }
	second, err := svc.CreateProject(ctx, models.ScriptRequest{Script: "two", Title: "Second"})
	require.NoError(t, err)

	// 旧版本留下的项目只有目录
	require.NoError(t, files.SaveJSONFile("story_legacy", AnalysisFile, models.ScriptAnalysis{WordCount: 7}))
	// 没有 analysis.json 的目录被忽略
	require.NoError(t, files.EnsureDir("scratch"))

	projects, err := svc.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 3)
	assert.Equal(t, second.ProjectID, projects[0].ProjectID)
	assert.Equal(t, "Second", projects[0].Title)
	assert.Equal(t, first.ProjectID, projects[1].ProjectID)
	assert.Equal(t, "story_legacy", projects[2].ProjectID)
	assert.Equal(t, 7, projects[2].Analysis.WordCount)
}

func TestGetProjectDetail(t *testing.T) {
	svc, files, _ := newTestProjects(t)
	ctx := context.Background()

	info, err := svc.CreateProject(ctx, models.ScriptRequest{Script: "hello world", Title: "Greeting"})
	require.NoError(t, err)
	require.NoError(t, files.SaveFile(info.ProjectID+"/images", "scene_002.png", []byte{1}))
	require.NoError(t, files.SaveFile(info.ProjectID+"/images", "scene_001.jpg", []byte{1}))

	detail, err := svc.GetProject(ctx, info.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", detail.Script)
	assert.Equal(t, "Greeting", detail.Title)
	assert.Equal(t, []string{
		"/projects/" + info.ProjectID + "/images/scene_001.jpg",
		"/projects/" + info.ProjectID + "/images/scene_002.png",
	}, detail.Images)
	assert.Equal(t, 2, detail.TotalImages)

	_, err = svc.GetProject(ctx, "story_missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	path, err := svc.ImagePath(info.ProjectID, "scene_001.jpg")
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)

	_, err = svc.ImagePath(info.ProjectID, "../script.txt")
	assert.Error(t, err)
	_, err = svc.ImagePath(info.ProjectID, "scene_009.jpg")
	assert.Error(t, err)

	assert.Equal(t, 1, svc.Count())
}
