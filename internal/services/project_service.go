// internal/services/project_service.go
package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/storage"
	"github.com/Corphon/SceneForge/internal/utils"
)

// 项目目录内的文件名
const (
	ScriptFile       = "script.txt"
	AnalysisFile     = "analysis.json"
	ScenePromptsFile = "scene_prompts.txt"
	ImagesDir        = "images"
)

// isoLayout 与 created_at 的对外格式保持一致
const isoLayout = "2006-01-02T15:04:05.000000"

var imageExts = []string{".jpg", ".jpeg", ".png", ".webp"}

// ProjectService 项目的创建、读取与列表；文件在 FileStorage，目录索引在 SQLite
type ProjectService struct {
	files *storage.FileStorage
	index *storage.ProjectIndex
	now   func() time.Time
}

// NewProjectService 创建项目服务；index 可以为 nil，此时只依赖磁盘目录
func NewProjectService(files *storage.FileStorage, index *storage.ProjectIndex) *ProjectService {
	return &ProjectService{files: files, index: index, now: time.Now}
}

// NewProjectID story_<时间戳>_<8位十六进制>
func NewProjectID(now time.Time) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "story_" + now.Format("20060102_150405")
	}
	return fmt.Sprintf("story_%s_%s", now.Format("20060102_150405"), hex.EncodeToString(buf))
}

// validProjectID 项目 id 只能是单层目录名
func validProjectID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}

// CreateProject 分析脚本并写入项目目录与索引
func (s *ProjectService) CreateProject(ctx context.Context, req models.ScriptRequest) (*models.ProjectInfo, error) {
	req.ApplyDefaults()
	now := s.now()
	projectID := NewProjectID(now)
	analysis := AnalyzeScript(req.Script)

	if err := s.files.SaveFile(projectID, ScriptFile, []byte(req.Script)); err != nil {
		return nil, apperrors.NewProcessingError("Analysis failed", err)
	}
	if err := s.files.SaveJSONFile(projectID, AnalysisFile, analysis); err != nil {
		return nil, apperrors.NewProcessingError("Analysis failed", err)
	}
	if err := s.files.EnsureDir(projectID + "/" + ImagesDir); err != nil {
		return nil, apperrors.NewProcessingError("Analysis failed", err)
	}

	if s.index != nil {
		if err := s.index.InsertProject(ctx, storage.ProjectRecord{
			ProjectID: projectID,
			Title:     req.Title,
			CreatedAt: now,
			Analysis:  analysis,
		}); err != nil {
			// 磁盘上的项目仍然可用，列表会从目录补齐
			utils.GetLogger().Warn("写入项目索引失败", map[string]interface{}{
				"project_id": projectID,
				"error":      err.Error(),
			})
		}
	}

	utils.GetLogger().Info("项目已创建", map[string]interface{}{
		"project_id": projectID,
		"word_count": analysis.WordCount,
	})

	return &models.ProjectInfo{
		ProjectID:     projectID,
		Title:         req.Title,
		CreatedAt:     now.Format(isoLayout),
		Analysis:      analysis,
		ScriptContent: req.Script,
	}, nil
}

// Exists 项目目录是否存在
func (s *ProjectService) Exists(projectID string) bool {
	return validProjectID(projectID) && s.files.DirExists(projectID)
}

// LoadScript 读取项目脚本
func (s *ProjectService) LoadScript(projectID string) (string, error) {
	if !s.Exists(projectID) {
		return "", ErrProjectNotFound
	}
	content, err := s.files.LoadFile(projectID, ScriptFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrScriptNotFound
		}
		return "", apperrors.NewProcessingError("Failed to read script", err)
	}
	return string(content), nil
}

// SaveScenePrompts 写入提示词记录，供人工查阅
func (s *ProjectService) SaveScenePrompts(projectID string, scenes []models.ScenePrompt) error {
	rule := strings.Repeat("=", 50)
	sep := strings.Repeat("-", 50)

	var b strings.Builder
	b.WriteString("Scene Prompts for Image Generation\n")
	b.WriteString(rule + "\n\n")
	for _, scene := range scenes {
		fmt.Fprintf(&b, "Scene %d: %s\n", scene.SceneNumber, scene.SceneTitle)
		fmt.Fprintf(&b, "Script: %s\n", scene.ScriptExcerpt)
		fmt.Fprintf(&b, "Prompt: %s\n", scene.ImagePrompt)
		b.WriteString(sep + "\n\n")
	}
	return s.files.SaveFile(projectID, ScenePromptsFile, []byte(b.String()))
}

// ListProjects 索引中的项目（新的在前），再补上只存在于磁盘的项目
func (s *ProjectService) ListProjects(ctx context.Context) ([]models.ProjectSummary, error) {
	logger := utils.GetLogger()
	projects := []models.ProjectSummary{}
	seen := make(map[string]bool)

	if s.index != nil {
		records, err := s.index.ListProjects(ctx)
		if err != nil {
			logger.Warn("读取项目索引失败", map[string]interface{}{"error": err.Error()})
		}
		for _, rec := range records {
			if !s.files.DirExists(rec.ProjectID) {
				continue
			}
			seen[rec.ProjectID] = true
			projects = append(projects, models.ProjectSummary{
				ProjectID: rec.ProjectID,
				Title:     rec.Title,
				CreatedAt: rec.CreatedAt.Local().Format(isoLayout),
				Analysis:  rec.Analysis,
			})
		}
	}

	dirs, err := s.files.ListDirs("")
	if err != nil {
		return nil, err
	}

	var orphans []models.ProjectSummary
	for _, dir := range dirs {
		if seen[dir] || !s.files.FileExists(dir, AnalysisFile) {
			continue
		}
		var analysis models.ScriptAnalysis
		if err := s.files.LoadJSONFile(dir, AnalysisFile, &analysis); err != nil {
			logger.Warn("加载项目失败", map[string]interface{}{"project_id": dir, "error": err.Error()})
			continue
		}
		created, _ := s.files.ModTime(dir)
		orphans = append(orphans, models.ProjectSummary{
			ProjectID: dir,
			CreatedAt: created.Format(isoLayout),
			Analysis:  analysis,
		})
	}
	sort.SliceStable(orphans, func(i, j int) bool {
		return orphans[i].CreatedAt > orphans[j].CreatedAt
	})

	return append(projects, orphans...), nil
}

// GetProject 项目详情，images 为可直接访问的相对 URL
func (s *ProjectService) GetProject(ctx context.Context, projectID string) (*models.ProjectDetail, error) {
	if !s.Exists(projectID) {
		return nil, ErrProjectNotFound
	}

	script, err := s.files.LoadFile(projectID, ScriptFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrProjectNotFound
		}
		return nil, apperrors.NewProcessingError("Error loading project", err)
	}

	var analysis models.ScriptAnalysis
	if err := s.files.LoadJSONFile(projectID, AnalysisFile, &analysis); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrProjectNotFound
		}
		return nil, apperrors.NewProcessingError("Error loading project", err)
	}

	detail := &models.ProjectDetail{
		ProjectID: projectID,
		Script:    string(script),
		Analysis:  analysis,
		Images:    []string{},
	}
	if s.index != nil {
		if rec, err := s.index.GetProject(ctx, projectID); err == nil {
			detail.Title = rec.Title
		}
	}

	files, err := s.files.ListFiles(projectID+"/"+ImagesDir, imageExts...)
	if err != nil {
		return nil, apperrors.NewProcessingError("Error loading project", err)
	}
	for _, name := range files {
		detail.Images = append(detail.Images, fmt.Sprintf("/projects/%s/images/%s", projectID, name))
	}
	detail.TotalImages = len(detail.Images)
	return detail, nil
}

// ImagePath 已保存图像的绝对路径
func (s *ProjectService) ImagePath(projectID, fileName string) (string, error) {
	if !s.Exists(projectID) || !validProjectID(fileName) {
		return "", ErrProjectNotFound
	}
	if !s.files.FileExists(projectID+"/"+ImagesDir, fileName) {
		return "", apperrors.NewNotFoundError("Image not found", nil)
	}
	return s.files.Path(projectID+"/"+ImagesDir, fileName)
}

// Count 磁盘上的项目目录数量
func (s *ProjectService) Count() int {
	dirs, err := s.files.ListDirs("")
	if err != nil {
		return 0
	}
	return len(dirs)
}
