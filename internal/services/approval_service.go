// internal/services/approval_service.go
package services

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/storage"
	"github.com/Corphon/SceneForge/internal/utils"
)

// 单张图像下载上限
const maxImageBytes = 32 << 20

// ApprovalService 下载已审批的图像并写入项目目录
type ApprovalService struct {
	client   *http.Client
	files    *storage.FileStorage
	index    *storage.ProjectIndex
	metrics  *utils.PipelineMetrics
	maxBytes int64
}

// NewApprovalService 创建审批持久化服务；index 可以为 nil
func NewApprovalService(client *http.Client, files *storage.FileStorage, index *storage.ProjectIndex, metrics *utils.PipelineMetrics) *ApprovalService {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if metrics == nil {
		metrics = utils.NewPipelineMetrics()
	}
	return &ApprovalService{
		client:   client,
		files:    files,
		index:    index,
		metrics:  metrics,
		maxBytes: maxImageBytes,
	}
}

// SceneFileName scene_001.jpg 形式的文件名
func SceneFileName(sceneNumber int, contentType string) string {
	return fmt.Sprintf("scene_%03d.%s", sceneNumber, extensionFor(contentType))
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "jpg"
	}
	switch mediaType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}

// SaveApproved 保存 approved 且 URL 非空的图像，返回成功写入的数量。
// 单个场景失败只记录日志；只有图像目录无法创建时返回错误。不修改 session。
func (s *ApprovalService) SaveApproved(ctx context.Context, session *models.GenerationSession) (int, error) {
	logger := utils.GetLogger()
	imagesDir := session.ProjectID + "/" + ImagesDir

	if !validProjectID(session.ProjectID) {
		return 0, fmt.Errorf("invalid project id %q", session.ProjectID)
	}
	if err := s.files.EnsureDir(imagesDir); err != nil {
		return 0, err
	}

	saved := 0
	for _, preview := range session.Previews {
		if !preview.Approved || preview.PreviewURL == "" {
			continue
		}

		fileName, err := s.saveOne(ctx, imagesDir, preview)
		if err != nil {
			logger.Warn("保存场景图像失败", map[string]interface{}{
				"session_id": session.SessionID,
				"scene":      preview.SceneNumber,
				"error":      err.Error(),
			})
			continue
		}
		saved++

		if s.index != nil {
			if err := s.index.RecordSavedImage(ctx, storage.SavedImage{
				ProjectID:   session.ProjectID,
				SceneNumber: preview.SceneNumber,
				FileName:    fileName,
				SourceURL:   preview.PreviewURL,
			}); err != nil {
				logger.Warn("记录已保存图像失败", map[string]interface{}{
					"project_id": session.ProjectID,
					"scene":      preview.SceneNumber,
					"error":      err.Error(),
				})
			}
		}
	}

	s.metrics.RecordImagesSaved(saved)
	logger.Info("审批图像已保存", map[string]interface{}{
		"session_id": session.SessionID,
		"project_id": session.ProjectID,
		"saved":      saved,
	})
	return saved, nil
}

func (s *ApprovalService) saveOne(ctx context.Context, imagesDir string, preview models.PreviewImage) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, preview.PreviewURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	if resp.ContentLength > s.maxBytes {
		return "", fmt.Errorf("image too large: %d bytes", resp.ContentLength)
	}
	// 多读一个字节以识别超限，超限的文件不写入
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("image exceeds %d bytes", s.maxBytes)
	}

	fileName := SceneFileName(preview.SceneNumber, resp.Header.Get("Content-Type"))
	if err := s.files.SaveFile(imagesDir, fileName, data); err != nil {
		return "", err
	}
	return fileName, nil
}
