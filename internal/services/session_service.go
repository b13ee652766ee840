// internal/services/session_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/utils"
)

// 单次请求允许的最大场景数
const maxScenesPerSession = 50

// SessionService 生成会话的生命周期：启动、后台逐场景出图、重新生成与审批
type SessionService struct {
	registry  *SessionRegistry
	projects  *ProjectService
	prompts   *PromptService
	generator *GenerationService
	approvals *ApprovalService
	metrics   *utils.PipelineMetrics

	// 后台任务使用进程级上下文，不随请求结束
	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewSessionService 创建会话服务
func NewSessionService(
	ctx context.Context,
	registry *SessionRegistry,
	projects *ProjectService,
	prompts *PromptService,
	generator *GenerationService,
	approvals *ApprovalService,
	metrics *utils.PipelineMetrics,
) *SessionService {
	if metrics == nil {
		metrics = utils.NewPipelineMetrics()
	}
	return &SessionService{
		registry:  registry,
		projects:  projects,
		prompts:   prompts,
		generator: generator,
		approvals: approvals,
		metrics:   metrics,
		baseCtx:   ctx,
	}
}

// Registry 会话表
func (s *SessionService) Registry() *SessionRegistry {
	return s.registry
}

// NewSessionID session_ 加 8 位十六进制
func NewSessionID() string {
	return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// StartGeneration 生成提示词、登记会话并启动后台任务，立即返回
func (s *SessionService) StartGeneration(ctx context.Context, req models.GenerationRequest) (*models.GenerationStarted, error) {
	req.ApplyDefaults()
	if req.NumScenes < 1 || req.NumScenes > maxScenesPerSession {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("num_scenes must be between 1 and %d", maxScenesPerSession), nil)
	}

	script, err := s.projects.LoadScript(req.ProjectID)
	if err != nil {
		return nil, err
	}

	scenes := s.prompts.BuildPrompts(ctx, script, req.NumScenes, req.MediaType, req.AIProvider, req.AIModel)
	if err := s.projects.SaveScenePrompts(req.ProjectID, scenes); err != nil {
		return nil, apperrors.NewProcessingError("Failed to save scene prompts", err)
	}

	sessionID := NewSessionID()
	s.registry.Set(models.NewGenerationSession(sessionID, req.ProjectID, scenes))
	s.metrics.RecordSessionStarted()

	utils.GetLogger().Info("生成会话已启动", map[string]interface{}{
		"session_id":     sessionID,
		"project_id":     req.ProjectID,
		"total_scenes":   len(scenes),
		"image_provider": req.ImageProvider,
		"image_model":    req.ImageModel,
	})

	s.wg.Add(1)
	go s.runGeneration(sessionID, scenes, req.ImageProvider, req.ImageModel)

	return &models.GenerationStarted{
		SessionID:   sessionID,
		Status:      models.StatusGenerating,
		TotalScenes: len(scenes),
	}, nil
}

// runGeneration 按场景编号顺序出图；每次写入前确认会话仍存在，被删除则放弃
func (s *SessionService) runGeneration(sessionID string, scenes []models.ScenePrompt, provider, model string) {
	defer s.wg.Done()
	logger := utils.GetLogger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("后台生成异常", map[string]interface{}{"session_id": sessionID, "panic": fmt.Sprint(r)})
			s.markFailed(sessionID, fmt.Errorf("%v", r))
		}
	}()

	for _, scene := range scenes {
		if err := s.baseCtx.Err(); err != nil {
			s.markFailed(sessionID, err)
			return
		}

		current, ok := s.registry.Get(sessionID)
		if !ok {
			logger.Info("会话已删除，停止生成", map[string]interface{}{"session_id": sessionID})
			return
		}
		if current.HasPreview(scene.SceneNumber) {
			continue
		}

		preview := s.generator.GenerateWithRetry(s.baseCtx, scene, provider, model)

		_, err := s.registry.Update(sessionID, func(session *models.GenerationSession) error {
			// 并发的重新生成已经写入该场景
			if session.HasPreview(scene.SceneNumber) {
				return nil
			}
			session.UpsertPreview(preview)
			if !preview.Succeeded() {
				session.Errors = append(session.Errors, fmt.Sprintf("Failed to generate scene %d", scene.SceneNumber))
			}
			return nil
		})
		if errors.Is(err, ErrSessionNotFound) {
			logger.Info("会话已删除，停止生成", map[string]interface{}{"session_id": sessionID})
			return
		}
	}

	if err := s.baseCtx.Err(); err != nil {
		s.markFailed(sessionID, err)
		return
	}

	session, err := s.registry.Update(sessionID, func(session *models.GenerationSession) error {
		if session.Status == models.StatusGenerating {
			session.Status = models.StatusPreviewing
		}
		return nil
	})
	if err == nil {
		logger.Info("场景生成完成", map[string]interface{}{
			"session_id": sessionID,
			"completed":  session.CompletedScenes,
			"errors":     len(session.Errors),
		})
	}
}

// markFailed generating -> failed，其他状态不变
func (s *SessionService) markFailed(sessionID string, cause error) {
	_, err := s.registry.Update(sessionID, func(session *models.GenerationSession) error {
		if session.Status != models.StatusGenerating {
			return nil
		}
		session.Status = models.StatusFailed
		session.Errors = append(session.Errors, "Generation failed: "+cause.Error())
		return nil
	})
	if err == nil {
		s.metrics.RecordSessionFailed()
	}
}

// Wait 等待所有后台任务结束
func (s *SessionService) Wait() {
	s.wg.Wait()
}

// Status 会话快照
func (s *SessionService) Status(sessionID string) (*models.GenerationSession, error) {
	session, ok := s.registry.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Regenerate 重新生成单个场景，按场景编号替换或追加，不改变会话状态
func (s *SessionService) Regenerate(ctx context.Context, req models.RegenerationRequest) (*models.RegenerationResult, error) {
	req.ApplyDefaults()

	session, ok := s.registry.Get(req.SessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	scene, ok := session.FindPrompt(req.SceneNumber)
	if !ok {
		return nil, ErrSceneNotFound
	}

	// 出图在锁外进行，写回时重新读取最新状态；开始后不随请求取消，只受 HTTP 超时约束
	preview := s.generator.GenerateWithRetry(context.WithoutCancel(ctx), scene, req.ImageProvider, req.ImageModel)

	if _, err := s.registry.Update(req.SessionID, func(session *models.GenerationSession) error {
		session.UpsertPreview(preview)
		if !preview.Succeeded() {
			session.Errors = append(session.Errors, fmt.Sprintf("Failed to regenerate scene %d", req.SceneNumber))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	status := "success"
	if !preview.Succeeded() {
		status = "failed"
	}
	return &models.RegenerationResult{
		Status:      status,
		SceneNumber: req.SceneNumber,
		NewPreview:  preview,
	}, nil
}

// Approve 记录审批结果、保存已审批图像并把会话置为 completed；failed 会话保持 failed
func (s *SessionService) Approve(ctx context.Context, req models.ApprovalRequest) (*models.ApprovalResult, error) {
	approvals, err := req.Approvals()
	if err != nil {
		return nil, apperrors.NewValidationError("scene_approvals keys must be scene numbers", err)
	}

	session, err := s.registry.Update(req.SessionID, func(session *models.GenerationSession) error {
		session.ApplyApprovals(approvals)
		return nil
	})
	if err != nil {
		return nil, err
	}

	saved, err := s.approvals.SaveApproved(context.WithoutCancel(ctx), session)
	if err != nil {
		return nil, apperrors.NewProcessingError("Failed to save images: "+err.Error(), err)
	}

	session, err = s.registry.Update(req.SessionID, func(session *models.GenerationSession) error {
		if session.Status != models.StatusFailed {
			session.Status = models.StatusCompleted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &models.ApprovalResult{
		Status:      session.Status,
		SavedImages: saved,
		TotalScenes: len(session.Previews),
	}, nil
}

// Delete 删除会话；进行中的后台任务在下一次写入前发现并退出
func (s *SessionService) Delete(sessionID string) error {
	if !s.registry.Delete(sessionID) {
		return ErrSessionNotFound
	}
	utils.GetLogger().Info("会话已删除", map[string]interface{}{"session_id": sessionID})
	return nil
}

// List 会话摘要
func (s *SessionService) List() []models.SessionSummary {
	return s.registry.List()
}

// Cleanup 清理所有终止状态的会话
func (s *SessionService) Cleanup() int {
	return s.registry.Sweep()
}

// Count 当前会话数
func (s *SessionService) Count() int {
	return s.registry.Count()
}
