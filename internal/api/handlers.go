// internal/api/handlers.go
package api

import (
	"net/http"
	"time"

	"github.com/Corphon/SceneForge/internal/config"
	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/services"
	"github.com/Corphon/SceneForge/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	// 核心服务
	Sessions  *services.SessionService    // 生成会话
	Projects  *services.ProjectService    // 项目存储
	Prompts   *services.PromptService     // 场景提示词
	Generator *services.GenerationService // 图像生成
	Hub       *SessionHub                 // WebSocket 推送

	Config   *config.Config
	Metrics  *utils.PipelineMetrics
	Response *ResponseHelper
}

// NewHandler 创建API处理器
func NewHandler(
	sessions *services.SessionService,
	projects *services.ProjectService,
	prompts *services.PromptService,
	generator *services.GenerationService,
	hub *SessionHub,
	cfg *config.Config,
	metrics *utils.PipelineMetrics,
) *Handler {
	return &Handler{
		Sessions:  sessions,
		Projects:  projects,
		Prompts:   prompts,
		Generator: generator,
		Hub:       hub,
		Config:    cfg,
		Metrics:   metrics,
		Response:  NewResponseHelper(),
	}
}

// Root GET /
func (h *Handler) Root(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"message":         "SceneForge Story to Image API",
		"status":          "ready",
		"active_sessions": h.Sessions.Count(),
	})
}

// AnalyzeScript POST /analyze-script
func (h *Handler) AnalyzeScript(c *gin.Context) {
	var req models.ScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.Unprocessable(c, "无效的请求格式: "+err.Error())
		return
	}

	info, err := h.Projects.CreateProject(c.Request.Context(), req)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, info)
}

// GeneratePreviews POST /generate-previews
func (h *Handler) GeneratePreviews(c *gin.Context) {
	var req models.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.Unprocessable(c, "无效的请求格式: "+err.Error())
		return
	}

	started, err := h.Sessions.StartGeneration(c.Request.Context(), req)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, started)
}

// RegenerateScene POST /regenerate-scene
func (h *Handler) RegenerateScene(c *gin.Context) {
	var req models.RegenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.Unprocessable(c, "无效的请求格式: "+err.Error())
		return
	}

	result, err := h.Sessions.Regenerate(c.Request.Context(), req)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, result)
}

// GenerationStatus GET /generation-status/:session_id
func (h *Handler) GenerationStatus(c *gin.Context) {
	session, err := h.Sessions.Status(c.Param("session_id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, session)
}

// ApprovePreviews POST /approve-previews
func (h *Handler) ApprovePreviews(c *gin.Context) {
	var req models.ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.Unprocessable(c, "无效的请求格式: "+err.Error())
		return
	}

	result, err := h.Sessions.Approve(c.Request.Context(), req)
	if err != nil {
		if apperrors.IsProcessingError(err) {
			h.Response.Error(c, http.StatusInternalServerError, ErrorSaveFailed, apperrors.Message(err))
			return
		}
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, result)
}

// DeleteSession DELETE /sessions/:session_id
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.Sessions.Delete(c.Param("session_id")); err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"message": "Session cleaned up"})
}

// ListSessions GET /sessions
func (h *Handler) ListSessions(c *gin.Context) {
	sessions := h.Sessions.List()
	h.Response.Success(c, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// CleanupSessions POST /sessions/cleanup
func (h *Handler) CleanupSessions(c *gin.Context) {
	removed := h.Sessions.Cleanup()
	utils.GetLogger().Info("已清理终止状态的会话", map[string]interface{}{"removed": removed})
	h.Response.Success(c, gin.H{"removed": removed})
}

// ListProjects GET /projects
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.Projects.ListProjects(c.Request.Context())
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"projects": projects})
}

// GetProject GET /projects/:id
func (h *Handler) GetProject(c *gin.Context) {
	detail, err := h.Projects.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, detail)
}

// ProjectImage GET /projects/:id/images/:file
func (h *Handler) ProjectImage(c *gin.Context) {
	path, err := h.Projects.ImagePath(c.Param("id"), c.Param("file"))
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, ErrorFileNotFound, apperrors.Message(err))
			return
		}
		h.Response.HandleError(c, err)
		return
	}
	c.File(path)
}

// GetModels GET /models
func (h *Handler) GetModels(c *gin.Context) {
	aiModels, imageModels := h.Config.ModelLists()
	h.Response.Success(c, gin.H{
		"ai_models":           aiModels,
		"image_models":        imageModels,
		"media_types":         services.MediaTypes(),
		"available_providers": h.Config.Available(),
		"llm_providers":       append([]string{services.FallbackProvider}, h.Prompts.Providers()...),
		"image_providers":     h.Generator.Providers(),
	})
}

// HealthCheck GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	collector := h.Metrics.Collector()
	h.Response.Success(c, gin.H{
		"status":          "healthy",
		"timestamp":       time.Now().Format(time.RFC3339),
		"active_sessions": h.Sessions.Count(),
		"total_projects":  h.Projects.Count(),
		"providers":       h.Config.Available(),
		"metrics": gin.H{
			"sessions_started": collector.GetCounterValue(utils.MetricSessionsStarted),
			"sessions_failed":  collector.GetCounterValue(utils.MetricSessionsFailed),
			"image_success":    collector.GetCounterValue(utils.MetricImageSuccess),
			"image_failure":    collector.GetCounterValue(utils.MetricImageFailure),
			"images_saved":     collector.GetCounterValue(utils.MetricImagesSaved),
		},
		"websocket": h.Hub.GetStatus(),
	})
}

// GetMetrics GET /metrics
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, h.Metrics.Collector().GetMetrics())
}
