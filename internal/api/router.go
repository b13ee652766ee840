// internal/api/router.go
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/Corphon/SceneForge/internal/config"
	"github.com/Corphon/SceneForge/internal/di"
	"github.com/Corphon/SceneForge/internal/services"
	"github.com/Corphon/SceneForge/internal/utils"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置HTTP路由；服务全部从容器获取，ctx 结束时停止限流器清理
func SetupRouter(ctx context.Context, container *di.Container, cfg *config.Config) (*gin.Engine, error) {
	sessions, err := di.Resolve[*services.SessionService](container, di.SessionService)
	if err != nil {
		return nil, fmt.Errorf("会话服务未正确初始化: %w", err)
	}
	projects, err := di.Resolve[*services.ProjectService](container, di.ProjectService)
	if err != nil {
		return nil, fmt.Errorf("项目服务未正确初始化: %w", err)
	}
	prompts, err := di.Resolve[*services.PromptService](container, di.PromptService)
	if err != nil {
		return nil, fmt.Errorf("提示词服务未正确初始化: %w", err)
	}
	generator, err := di.Resolve[*services.GenerationService](container, di.GenerationService)
	if err != nil {
		return nil, fmt.Errorf("图像生成服务未正确初始化: %w", err)
	}
	metrics, err := di.Resolve[*utils.PipelineMetrics](container, di.MetricsService)
	if err != nil {
		return nil, fmt.Errorf("指标服务未正确初始化: %w", err)
	}

	if !container.Has(di.HubService) {
		container.Register(di.HubService, NewSessionHub(sessions.Registry()))
	}
	hub, err := di.Resolve[*SessionHub](container, di.HubService)
	if err != nil {
		return nil, fmt.Errorf("会话推送未正确初始化: %w", err)
	}

	handler := NewHandler(sessions, projects, prompts, generator, hub, cfg, metrics)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(corsMiddleware())
	r.Use(requestIDMiddleware())
	r.Use(metricsMiddleware(metrics))

	limiter := NewRateLimiter(ctx)
	generationLimit := RateLimitByIP(limiter, cfg.RateLimitPerMinute, time.Minute)

	r.GET("/", handler.Root)
	r.GET("/health", handler.HealthCheck)
	r.GET("/models", handler.GetModels)
	r.GET("/metrics", handler.GetMetrics)

	// 脚本与生成流程
	r.POST("/analyze-script", handler.AnalyzeScript)
	r.POST("/generate-previews", generationLimit, handler.GeneratePreviews)
	r.POST("/regenerate-scene", generationLimit, handler.RegenerateScene)
	r.GET("/generation-status/:session_id", handler.GenerationStatus)
	r.POST("/approve-previews", handler.ApprovePreviews)

	// 会话管理
	r.GET("/sessions", handler.ListSessions)
	r.POST("/sessions/cleanup", handler.CleanupSessions)
	r.DELETE("/sessions/:session_id", handler.DeleteSession)

	// 项目
	r.GET("/projects", handler.ListProjects)
	r.GET("/projects/:id", handler.GetProject)
	r.GET("/projects/:id/images/:file", handler.ProjectImage)

	// WebSocket
	r.GET("/ws/sessions/:id", hub.ServeSession)

	return r, nil
}
