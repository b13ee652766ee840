// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/Corphon/SceneForge/internal/api"
	"github.com/Corphon/SceneForge/internal/config"
	"github.com/Corphon/SceneForge/internal/di"
	"github.com/Corphon/SceneForge/internal/imagegen"
	"github.com/Corphon/SceneForge/internal/services"
	"github.com/Corphon/SceneForge/internal/storage"
	"github.com/Corphon/SceneForge/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	// 注册提供者
	_ "github.com/Corphon/SceneForge/internal/imagegen/providers/pollinations"
	_ "github.com/Corphon/SceneForge/internal/imagegen/providers/runware"
	_ "github.com/Corphon/SceneForge/internal/imagegen/providers/together"
	_ "github.com/Corphon/SceneForge/internal/llm/providers/anthropic"
	_ "github.com/Corphon/SceneForge/internal/llm/providers/gemini"
	_ "github.com/Corphon/SceneForge/internal/llm/providers/openai"
	_ "github.com/Corphon/SceneForge/internal/llm/providers/openrouter"
)

const (
	projectIndexFile      = "projects.db"
	metricsReportSchedule = "@every 5m"
)

// App 组合根：持有配置、容器和HTTP服务器
type App struct {
	Config    *config.Config
	Container *di.Container

	ctx    context.Context
	cancel context.CancelFunc

	index     *storage.ProjectIndex
	sessions  *services.SessionService
	scheduler *cron.Cron
	hub       *api.SessionHub
	router    *gin.Engine
	server    *http.Server
}

// New 创建应用；container 为 nil 时使用全局容器
func New(cfg *config.Config, container *di.Container) *App {
	if container == nil {
		container = di.GetContainer()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		Config:    cfg,
		Container: container,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// InitServices 按依赖顺序创建所有服务并注册到容器
func (a *App) InitServices() error {
	cfg := a.Config
	logger := utils.GetLogger()

	files, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}

	index, err := storage.OpenProjectIndex(filepath.Join(files.BaseDir, projectIndexFile))
	if err != nil {
		return fmt.Errorf("打开项目索引失败: %w", err)
	}
	a.index = index

	// 所有外部调用共用同一个超时
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	metrics := utils.NewPipelineMetrics()

	imageSet, failures := imagegen.NewSet(cfg.Image, client)
	for name, initErr := range failures {
		logger.Warn("图像提供者不可用", map[string]interface{}{
			"provider": name,
			"error":    initErr.Error(),
		})
	}

	prompts := services.NewPromptServiceFromConfig(cfg, client, metrics)
	generator := services.NewGenerationService(imageSet, cfg.MaxRetries, cfg.RetryDelay, metrics)
	approvals := services.NewApprovalService(client, files, index, metrics)
	projects := services.NewProjectService(files, index)

	registry := services.NewSessionRegistry(metrics)

	sessions := services.NewSessionService(a.ctx, registry, projects, prompts, generator, approvals, metrics)
	a.sessions = sessions

	a.hub = api.NewSessionHub(registry)

	a.Container.Register(di.ConfigService, cfg)
	a.Container.Register(di.StorageService, files)
	a.Container.Register(di.IndexService, index)
	a.Container.Register(di.MetricsService, metrics)
	a.Container.Register(di.PromptService, prompts)
	a.Container.Register(di.GenerationService, generator)
	a.Container.Register(di.ApprovalService, approvals)
	a.Container.Register(di.ProjectService, projects)
	a.Container.Register(di.RegistryService, registry)
	a.Container.Register(di.SessionService, sessions)
	a.Container.Register(di.HubService, a.hub)

	logger.Info("服务初始化完成", map[string]interface{}{
		"data_dir":        files.BaseDir,
		"image_providers": imageSet.Names(),
		"llm_providers":   prompts.Providers(),
		"max_retries":     cfg.MaxRetries,
		"retry_delay":     cfg.RetryDelay.String(),
	})
	return nil
}

// schedule 注册周期任务：按保留时长清理会话，调试模式下输出指标
func (a *App) schedule() error {
	registry := di.MustResolve[*services.SessionRegistry](a.Container, di.RegistryService)
	metrics := di.MustResolve[*utils.PipelineMetrics](a.Container, di.MetricsService)
	scheduler := cron.New()

	if retention := a.Config.SessionRetention; retention > 0 {
		spec := "@every " + services.RetentionSweepInterval(retention).String()
		if _, err := scheduler.AddFunc(spec, func() { registry.SweepOlderThan(retention) }); err != nil {
			return fmt.Errorf("注册会话清理任务失败: %w", err)
		}
	}
	if a.Config.DebugMode {
		if _, err := scheduler.AddFunc(metricsReportSchedule, metrics.LogSnapshot); err != nil {
			return fmt.Errorf("注册指标报告任务失败: %w", err)
		}
	}

	scheduler.Start()
	a.scheduler = scheduler
	return nil
}

// Initialize 初始化服务、路由和HTTP服务器
func (a *App) Initialize() error {
	if err := a.InitServices(); err != nil {
		a.release()
		return err
	}
	return a.setupServer()
}

// setupServer 路由就绪后才启动周期任务；任一步失败都释放已打开的资源
func (a *App) setupServer() error {
	router, err := api.SetupRouter(a.ctx, a.Container, a.Config)
	if err != nil {
		a.release()
		return fmt.Errorf("设置路由失败: %w", err)
	}
	if err := a.schedule(); err != nil {
		a.release()
		return err
	}

	a.router = router
	a.server = &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// release 初始化失败时停止后台任务并关闭项目索引
func (a *App) release() {
	a.cancel()
	if a.scheduler != nil {
		<-a.scheduler.Stop().Done()
		a.scheduler = nil
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			log.Printf("⚠️ 关闭项目索引失败: %v", err)
		}
		a.index = nil
	}
}

// Handler 返回HTTP处理器，测试中配合 httptest 使用
func (a *App) Handler() http.Handler {
	return a.router
}

// Run 阻塞运行HTTP服务器，正常关闭时返回 nil
func (a *App) Run() error {
	if a.server == nil {
		return errors.New("应用未初始化")
	}
	log.Printf("🌐 服务器启动在端口 %s", a.Config.Port)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 依次关闭连接、HTTP服务器和后台任务；生成中的会话会被标记为失败
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if a.hub != nil {
		a.hub.Shutdown()
	}
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("关闭HTTP服务器失败: %w", err)
		}
	}

	a.cancel()
	if a.scheduler != nil {
		<-a.scheduler.Stop().Done()
	}

	if a.sessions != nil {
		done := make(chan struct{})
		go func() {
			a.sessions.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			log.Println("⚠️ 等待后台生成任务超时")
		}
	}

	if a.index != nil {
		if err := a.index.Close(); err != nil && shutdownErr == nil {
			shutdownErr = fmt.Errorf("关闭项目索引失败: %w", err)
		}
	}
	return shutdownErr
}
