// cmd/server/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Corphon/SceneForge/internal/app"
	"github.com/Corphon/SceneForge/internal/config"
	"github.com/Corphon/SceneForge/internal/di"
	"github.com/Corphon/SceneForge/internal/utils"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("🚀 启动 SceneForge 服务器...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 配置加载完成，端口: %s，数据目录: %s", cfg.Port, cfg.DataDir)

	// 2. 日志文件
	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "app.log")); err != nil {
		log.Printf("⚠️ 无法打开日志文件，仅输出到控制台: %v", err)
	}
	defer utils.CloseLogger()
	if cfg.DebugMode {
		utils.GetLogger().SetLogLevel(utils.DEBUG)
	}

	// 3. 初始化服务与路由
	application := app.New(cfg, di.GetContainer())
	if err := application.Initialize(); err != nil {
		log.Fatalf("❌ 初始化失败: %v", err)
	}
	log.Printf("✅ 所有服务初始化完成，服务数量: %d", len(application.Container.GetNames()))
	log.Printf("🔗 访问地址: http://localhost:%s", cfg.Port)

	// 4. 启动服务器
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- application.Run()
	}()

	// 等待中断信号以进行优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			log.Printf("❌ 服务器异常退出: %v", err)
		}
	}

	log.Println("🛑 正在关闭服务器...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		log.Printf("❌ 关闭过程出错: %v", err)
		return
	}
	log.Println("✅ 服务器优雅关闭完成")
}
