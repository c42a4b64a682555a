// cmd/server/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Corphon/HoverLens/internal/app"
	"github.com/Corphon/HoverLens/internal/config"
	"github.com/Corphon/HoverLens/internal/di"
	"github.com/Corphon/HoverLens/internal/utils"
)

func main() {
	log.Println("🚀 启动 HoverLens 协调器...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 2. 初始化日志
	logger, err := utils.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()
	logger.Info("✅ 配置加载完成", map[string]interface{}{
		"port":         cfg.Server.Port,
		"store":        cfg.Store.Backend,
		"require_auth": cfg.Security.RequireAuth,
	})

	// 3. 初始化所有服务（按依赖顺序）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container := di.GetContainer()
	application, err := app.New(ctx, cfg, logger, container)
	if err != nil {
		logger.Error("❌ 初始化服务失败", map[string]interface{}{"error": err})
		os.Exit(1)
	}
	logger.Info("✅ 所有服务初始化完成", map[string]interface{}{"services": container.GetNames()})
	logger.Info("🔗 访问地址", map[string]interface{}{"url": "http://localhost:" + cfg.Server.Port + "/api/health"})

	// 4. 运行直到收到中断信号
	runErr := application.Run(ctx)
	if runErr != nil {
		logger.Error("❌ 服务器异常退出", map[string]interface{}{"error": runErr})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("❌ 服务器强制关闭", map[string]interface{}{"error": err})
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
