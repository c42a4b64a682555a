// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Corphon/HoverLens/internal/api"
	"github.com/Corphon/HoverLens/internal/config"
	"github.com/Corphon/HoverLens/internal/di"
	"github.com/Corphon/HoverLens/internal/imaging"
	"github.com/Corphon/HoverLens/internal/messaging"
	"github.com/Corphon/HoverLens/internal/services"
	"github.com/Corphon/HoverLens/internal/storage"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/gin-gonic/gin"
)

// App 协调器进程：存储、消息代理、服务与 HTTP 服务器
type App struct {
	config    *config.Config
	logger    utils.Logger
	container *di.Container

	areas       *storage.Areas
	broker      *messaging.Broker
	locks       *services.LockManager
	settings    *services.SettingsService
	coordinator *services.CoordinatorService
	wsManager   *api.WebSocketManager
	router      *gin.Engine
	server      *http.Server
}

// New 按依赖顺序初始化所有服务并注册到容器
func New(ctx context.Context, cfg *config.Config, logger utils.Logger, container *di.Container) (*App, error) {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if container == nil {
		container = di.NewContainer()
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	areas, err := storage.OpenAreas(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}

	var secrets *utils.SecretBox
	if cfg.Security.Secret != "" {
		if secrets, err = utils.NewSecretBox(cfg.Security.Secret); err != nil {
			areas.Close()
			return nil, fmt.Errorf("初始化密钥加密失败: %w", err)
		}
	}

	broker := messaging.NewBroker(logger)
	locks := services.NewLockManager()

	settingsService := services.NewSettingsService(areas.Sync, broker, secrets, locks, logger)
	promptService := services.NewPromptService(areas.Sync, locks, logger)
	sessionService := services.NewSessionService(areas.Local, logger)
	visionService := services.NewVisionService(services.DefaultProviderName, cfg.Analysis.Timeout, logger)
	settingsService.SubscribeToChanges(visionService)

	coordinator := services.NewCoordinatorService(services.CoordinatorDeps{
		Settings:  settingsService,
		Prompts:   promptService,
		Session:   sessionService,
		Vision:    visionService,
		Fetcher:   imaging.NewFetcherFromConfig(cfg),
		Publisher: broker,
		Logger:    logger,
		Timeout:   cfg.Analysis.Timeout,
	})

	if err := settingsService.EnsureDefaults(ctx); err != nil {
		locks.Stop()
		areas.Close()
		return nil, fmt.Errorf("写入默认配置失败: %w", err)
	}
	if _, err := promptService.EnsureDefaults(ctx); err != nil {
		locks.Stop()
		areas.Close()
		return nil, fmt.Errorf("写入默认提示词失败: %w", err)
	}

	wsManager := api.NewWebSocketManager(broker, logger)

	container.Register(di.Config, cfg)
	container.Register(di.Logger, logger)
	container.Register(di.Areas, areas)
	container.Register(di.Broker, broker)
	container.Register(di.Settings, settingsService)
	container.Register(di.Prompts, promptService)
	container.Register(di.Session, sessionService)
	container.Register(di.Vision, visionService)
	container.Register(di.Coordinator, coordinator)
	container.Register(di.WebSockets, wsManager)

	router, err := api.SetupRouter(container)
	if err != nil {
		wsManager.Shutdown()
		locks.Stop()
		areas.Close()
		return nil, fmt.Errorf("设置路由失败: %w", err)
	}

	return &App{
		config:      cfg,
		logger:      logger,
		container:   container,
		areas:       areas,
		broker:      broker,
		locks:       locks,
		settings:    settingsService,
		coordinator: coordinator,
		wsManager:   wsManager,
		router:      router,
		server: &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Router 返回 HTTP 处理器
func (a *App) Router() http.Handler {
	return a.router
}

// Container 返回服务容器
func (a *App) Container() *di.Container {
	return a.container
}

// Run 启动 HTTP 服务器，直到 ctx 结束或服务器出错
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("🌐 服务器启动", map[string]interface{}{"addr": a.server.Addr, "store": a.areas.Backend})
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("启动服务器失败: %w", err)
		}
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Shutdown 依次停止接收请求、断开 WebSocket、等待进行中的分析、关闭存储
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("🛑 正在关闭服务器...", nil)

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("关闭HTTP服务器失败: %w", err))
	}
	// 被劫持的 WebSocket 连接不受 server.Shutdown 管理，先断开才不会再提交分析
	a.wsManager.Shutdown()
	if err := a.coordinator.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("等待分析结束超时: %w", err))
	}
	a.settings.UnsubscribeFromChanges(a.coordinator.Vision())
	a.broker.Close()
	a.locks.Stop()
	if err := a.areas.Close(); err != nil {
		errs = append(errs, fmt.Errorf("关闭存储失败: %w", err))
	}

	if len(errs) == 0 {
		a.logger.Info("✅ 服务器优雅关闭完成", nil)
	}
	return errors.Join(errs...)
}
