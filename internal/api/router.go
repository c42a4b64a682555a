// internal/api/router.go
package api

import (
	"fmt"
	"time"

	"github.com/Corphon/HoverLens/internal/auth"
	"github.com/Corphon/HoverLens/internal/config"
	"github.com/Corphon/HoverLens/internal/di"
	"github.com/Corphon/HoverLens/internal/services"
	"github.com/Corphon/HoverLens/internal/storage"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 配置HTTP路由，所需服务全部从容器获取
func SetupRouter(container *di.Container) (*gin.Engine, error) {
	cfg, err := di.Resolve[*config.Config](container, di.Config)
	if err != nil {
		return nil, fmt.Errorf("配置未正确初始化: %w", err)
	}
	logger, err := di.Resolve[utils.Logger](container, di.Logger)
	if err != nil {
		logger = utils.GetLogger()
	}
	areas, err := di.Resolve[*storage.Areas](container, di.Areas)
	if err != nil {
		return nil, fmt.Errorf("存储未正确初始化: %w", err)
	}
	settingsService, err := di.Resolve[*services.SettingsService](container, di.Settings)
	if err != nil {
		return nil, fmt.Errorf("配置服务未正确初始化: %w", err)
	}
	promptService, err := di.Resolve[*services.PromptService](container, di.Prompts)
	if err != nil {
		return nil, fmt.Errorf("提示词服务未正确初始化: %w", err)
	}
	sessionService, err := di.Resolve[*services.SessionService](container, di.Session)
	if err != nil {
		return nil, fmt.Errorf("会话服务未正确初始化: %w", err)
	}
	coordinator, err := di.Resolve[*services.CoordinatorService](container, di.Coordinator)
	if err != nil {
		return nil, fmt.Errorf("协调器未正确初始化: %w", err)
	}
	wsManager, err := di.Resolve[*WebSocketManager](container, di.WebSockets)
	if err != nil {
		return nil, fmt.Errorf("WebSocket 管理器未正确初始化: %w", err)
	}

	handler := &Handler{
		SettingsService:    settingsService,
		PromptService:      promptService,
		SessionService:     sessionService,
		CoordinatorService: coordinator,
		WebSocketManager:   wsManager,
		Response:           NewResponseHelper(),
		StoreBackend:       areas.Backend,
	}
	origins := NewOriginPolicy(cfg.Server.AllowedOrigins)
	wsHandler := NewWebSocketHandler(wsManager, coordinator, origins, logger)

	if !cfg.Server.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger))
	r.Use(corsMiddleware(origins))

	var tokenConfig *auth.TokenConfig
	if cfg.Security.RequireAuth {
		tokenConfig = auth.NewTokenConfig(cfg.Security.Secret, cfg.Security.TokenTTL)
		if tokenConfig == nil {
			return nil, fmt.Errorf("启用访问令牌时必须设置签名口令")
		}
	}
	requireToken := AuthMiddleware(tokenConfig, logger)

	// WebSocket 支持
	r.GET("/ws/:context", requireToken, wsHandler.Connect)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(RateLimitByIP(NewRateLimiter(cfg.Server.RatePerMinute, time.Minute)), requireToken)
	{
		// ===============================
		// 设置相关路由
		// ===============================
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.PUT("", handler.UpdateSettings)
			settingsGroup.PUT("/feature", handler.SetFeature)
			settingsGroup.GET("/history", handler.GetSettingsHistory)
		}

		// ===============================
		// 提示词相关路由
		// ===============================
		promptsGroup := api.Group("/prompts")
		{
			promptsGroup.GET("", handler.ListPrompts)
			promptsGroup.POST("", handler.CreatePrompt)
			promptsGroup.PUT("/:id", handler.UpdatePrompt)
			promptsGroup.DELETE("/:id", handler.DeletePrompt)
			promptsGroup.POST("/:id/select", handler.SelectPrompt)
		}

		// ===============================
		// 分析和会话
		// ===============================
		api.POST("/analyze", handler.Analyze)

		sessionGroup := api.Group("/session")
		{
			sessionGroup.GET("", handler.GetSession)
			sessionGroup.DELETE("", handler.ClearSession)
			sessionGroup.PATCH("/popup", handler.PatchPopup)
		}

		// ===============================
		// 运维
		// ===============================
		api.GET("/ws/status", handler.GetWebSocketStatus)
		api.GET("/health", handler.Health)
		api.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	return r, nil
}
