// internal/api/handlers.go
package api

import (
	"errors"
	"net/http"
	"strconv"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/services"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	SettingsService    *services.SettingsService    // 用户配置
	PromptService      *services.PromptService      // 提示词模板
	SessionService     *services.SessionService     // 分析状态与弹窗缓存
	CoordinatorService *services.CoordinatorService // 分析协调器
	WebSocketManager   *WebSocketManager            // WebSocket 连接
	Response           *ResponseHelper              // 响应助手
	StoreBackend       string
}

// FeatureRequest 开关悬停分析
type FeatureRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// PromptRequest 新建或修改提示词
type PromptRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// AnalyzeRequest 同步分析请求
type AnalyzeRequest struct {
	RequestID string        `json:"requestId"`
	ImageURL  string        `json:"imageUrl"`
	Image     string        `json:"image"`
	Prompt    string        `json:"prompt"`
	Origin    models.Origin `json:"origin"`
	ContextID string        `json:"contextId"`
}

// SessionView GET /session 的响应
type SessionView struct {
	State models.AnalysisState `json:"state"`
	Popup models.PopupSnapshot `json:"popup"`
}

// HealthView GET /health 的响应
type HealthView struct {
	Status        string `json:"status"`
	Store         string `json:"store"`
	Provider      string `json:"provider"`
	ProviderReady bool   `json:"provider_ready"`
	Connections   int    `json:"connections"`
}

// ===============================
// 设置
// ===============================

// GetSettings 返回隐藏密钥后的配置
func (h *Handler) GetSettings(c *gin.Context) {
	settings, err := h.SettingsService.Get(c.Request.Context())
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, settings.Masked())
}

// UpdateSettings 部分更新配置
func (h *Handler) UpdateSettings(c *gin.Context) {
	var patch services.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	settings, err := h.SettingsService.Update(c.Request.Context(), patch)
	if err != nil {
		if apperrors.IsValidationError(err) {
			h.Response.FromError(c, err, ErrorSettingsInvalid)
			return
		}
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, settings.Masked(), "设置已保存")
}

// GetSettingsHistory 最近的配置变更，limit 缺省为 20，0 表示全部
func (h *Handler) GetSettingsHistory(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.Response.BadRequest(c, "limit 必须是非负整数", raw)
			return
		}
		limit = n
	}
	h.Response.Success(c, h.SettingsService.GetChangeHistory(limit))
}

// SetFeature 开关悬停分析
func (h *Handler) SetFeature(c *gin.Context) {
	var req FeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "缺少 enabled 字段", err.Error())
		return
	}

	settings, err := h.SettingsService.SetFeatureEnabled(c.Request.Context(), *req.Enabled)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"enabled": settings.FeatureEnabled})
}

// ===============================
// 提示词
// ===============================

// ListPrompts 返回全部模板与当前选择
func (h *Handler) ListPrompts(c *gin.Context) {
	catalog, err := h.PromptService.List(c.Request.Context())
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, catalog)
}

// CreatePrompt 新建模板
func (h *Handler) CreatePrompt(c *gin.Context) {
	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	tpl, err := h.PromptService.Create(c.Request.Context(), req.Name, req.Text)
	if err != nil {
		h.promptError(c, err)
		return
	}
	h.Response.Created(c, tpl, "提示词已创建")
}

// UpdatePrompt 修改模板
func (h *Handler) UpdatePrompt(c *gin.Context) {
	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	tpl, err := h.PromptService.Update(c.Request.Context(), c.Param("id"), req.Name, req.Text)
	if err != nil {
		h.promptError(c, err)
		return
	}
	h.Response.Success(c, tpl, "提示词已保存")
}

// DeletePrompt 删除模板
func (h *Handler) DeletePrompt(c *gin.Context) {
	catalog, err := h.PromptService.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.promptError(c, err)
		return
	}
	h.Response.Success(c, catalog, "提示词已删除")
}

// SelectPrompt 切换当前模板
func (h *Handler) SelectPrompt(c *gin.Context) {
	catalog, err := h.PromptService.Select(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.promptError(c, err)
		return
	}
	h.Response.Success(c, catalog)
}

// promptError 提示词相关错误使用更具体的错误代码
func (h *Handler) promptError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		h.Response.FromError(c, err)
		return
	}

	switch {
	case appErr.Type == apperrors.ErrorTypeNotFound:
		h.Response.FromError(c, err, ErrorPromptNotFound)
	case appErr.Type == apperrors.ErrorTypeValidation:
		h.Response.FromError(c, err, ErrorPromptInvalid)
	case appErr.Message == services.MsgKeepOnePrompt:
		h.Response.FromError(c, err, ErrorPromptLastOne)
	case appErr.Message == services.MsgDefaultPromptLocked:
		h.Response.FromError(c, err, ErrorPromptLocked)
	default:
		h.Response.FromError(c, err)
	}
}

// ===============================
// 分析
// ===============================

// Analyze 同步执行一次分析并返回结果
func (h *Handler) Analyze(c *gin.Context) {
	var body AnalyzeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}
	if body.Origin != "" && !body.Origin.Valid() {
		h.Response.Error(c, http.StatusBadRequest, ErrorImageInvalid, "无效的请求来源", string(body.Origin))
		return
	}

	env := models.Envelope{
		Type:      models.MsgAnalyzeImage,
		RequestID: body.RequestID,
		ContextID: body.ContextID,
		Origin:    body.Origin,
		ImageURL:  body.ImageURL,
		Image:     body.Image,
		Prompt:    body.Prompt,
	}

	result, err := h.CoordinatorService.Analyze(c.Request.Context(), env.ToRequest())
	if err != nil {
		if apperrors.IsValidationError(err) {
			h.Response.FromError(c, err, ErrorImageInvalid)
			return
		}
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, result)
}

// ===============================
// 会话
// ===============================

// GetSession 返回分析状态与弹窗缓存
func (h *Handler) GetSession(c *gin.Context) {
	ctx := c.Request.Context()
	state, err := h.SessionService.State(ctx)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	popup, err := h.SessionService.PopupSnapshot(ctx)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, SessionView{State: state, Popup: popup})
}

// ClearSession 清除弹窗缓存
func (h *Handler) ClearSession(c *gin.Context) {
	if err := h.SessionService.ClearPopup(c.Request.Context()); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, nil, "会话缓存已清除")
}

// PatchPopup 部分更新弹窗缓存
func (h *Handler) PatchPopup(c *gin.Context) {
	var patch models.PopupPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	ctx := c.Request.Context()
	if err := h.SessionService.UpdatePopup(ctx, patch); err != nil {
		h.Response.FromError(c, err)
		return
	}
	snapshot, err := h.SessionService.PopupSnapshot(ctx)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, snapshot)
}

// ===============================
// 运维
// ===============================

// GetWebSocketStatus 连接统计
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	h.Response.Success(c, h.WebSocketManager.GetStatus())
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	vision := h.CoordinatorService.Vision()
	ready, _ := vision.GetProviderStatus()
	h.Response.Success(c, HealthView{
		Status:        "ok",
		Store:         h.StoreBackend,
		Provider:      vision.GetProviderName(),
		ProviderReady: ready,
		Connections:   h.WebSocketManager.Count(),
	})
}
