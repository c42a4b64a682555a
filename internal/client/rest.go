// internal/client/rest.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/services"
)

const defaultTimeout = 30 * time.Second

// APIError 协调器返回的错误响应
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// envelope 统一响应格式
type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *APIError       `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Health GET /api/health
type Health struct {
	Status        string `json:"status"`
	Store         string `json:"store"`
	Provider      string `json:"provider"`
	ProviderReady bool   `json:"provider_ready"`
	Connections   int    `json:"connections"`
}

// Session GET /api/session
type Session struct {
	State models.AnalysisState `json:"state"`
	Popup models.PopupSnapshot `json:"popup"`
}

// AnalyzeInput POST /api/analyze
type AnalyzeInput struct {
	RequestID string        `json:"requestId,omitempty"`
	ImageURL  string        `json:"imageUrl,omitempty"`
	Image     string        `json:"image,omitempty"`
	Prompt    string        `json:"prompt,omitempty"`
	Origin    models.Origin `json:"origin,omitempty"`
	ContextID string        `json:"contextId,omitempty"`
}

// REST 协调器 HTTP 接口的客户端
type REST struct {
	baseURL string
	http    *http.Client
	token   string
}

// Option REST 选项
type Option func(*REST)

// WithHTTPClient 替换底层 http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(r *REST) { r.http = c }
}

// WithToken 请求携带 Bearer 令牌
func WithToken(token string) Option {
	return func(r *REST) { r.token = token }
}

// NewREST baseURL 形如 http://localhost:8080
func NewREST(baseURL string, opts ...Option) *REST {
	r := &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BaseURL 协调器地址
func (r *REST) BaseURL() string {
	return r.baseURL
}

// Token 当前令牌
func (r *REST) Token() string {
	return r.token
}

func (r *REST) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("无法连接协调器: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("解析响应失败 (HTTP %d): %w", resp.StatusCode, err)
	}
	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &APIError{Code: "UNKNOWN", Message: resp.Status}
		}
		apiErr.Status = resp.StatusCode
		apiErr.RequestID = env.RequestID
		return apiErr
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("解析响应数据失败: %w", err)
	}
	return nil
}

// ===============================
// 设置
// ===============================

// Settings 读取配置（密钥已隐藏）
func (r *REST) Settings(ctx context.Context) (models.Settings, error) {
	var s models.Settings
	err := r.do(ctx, http.MethodGet, "/api/settings", nil, &s)
	return s, err
}

// UpdateSettings 部分更新配置
func (r *REST) UpdateSettings(ctx context.Context, patch services.SettingsPatch) (models.Settings, error) {
	var s models.Settings
	err := r.do(ctx, http.MethodPut, "/api/settings", patch, &s)
	return s, err
}

// SetFeature 开关悬停分析
func (r *REST) SetFeature(ctx context.Context, enabled bool) (bool, error) {
	var out struct {
		Enabled bool `json:"enabled"`
	}
	err := r.do(ctx, http.MethodPut, "/api/settings/feature", map[string]bool{"enabled": enabled}, &out)
	return out.Enabled, err
}

// SettingsHistory 最近的配置变更，limit 为 0 时返回全部
func (r *REST) SettingsHistory(ctx context.Context, limit int) ([]services.SettingsChangeRecord, error) {
	var records []services.SettingsChangeRecord
	err := r.do(ctx, http.MethodGet, "/api/settings/history?limit="+strconv.Itoa(limit), nil, &records)
	return records, err
}

// ===============================
// 提示词
// ===============================

// Prompts 全部模板与当前选择
func (r *REST) Prompts(ctx context.Context) (models.PromptCatalog, error) {
	var c models.PromptCatalog
	err := r.do(ctx, http.MethodGet, "/api/prompts", nil, &c)
	return c, err
}

// CurrentPrompt 当前提示词文本，可直接作为 PromptSource
func (r *REST) CurrentPrompt(ctx context.Context) (string, error) {
	c, err := r.Prompts(ctx)
	if err != nil {
		return "", err
	}
	return c.CurrentText, nil
}

// CreatePrompt 新建模板
func (r *REST) CreatePrompt(ctx context.Context, name, text string) (models.PromptTemplate, error) {
	var t models.PromptTemplate
	err := r.do(ctx, http.MethodPost, "/api/prompts", map[string]string{"name": name, "text": text}, &t)
	return t, err
}

// UpdatePrompt 修改模板
func (r *REST) UpdatePrompt(ctx context.Context, id, name, text string) (models.PromptTemplate, error) {
	var t models.PromptTemplate
	err := r.do(ctx, http.MethodPut, "/api/prompts/"+url.PathEscape(id), map[string]string{"name": name, "text": text}, &t)
	return t, err
}

// DeletePrompt 删除模板
func (r *REST) DeletePrompt(ctx context.Context, id string) (models.PromptCatalog, error) {
	var c models.PromptCatalog
	err := r.do(ctx, http.MethodDelete, "/api/prompts/"+url.PathEscape(id), nil, &c)
	return c, err
}

// SelectPrompt 切换当前模板
func (r *REST) SelectPrompt(ctx context.Context, id string) (models.PromptCatalog, error) {
	var c models.PromptCatalog
	err := r.do(ctx, http.MethodPost, "/api/prompts/"+url.PathEscape(id)+"/select", nil, &c)
	return c, err
}

// ===============================
// 分析与会话
// ===============================

// Analyze 同步分析，返回最终结果
func (r *REST) Analyze(ctx context.Context, in AnalyzeInput) (models.AnalysisResult, error) {
	var res models.AnalysisResult
	err := r.do(ctx, http.MethodPost, "/api/analyze", in, &res)
	return res, err
}

// Session 分析状态与弹窗缓存
func (r *REST) Session(ctx context.Context) (Session, error) {
	var s Session
	err := r.do(ctx, http.MethodGet, "/api/session", nil, &s)
	return s, err
}

// PopupSnapshot 实现 presenter.PopupStore
func (r *REST) PopupSnapshot(ctx context.Context) (models.PopupSnapshot, error) {
	s, err := r.Session(ctx)
	return s.Popup, err
}

// UpdatePopup 实现 presenter.PopupStore
func (r *REST) UpdatePopup(ctx context.Context, patch models.PopupPatch) error {
	return r.do(ctx, http.MethodPatch, "/api/session/popup", patch, nil)
}

// ClearPopup 实现 presenter.PopupStore
func (r *REST) ClearPopup(ctx context.Context) error {
	return r.do(ctx, http.MethodDelete, "/api/session", nil, nil)
}

// Health 健康检查
func (r *REST) Health(ctx context.Context) (Health, error) {
	var h Health
	err := r.do(ctx, http.MethodGet, "/api/health", nil, &h)
	return h, err
}
