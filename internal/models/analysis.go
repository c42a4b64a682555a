// internal/models/analysis.go
package models

import "time"

// Origin 分析请求的发起上下文
type Origin string

const (
	OriginPage  Origin = "page"  // 页面悬停按钮
	OriginPopup Origin = "popup" // 弹窗手动提交
)

// Valid 检查来源是否合法
func (o Origin) Valid() bool {
	return o == OriginPage || o == OriginPopup
}

// ImageMode 图片传递方式
type ImageMode string

const (
	ImageModeURL    ImageMode = "url"
	ImageModeBase64 ImageMode = "base64"
)

// Valid 检查图片模式是否合法
func (m ImageMode) Valid() bool {
	return m == ImageModeURL || m == ImageModeBase64
}

// AnalysisRequest 一次图片分析请求，只在调用期间存在
type AnalysisRequest struct {
	RequestID   string `json:"requestId"`
	ImageSource string `json:"imageSource"` // 远程URL 或 data URI
	PromptText  string `json:"promptText,omitempty"`
	Origin      Origin `json:"origin"`
	ContextID   string `json:"contextId,omitempty"` // 发起页面的会话ID，用于回送 ANALYSIS_COMPLETE
}

// AnalysisResult 分析结果，广播给所有上下文
type AnalysisResult struct {
	RequestID    string `json:"requestId"`
	Content      string `json:"content,omitempty"` // markdown
	Succeeded    bool   `json:"succeeded"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorKind    string `json:"errorKind,omitempty"`
	Model        string `json:"model,omitempty"`
}

// AnalysisStatus 协调器记录的分析状态
type AnalysisStatus string

const (
	StatusIdle      AnalysisStatus = "idle"
	StatusAnalyzing AnalysisStatus = "analyzing"
	StatusCompleted AnalysisStatus = "completed"
	StatusFailed    AnalysisStatus = "failed"
)

// AnalysisState 状态与结果作为一条记录整体写入
type AnalysisState struct {
	Status          AnalysisStatus `json:"analysisStatus"`
	RequestID       string         `json:"requestId,omitempty"`
	CurrentImageURL string         `json:"currentImageUrl,omitempty"`
	LastResult      string         `json:"lastAnalysisResult,omitempty"`
	Error           string         `json:"analysisError,omitempty"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// TriggerState 悬停按钮 / 分析按钮的可见状态
type TriggerState string

const (
	TriggerIdle      TriggerState = "idle"
	TriggerAnalyzing TriggerState = "analyzing"
	TriggerSuccess   TriggerState = "success"
	TriggerError     TriggerState = "error"
)

// Label 按钮上显示的文字
func (s TriggerState) Label() string {
	switch s {
	case TriggerAnalyzing:
		return "分析中..."
	case TriggerSuccess:
		return "已分析"
	case TriggerError:
		return "分析失败"
	default:
		return "AI 分析"
	}
}
