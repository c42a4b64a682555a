// internal/models/message.go
package models

import "time"

// MessageType 上下文之间传递的消息类型
type MessageType string

const (
	MsgAnalyzeImage        MessageType = "ANALYZE_IMAGE"
	MsgAnalysisStart       MessageType = "ANALYSIS_START"
	MsgAnalysisResult      MessageType = "ANALYSIS_RESULT"
	MsgAnalysisError       MessageType = "ANALYSIS_ERROR"
	MsgAnalysisComplete    MessageType = "ANALYSIS_COMPLETE"
	MsgFeatureStateChanged MessageType = "FEATURE_STATE_CHANGED"

	// 传输层消息
	MsgConnected MessageType = "connected"
	MsgPing      MessageType = "ping"
	MsgPong      MessageType = "pong"
	MsgError     MessageType = "error"
)

// Directed 定向消息只投递给发起请求的上下文
func (t MessageType) Directed() bool {
	return t == MsgAnalysisComplete
}

// Envelope 消息信封。字段按消息类型选择性填充。
type Envelope struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	ContextID string      `json:"contextId,omitempty"`
	Origin    Origin      `json:"origin,omitempty"`

	// ANALYZE_IMAGE / ANALYSIS_START
	ImageURL string `json:"imageUrl,omitempty"`
	Image    string `json:"image,omitempty"` // popup 提交的 data URI
	Prompt   string `json:"prompt,omitempty"`

	// ANALYSIS_RESULT / ANALYSIS_ERROR / ANALYSIS_COMPLETE
	Data    string `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Success *bool  `json:"success,omitempty"`

	// FEATURE_STATE_CHANGED
	Enabled *bool `json:"enabled,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewEnvelope 创建带时间戳的消息
func NewEnvelope(msgType MessageType) Envelope {
	return Envelope{Type: msgType, Timestamp: time.Now()}
}

// ToRequest 把 ANALYZE_IMAGE 消息转换成分析请求
func (e Envelope) ToRequest() AnalysisRequest {
	source := e.ImageURL
	if e.Image != "" {
		source = e.Image
	}
	origin := e.Origin
	if !origin.Valid() {
		if e.Image != "" {
			origin = OriginPopup
		} else {
			origin = OriginPage
		}
	}
	return AnalysisRequest{
		RequestID:   e.RequestID,
		ImageSource: source,
		PromptText:  e.Prompt,
		Origin:      origin,
		ContextID:   e.ContextID,
	}
}

// BoolPtr 便于构造可选布尔字段
func BoolPtr(v bool) *bool {
	return &v
}
