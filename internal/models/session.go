// internal/models/session.go
package models

// 存储键
const (
	KeySettings      = "settings"
	KeyPromptCatalog = "prompts"
	KeyAnalysisState = "analysisState"
	KeyLastImageData = "lastImageData"
	KeyLastResult    = "lastAnalysisResult"
	KeyIsAnalyzing   = "isAnalyzing"
	KeyPopupRequest  = "popupRequestId"
)

// PopupSnapshot 弹窗关闭后用于恢复的数据
type PopupSnapshot struct {
	LastImageData      string `json:"lastImageData,omitempty"`
	LastAnalysisResult string `json:"lastAnalysisResult,omitempty"`
	IsAnalyzing        bool   `json:"isAnalyzing"`
	RequestID          string `json:"requestId,omitempty"`
}

// Empty 没有任何可恢复内容
func (p PopupSnapshot) Empty() bool {
	return p.LastImageData == "" && p.LastAnalysisResult == "" && !p.IsAnalyzing && p.RequestID == ""
}

// PopupPatch 弹窗缓存的部分更新；指向空字符串表示删除该键
type PopupPatch struct {
	LastImageData      *string `json:"lastImageData,omitempty"`
	LastAnalysisResult *string `json:"lastAnalysisResult,omitempty"`
	IsAnalyzing        *bool   `json:"isAnalyzing,omitempty"`
	// RequestID 弹窗缓存当前归属的分析请求
	RequestID *string `json:"requestId,omitempty"`
}
