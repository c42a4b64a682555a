// internal/models/prompt.go
package models

// DefaultPromptID 默认提示词不可删除
const DefaultPromptID = "default"

// FallbackPromptText 没有任何可用提示词时使用
const FallbackPromptText = "请全面分析这张图片的内容。首先，描述图片中出现的主要元素，如人物、动物、物品等。接着，解释这些元素之间的关系以及它们在整体画面中的布局和互动。最后，总结图片传达的主要信息或主题。请用中文回复。"

// PromptTemplate 提示词模板
type PromptTemplate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// PromptCatalog 有序的提示词集合与当前选择
type PromptCatalog struct {
	Templates   []PromptTemplate `json:"prompts"`
	CurrentID   string           `json:"currentPrompt"`
	CurrentText string           `json:"currentPromptText"`
}

// DefaultPrompts 安装时写入一次
func DefaultPrompts() []PromptTemplate {
	return []PromptTemplate{
		{ID: DefaultPromptID, Name: "全面分析", Text: FallbackPromptText},
		{ID: "describe", Name: "简要描述", Text: "请用两三句话简要描述这张图片的内容。"},
		{ID: "ocr", Name: "文字识别", Text: "请识别并完整输出图片中的所有文字，保持原有的段落和排版顺序。"},
		{ID: "art", Name: "艺术赏析", Text: "请从构图、色彩、光影和风格几个方面赏析这张图片，并给出整体评价。"},
		{ID: "translate", Name: "翻译图中文字", Text: "请识别图片中的文字并翻译成中文，以原文和译文对照的形式输出。"},
	}
}
