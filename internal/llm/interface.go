// internal/llm/interface.go
package llm

import (
	"context"
	"errors"
	"sync"
)

// 错误定义
var ErrUnknownProvider = errors.New("未知的AI提供者")

// VisionRequest 单张图片 + 一段提示词
type VisionRequest struct {
	Model      string `json:"model"`
	PromptText string `json:"prompt_text"`
	ImageURL   string `json:"image_url"` // 远程URL 或 data URI
}

// VisionResponse 标准化的分析结果
type VisionResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
}

// Provider 视觉模型提供者
type Provider interface {
	// 初始化提供者，传入配置（api_key / base_url / default_model）
	Initialize(config map[string]string) error

	// 获取提供者名称
	GetName() string

	// 推荐的模型列表
	GetSupportedModels() []string

	// 分析一张图片，只发起一次请求
	AnalyzeImage(ctx context.Context, req VisionRequest) (*VisionResponse, error)
}

// ProviderFactory 提供者工厂
type ProviderFactory func() Provider

var (
	providers   = make(map[string]ProviderFactory)
	providersMu sync.RWMutex
)

// Register 注册提供者工厂
func Register(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// GetProvider 创建并初始化指定名称的提供者实例
func GetProvider(name string, config map[string]string) (Provider, error) {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return nil, ErrUnknownProvider
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, err
	}
	return provider, nil
}

// GetSupportedModelsForProvider 获取指定提供商推荐的模型列表
func GetSupportedModelsForProvider(name string) []string {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return []string{}
	}
	return factory().GetSupportedModels()
}
