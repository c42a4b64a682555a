// internal/services/vision_service.go
package services

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/llm"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/utils"

	// 注册 OpenAI 兼容提供者
	_ "github.com/Corphon/HoverLens/internal/llm/providers/openai"
)

// DefaultProviderName 默认使用 OpenAI 兼容协议
const DefaultProviderName = "openai"

// VisionService 按当前配置持有一个提供者实例，配置变化后重建
type VisionService struct {
	providerName string
	timeout      time.Duration
	logger       utils.Logger

	providerMutex sync.RWMutex
	provider      llm.Provider
	providerKey   string
	readyState    string
}

// NewVisionService 创建视觉模型服务
func NewVisionService(providerName string, timeout time.Duration, logger utils.Logger) *VisionService {
	if providerName == "" {
		providerName = DefaultProviderName
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &VisionService{
		providerName: providerName,
		timeout:      timeout,
		logger:       logger,
		readyState:   "Uninitialized",
	}
}

func providerKey(settings models.Settings) string {
	return llm.NormalizeBaseURL(settings.APIURL) + "\x00" + settings.APIKey
}

// providerFor 返回与配置匹配的提供者，必要时重新初始化
func (s *VisionService) providerFor(settings models.Settings) (llm.Provider, error) {
	key := providerKey(settings)

	s.providerMutex.RLock()
	if s.provider != nil && s.providerKey == key {
		p := s.provider
		s.providerMutex.RUnlock()
		return p, nil
	}
	s.providerMutex.RUnlock()

	cfg := map[string]string{
		"api_key":       settings.APIKey,
		"base_url":      settings.APIURL,
		"default_model": settings.EffectiveModel(),
	}
	if s.timeout > 0 {
		cfg["timeout"] = s.timeout.String()
	}

	provider, err := llm.GetProvider(s.providerName, cfg)
	if err != nil {
		s.providerMutex.Lock()
		s.provider = nil
		s.providerKey = ""
		s.readyState = "Configuration failed: " + err.Error()
		s.providerMutex.Unlock()
		return nil, err
	}

	s.providerMutex.Lock()
	s.provider = provider
	s.providerKey = key
	s.readyState = "Ready"
	s.providerMutex.Unlock()

	s.logger.Debug("视觉模型提供者已初始化", map[string]interface{}{
		"provider": s.providerName,
		"base_url": llm.NormalizeBaseURL(settings.APIURL),
	})
	return provider, nil
}

// Analyze 调用一次视觉模型
func (s *VisionService) Analyze(ctx context.Context, settings models.Settings, prompt, imageURL string) (*llm.VisionResponse, error) {
	if !settings.HasAPIKey() {
		return nil, apperrors.NewConfigurationError(apperrors.MsgMissingAPIKey)
	}

	provider, err := s.providerFor(settings)
	if err != nil {
		return nil, err
	}

	return provider.AnalyzeImage(ctx, llm.VisionRequest{
		Model:      settings.EffectiveModel(),
		PromptText: prompt,
		ImageURL:   imageURL,
	})
}

// OnSettingsChanged 配置变化后丢弃缓存的提供者
func (s *VisionService) OnSettingsChanged(_, _ models.Settings) {
	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()
	s.provider = nil
	s.providerKey = ""
	s.readyState = "Waiting for initialization"
}

// GetProviderStatus 返回是否已有可用实例以及描述
func (s *VisionService) GetProviderStatus() (bool, string) {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil, s.readyState
}

// GetProviderName 当前使用的提供者
func (s *VisionService) GetProviderName() string {
	return s.providerName
}

// SupportedModels 推荐模型列表
func (s *VisionService) SupportedModels() []string {
	return llm.GetSupportedModelsForProvider(s.providerName)
}
