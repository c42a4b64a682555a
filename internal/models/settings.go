// internal/models/settings.go
package models

import "strings"

const (
	DefaultAPIURL = "https://chatapi.aisws.com"
	DefaultModel  = "gpt-4-vision-preview"
)

// Settings 用户可编辑的配置，协调器只读
type Settings struct {
	APIURL         string    `json:"apiUrl"`
	APIKey         string    `json:"apiKey"`
	Model          string    `json:"model"`
	CustomModel    string    `json:"customModel,omitempty"`
	ImageMode      ImageMode `json:"imageMode"`
	FeatureEnabled bool      `json:"featureEnabled"`
}

// DefaultSettings 首次安装时的配置
func DefaultSettings() Settings {
	return Settings{
		APIURL:         DefaultAPIURL,
		Model:          DefaultModel,
		ImageMode:      ImageModeURL,
		FeatureEnabled: true,
	}
}

// EffectiveModel 自定义模型优先
func (s Settings) EffectiveModel() string {
	if m := strings.TrimSpace(s.CustomModel); m != "" {
		return m
	}
	if m := strings.TrimSpace(s.Model); m != "" {
		return m
	}
	return DefaultModel
}

// EffectiveImageMode 未设置时按 url 处理
func (s Settings) EffectiveImageMode() ImageMode {
	if s.ImageMode.Valid() {
		return s.ImageMode
	}
	return ImageModeURL
}

// HasAPIKey 是否已配置密钥
func (s Settings) HasAPIKey() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

// MaskedAPIKey 只保留末四位
func (s Settings) MaskedAPIKey() string {
	key := strings.TrimSpace(s.APIKey)
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

// Masked 返回隐藏密钥后的副本，用于对外展示
func (s Settings) Masked() Settings {
	s.APIKey = s.MaskedAPIKey()
	return s
}
