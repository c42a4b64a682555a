// internal/services/settings_service.go
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/messaging"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/storage"
	"github.com/Corphon/HoverLens/internal/utils"
)

// SettingsService 管理用户配置（sync 区域）
type SettingsService struct {
	store     storage.Store
	publisher messaging.Publisher
	secrets   *utils.SecretBox
	locks     *LockManager
	logger    utils.Logger

	// 配置变更事件订阅者
	subscribers []SettingsChangeSubscriber

	// 配置历史记录
	changeHistory []SettingsChangeRecord

	mu sync.RWMutex
}

// SettingsChangeSubscriber 配置变更订阅者接口
type SettingsChangeSubscriber interface {
	OnSettingsChanged(oldSettings, newSettings models.Settings)
}

// SettingsChangeRecord 配置变更记录，密钥只记录掩码
type SettingsChangeRecord struct {
	Timestamp time.Time   `json:"timestamp"`
	Field     string      `json:"field"`
	OldValue  interface{} `json:"old_value"`
	NewValue  interface{} `json:"new_value"`
}

// SettingsPatch 部分更新，nil 字段保持不变
type SettingsPatch struct {
	APIURL         *string           `json:"apiUrl,omitempty"`
	APIKey         *string           `json:"apiKey,omitempty"`
	Model          *string           `json:"model,omitempty"`
	CustomModel    *string           `json:"customModel,omitempty"`
	ImageMode      *models.ImageMode `json:"imageMode,omitempty"`
	FeatureEnabled *bool             `json:"featureEnabled,omitempty"`
}

// Apply 把补丁应用到配置副本
func (p SettingsPatch) Apply(s models.Settings) models.Settings {
	if p.APIURL != nil {
		s.APIURL = *p.APIURL
	}
	if p.APIKey != nil {
		s.APIKey = *p.APIKey
	}
	if p.Model != nil {
		s.Model = *p.Model
	}
	if p.CustomModel != nil {
		s.CustomModel = *p.CustomModel
	}
	if p.ImageMode != nil {
		s.ImageMode = *p.ImageMode
	}
	if p.FeatureEnabled != nil {
		s.FeatureEnabled = *p.FeatureEnabled
	}
	return s
}

// NewSettingsService 创建配置服务；secrets 为 nil 时密钥明文保存。
// locks 由调用方创建并负责 Stop
func NewSettingsService(store storage.Store, publisher messaging.Publisher, secrets *utils.SecretBox, locks *LockManager, logger utils.Logger) *SettingsService {
	if locks == nil {
		panic("services: NewSettingsService 需要 LockManager")
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &SettingsService{
		store:         store,
		publisher:     publisher,
		secrets:       secrets,
		locks:         locks,
		logger:        logger,
		subscribers:   make([]SettingsChangeSubscriber, 0),
		changeHistory: make([]SettingsChangeRecord, 0, 100),
	}
}

// EnsureDefaults 首次启动时写入默认配置
func (s *SettingsService) EnsureDefaults(ctx context.Context) error {
	return s.locks.ExecuteWithLock(models.KeySettings, func() error {
		var existing models.Settings
		err := s.store.Get(ctx, models.KeySettings, &existing)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return apperrors.WrapError(err, "读取配置失败", apperrors.ErrorTypeError)
		}

		s.logger.Info("写入默认配置", map[string]interface{}{
			"image_mode":      models.ImageModeURL,
			"feature_enabled": true,
		})
		return s.store.Set(ctx, models.KeySettings, models.DefaultSettings())
	})
}

// Get 返回存储中的配置，缺失字段使用默认值
func (s *SettingsService) Get(ctx context.Context) (models.Settings, error) {
	settings, err := s.load(ctx)
	if err != nil {
		return settings, err
	}
	return s.open(settings)
}

// load 读取原始记录，APIKey 保持存储时的形式
func (s *SettingsService) load(ctx context.Context) (models.Settings, error) {
	settings := models.DefaultSettings()
	err := s.store.Get(ctx, models.KeySettings, &settings)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return settings, apperrors.WrapError(err, "读取配置失败", apperrors.ErrorTypeError)
	}
	return settings, nil
}

func (s *SettingsService) open(settings models.Settings) (models.Settings, error) {
	key, err := s.secrets.Open(settings.APIKey)
	if err != nil {
		return settings, apperrors.NewConfigurationError("无法解密 API Key，请检查 security.secret")
	}
	settings.APIKey = key
	return settings, nil
}

// Save 整体保存配置
func (s *SettingsService) Save(ctx context.Context, settings models.Settings) (models.Settings, error) {
	return s.Update(ctx, SettingsPatch{
		APIURL:         &settings.APIURL,
		APIKey:         &settings.APIKey,
		Model:          &settings.Model,
		CustomModel:    &settings.CustomModel,
		ImageMode:      &settings.ImageMode,
		FeatureEnabled: &settings.FeatureEnabled,
	})
}

// SetFeatureEnabled 开关悬停分析
func (s *SettingsService) SetFeatureEnabled(ctx context.Context, enabled bool) (models.Settings, error) {
	return s.Update(ctx, SettingsPatch{FeatureEnabled: &enabled})
}

// Update 部分更新配置；开关变化时通知所有页面。
// 补丁带新密钥时不解密旧值，security.secret 更换后仍能重新写入密钥
func (s *SettingsService) Update(ctx context.Context, patch SettingsPatch) (models.Settings, error) {
	var oldSettings, newSettings models.Settings

	err := s.locks.ExecuteWithLock(models.KeySettings, func() error {
		current, err := s.load(ctx)
		if err != nil {
			return err
		}
		if patch.APIKey != nil {
			// 旧密钥不再需要，历史记录中显示为空
			current.APIKey = ""
		} else if current, err = s.open(current); err != nil {
			return err
		}
		oldSettings = current

		next, err := normalizeSettings(patch.Apply(current))
		if err != nil {
			return err
		}

		stored := next
		stored.APIKey, err = s.secrets.Seal(next.APIKey)
		if err != nil {
			return apperrors.NewProcessingError("加密 API Key 失败", err)
		}
		if err := s.store.Set(ctx, models.KeySettings, stored); err != nil {
			return apperrors.WrapError(err, "保存配置失败", apperrors.ErrorTypeError)
		}

		newSettings = next
		return nil
	})
	if err != nil {
		return models.Settings{}, err
	}

	s.recordChanges(oldSettings, newSettings)

	if oldSettings.FeatureEnabled != newSettings.FeatureEnabled && s.publisher != nil {
		env := models.NewEnvelope(models.MsgFeatureStateChanged)
		env.Enabled = models.BoolPtr(newSettings.FeatureEnabled)
		s.publisher.Publish(env)
		s.logger.Info("悬停分析开关已变更", map[string]interface{}{"enabled": newSettings.FeatureEnabled})
	}

	s.notifySubscribers(oldSettings, newSettings)
	return newSettings, nil
}

func normalizeSettings(s models.Settings) (models.Settings, error) {
	s.APIURL = strings.TrimSpace(s.APIURL)
	s.APIKey = strings.TrimSpace(s.APIKey)
	s.Model = strings.TrimSpace(s.Model)
	s.CustomModel = strings.TrimSpace(s.CustomModel)

	if s.ImageMode == "" {
		s.ImageMode = models.ImageModeURL
	}
	if !s.ImageMode.Valid() {
		return s, apperrors.NewValidationError("图片模式只能是 url 或 base64", nil)
	}
	if s.APIURL == "" {
		s.APIURL = models.DefaultAPIURL
	}
	if s.Model == "" {
		s.Model = models.DefaultModel
	}
	return s, nil
}

// SubscribeToChanges 订阅配置变更事件
func (s *SettingsService) SubscribeToChanges(subscriber SettingsChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, subscriber)
}

// UnsubscribeFromChanges 取消配置变更订阅
func (s *SettingsService) UnsubscribeFromChanges(subscriber SettingsChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == subscriber {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			break
		}
	}
}

func (s *SettingsService) notifySubscribers(oldSettings, newSettings models.Settings) {
	s.mu.RLock()
	subscribers := make([]SettingsChangeSubscriber, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.RUnlock()

	for _, subscriber := range subscribers {
		go subscriber.OnSettingsChanged(oldSettings.Masked(), newSettings.Masked())
	}
}

// GetChangeHistory 获取最近的配置变更
func (s *SettingsService) GetChangeHistory(limit int) []SettingsChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.changeHistory) {
		limit = len(s.changeHistory)
	}

	history := make([]SettingsChangeRecord, limit)
	copy(history, s.changeHistory[len(s.changeHistory)-limit:])
	return history
}

func (s *SettingsService) recordChanges(oldSettings, newSettings models.Settings) {
	oldMasked, newMasked := oldSettings.Masked(), newSettings.Masked()
	fields := []struct {
		name     string
		old, new interface{}
	}{
		{"apiUrl", oldMasked.APIURL, newMasked.APIURL},
		{"apiKey", oldMasked.APIKey, newMasked.APIKey},
		{"model", oldMasked.Model, newMasked.Model},
		{"customModel", oldMasked.CustomModel, newMasked.CustomModel},
		{"imageMode", oldMasked.ImageMode, newMasked.ImageMode},
		{"featureEnabled", oldMasked.FeatureEnabled, newMasked.FeatureEnabled},
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, f := range fields {
		if f.old == f.new {
			continue
		}
		// 限制历史记录数量，避免无限增长
		if len(s.changeHistory) >= 1000 {
			s.changeHistory = s.changeHistory[1:]
		}
		s.changeHistory = append(s.changeHistory, SettingsChangeRecord{
			Timestamp: now,
			Field:     f.name,
			OldValue:  f.old,
			NewValue:  f.new,
		})
	}
}
