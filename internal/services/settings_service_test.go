// internal/services/settings_service_test.go
package services

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/messaging"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settingsRecorder struct {
	ch chan models.Settings
}

func (r *settingsRecorder) OnSettingsChanged(_, newSettings models.Settings) {
	r.ch <- newSettings
}

func TestSettingsDefaults(t *testing.T) {
	syncStore, _ := newFileAreas(t)
	svc := NewSettingsService(syncStore, nil, nil, newTestLocks(t), utils.NewTestLogger(t))
	ctx := context.Background()

	got, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), got)

	require.NoError(t, svc.EnsureDefaults(ctx))
	var stored models.Settings
	require.NoError(t, syncStore.Get(ctx, models.KeySettings, &stored))
	assert.Equal(t, models.ImageModeURL, stored.ImageMode)
	assert.True(t, stored.FeatureEnabled)

	// 已有配置时不会被覆盖
	_, err = svc.SetFeatureEnabled(ctx, false)
	require.NoError(t, err)
	require.NoError(t, svc.EnsureDefaults(ctx))
	got, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.False(t, got.FeatureEnabled)
}

func TestSettingsSaveNormalizes(t *testing.T) {
	syncStore, _ := newFileAreas(t)
	svc := NewSettingsService(syncStore, nil, nil, newTestLocks(t), utils.NewTestLogger(t))

	saved, err := svc.Save(context.Background(), models.Settings{
		APIURL:         "  https://api.example.com/ ",
		APIKey:         " sk-abc ",
		CustomModel:    " my-model ",
		FeatureEnabled: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/", saved.APIURL)
	assert.Equal(t, "sk-abc", saved.APIKey)
	assert.Equal(t, models.DefaultModel, saved.Model)
	assert.Equal(t, "my-model", saved.EffectiveModel())
	assert.Equal(t, models.ImageModeURL, saved.ImageMode)

	_, err = svc.Update(context.Background(), SettingsPatch{ImageMode: modePtr("gif")})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestSettingsFeatureToggleBroadcasts(t *testing.T) {
	syncStore, _ := newFileAreas(t)
	broker := messaging.NewBroker(utils.NewTestLogger(t))
	page := broker.Subscribe("page:1")
	svc := NewSettingsService(syncStore, broker, nil, newTestLocks(t), utils.NewTestLogger(t))
	ctx := context.Background()

	_, err := svc.Update(ctx, SettingsPatch{APIKey: strPtr("sk-1")})
	require.NoError(t, err)
	assert.Empty(t, collect(page), "开关未变化时不广播")

	_, err = svc.SetFeatureEnabled(ctx, false)
	require.NoError(t, err)

	got := collect(page)
	require.Len(t, got, 1)
	assert.Equal(t, models.MsgFeatureStateChanged, got[0].Type)
	require.NotNil(t, got[0].Enabled)
	assert.False(t, *got[0].Enabled)
}

func TestSettingsEncryptsAPIKey(t *testing.T) {
	syncStore, _ := newFileAreas(t)
	box, err := utils.NewSecretBox("server-secret")
	require.NoError(t, err)
	svc := NewSettingsService(syncStore, nil, box, newTestLocks(t), utils.NewTestLogger(t))
	ctx := context.Background()

	_, err = svc.Update(ctx, SettingsPatch{APIKey: strPtr("sk-secret-9876")})
	require.NoError(t, err)

	var raw models.Settings
	require.NoError(t, syncStore.Get(ctx, models.KeySettings, &raw))
	assert.True(t, utils.IsSealed(raw.APIKey))

	got, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret-9876", got.APIKey)

	// 没有密钥的服务读不出加密内容
	plain := NewSettingsService(syncStore, nil, nil, newTestLocks(t), utils.NewTestLogger(t))
	_, err = plain.Get(ctx)
	assert.True(t, apperrors.IsConfigurationError(err))
}

func TestSettingsReplaceKeyAfterSecretRotation(t *testing.T) {
	syncStore, _ := newFileAreas(t)
	ctx := context.Background()

	oldBox, err := utils.NewSecretBox("secret-a")
	require.NoError(t, err)
	before := NewSettingsService(syncStore, nil, oldBox, newTestLocks(t), utils.NewTestLogger(t))
	_, err = before.Update(ctx, SettingsPatch{APIKey: strPtr("sk-old-1111"), Model: strPtr("gpt-4o")})
	require.NoError(t, err)

	newBox, err := utils.NewSecretBox("secret-b")
	require.NoError(t, err)
	after := NewSettingsService(syncStore, nil, newBox, newTestLocks(t), utils.NewTestLogger(t))

	_, err = after.Get(ctx)
	require.True(t, apperrors.IsConfigurationError(err))

	// 不带新密钥的更新仍然需要解密旧值
	_, err = after.Update(ctx, SettingsPatch{Model: strPtr("gpt-4.1")})
	assert.True(t, apperrors.IsConfigurationError(err))

	updated, err := after.Update(ctx, SettingsPatch{APIKey: strPtr("sk-new-2222")})
	require.NoError(t, err)
	assert.Equal(t, "sk-new-2222", updated.APIKey)
	assert.Equal(t, "gpt-4o", updated.Model)

	got, err := after.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-new-2222", got.APIKey)

	history := after.GetChangeHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, "apiKey", history[0].Field)
	assert.Equal(t, "*******2222", history[0].NewValue)
}

func TestServicesRequireLockManager(t *testing.T) {
	syncStore, _ := newFileAreas(t)
	logger := utils.NewTestLogger(t)

	assert.Panics(t, func() { NewSettingsService(syncStore, nil, nil, nil, logger) })
	assert.Panics(t, func() { NewPromptService(syncStore, nil, logger) })
}

func TestSettingsHistoryAndSubscribers(t *testing.T) {
	syncStore, _ := newFileAreas(t)
	svc := NewSettingsService(syncStore, nil, nil, newTestLocks(t), utils.NewTestLogger(t))
	rec := &settingsRecorder{ch: make(chan models.Settings, 4)}
	svc.SubscribeToChanges(rec)

	_, err := svc.Update(context.Background(), SettingsPatch{APIKey: strPtr("sk-test-1234"), Model: strPtr("gpt-4o")})
	require.NoError(t, err)

	select {
	case got := <-rec.ch:
		assert.Equal(t, "********1234", got.APIKey)
		assert.Equal(t, "gpt-4o", got.Model)
	case <-time.After(2 * time.Second):
		t.Fatal("订阅者没有收到通知")
	}

	history := svc.GetChangeHistory(0)
	require.Len(t, history, 2)
	fields := []string{history[0].Field, history[1].Field}
	assert.ElementsMatch(t, []string{"apiKey", "model"}, fields)
	for _, h := range history {
		assert.NotEqual(t, "sk-test-1234", h.NewValue)
	}
	assert.Len(t, svc.GetChangeHistory(1), 1)

	svc.UnsubscribeFromChanges(rec)
	_, err = svc.Update(context.Background(), SettingsPatch{Model: strPtr("gpt-4o-mini")})
	require.NoError(t, err)
	select {
	case <-rec.ch:
		t.Fatal("取消订阅后不应收到通知")
	case <-time.After(100 * time.Millisecond):
	}
}
