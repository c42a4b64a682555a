// internal/services/prompt_service_test.go
package services

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPromptService(t *testing.T) *PromptService {
	syncStore, _ := newFileAreas(t)
	svc := NewPromptService(syncStore, newTestLocks(t), utils.NewTestLogger(t))
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return svc
}

func TestPromptEnsureDefaultsOnce(t *testing.T) {
	svc := newPromptService(t)
	ctx := context.Background()

	catalog, err := svc.EnsureDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPromptID, catalog.CurrentID)
	assert.Len(t, catalog.Templates, len(models.DefaultPrompts()))

	_, err = svc.Select(ctx, "ocr")
	require.NoError(t, err)

	catalog, err = svc.EnsureDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ocr", catalog.CurrentID)
}

func TestPromptCreateBecomesCurrent(t *testing.T) {
	svc := newPromptService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "我的模板", "")
	require.NoError(t, err)
	assert.Equal(t, "custom_1700000000000", created.ID)

	second, err := svc.Create(ctx, "另一个", "数一数图中的猫")
	require.NoError(t, err)
	assert.Equal(t, "custom_1700000000001", second.ID)

	catalog, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, catalog.CurrentID)
	assert.Equal(t, "数一数图中的猫", catalog.CurrentText)

	_, err = svc.Create(ctx, "  ", "x")
	assert.True(t, apperrors.IsValidationError(err))
}

func TestPromptUpdate(t *testing.T) {
	svc := newPromptService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "草稿", "")
	require.NoError(t, err)

	updated, err := svc.Update(ctx, created.ID, "", "只描述颜色")
	require.NoError(t, err)
	assert.Equal(t, "草稿", updated.Name)
	assert.Equal(t, "只描述颜色", updated.Text)

	current, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "只描述颜色", current)

	// 非当前模板不影响当前文本
	_, err = svc.Update(ctx, "describe", "短描述", "一句话描述")
	require.NoError(t, err)
	current, err = svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "只描述颜色", current)

	tpl, err := svc.Get(ctx, "describe")
	require.NoError(t, err)
	assert.Equal(t, "短描述", tpl.Name)

	_, err = svc.Update(ctx, "missing", "", "x")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestPromptDeleteRules(t *testing.T) {
	svc := newPromptService(t)
	ctx := context.Background()

	_, err := svc.Delete(ctx, models.DefaultPromptID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflictError(err))
	assert.Equal(t, MsgDefaultPromptLocked, apperrors.UserMessage(err))

	_, err = svc.Select(ctx, "art")
	require.NoError(t, err)
	catalog, err := svc.Delete(ctx, "art")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPromptID, catalog.CurrentID)
	assert.Equal(t, models.FallbackPromptText, catalog.CurrentText)
	for _, tpl := range catalog.Templates {
		assert.NotEqual(t, "art", tpl.ID)
	}

	_, err = svc.Delete(ctx, "art")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestPromptKeepsLastTemplate(t *testing.T) {
	syncStore, _ := newFileAreas(t)
	svc := NewPromptService(syncStore, newTestLocks(t), utils.NewTestLogger(t))
	ctx := context.Background()

	require.NoError(t, syncStore.Set(ctx, models.KeyPromptCatalog, models.PromptCatalog{
		Templates: []models.PromptTemplate{{ID: "custom_1", Name: "唯一", Text: "t"}},
		CurrentID: "custom_1",
	}))

	_, err := svc.Delete(ctx, "custom_1")
	require.Error(t, err)
	assert.True(t, apperrors.IsConflictError(err))
	assert.Equal(t, MsgKeepOnePrompt, apperrors.UserMessage(err))
}

func TestPromptCurrentFallback(t *testing.T) {
	syncStore, _ := newFileAreas(t)
	svc := NewPromptService(syncStore, newTestLocks(t), utils.NewTestLogger(t))
	ctx := context.Background()

	require.NoError(t, syncStore.Set(ctx, models.KeyPromptCatalog, models.PromptCatalog{
		Templates: []models.PromptTemplate{{ID: "custom_1", Name: "空", Text: ""}},
		CurrentID: "custom_1",
	}))

	text, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.FallbackPromptText, text)

	_, err = svc.Select(ctx, "nope")
	assert.True(t, apperrors.IsNotFoundError(err))
}
