// internal/services/session_service_test.go
package services

import (
	"context"
	"testing"

	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/storage"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionAnalysisState(t *testing.T) {
	backends := map[string]func(*testing.T) (storage.Store, storage.Store){
		"file":  newFileAreas,
		"redis": newRedisAreas,
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			_, local := open(t)
			svc := NewSessionService(local, utils.NewTestLogger(t))
			ctx := context.Background()

			state, err := svc.State(ctx)
			require.NoError(t, err)
			assert.Equal(t, models.StatusIdle, state.Status)

			require.NoError(t, svc.MarkAnalyzing(ctx, "r1", "https://x/a.png"))
			state, err = svc.State(ctx)
			require.NoError(t, err)
			assert.Equal(t, models.StatusAnalyzing, state.Status)
			assert.Equal(t, "https://x/a.png", state.CurrentImageURL)
			assert.False(t, state.UpdatedAt.IsZero())

			require.NoError(t, svc.MarkCompleted(ctx, "r1", "https://x/a.png", "# 结果", "<h1>结果</h1>"))
			state, err = svc.State(ctx)
			require.NoError(t, err)
			assert.Equal(t, models.StatusCompleted, state.Status)
			assert.Equal(t, "# 结果", state.LastResult)
			assert.Empty(t, state.Error)

			require.NoError(t, svc.MarkFailed(ctx, "r2", "", "API 请求失败", "<div>失败</div>"))
			state, err = svc.State(ctx)
			require.NoError(t, err)
			assert.Equal(t, models.StatusFailed, state.Status)
			assert.Equal(t, "r2", state.RequestID)
			assert.Equal(t, "API 请求失败", state.Error)
			assert.Empty(t, state.LastResult)
		})
	}
}

func TestSessionPopupCache(t *testing.T) {
	_, local := newFileAreas(t)
	svc := NewSessionService(local, utils.NewTestLogger(t))
	ctx := context.Background()

	snap, err := svc.PopupSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Empty())

	require.NoError(t, svc.SavePopupImage(ctx, "data:image/png;base64,AAAA"))
	require.NoError(t, svc.SetPopupAnalyzing(ctx, true))
	snap, err = svc.PopupSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", snap.LastImageData)
	assert.True(t, snap.IsAnalyzing)

	require.NoError(t, svc.SavePopupResult(ctx, "<p>ok</p>"))
	snap, err = svc.PopupSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<p>ok</p>", snap.LastAnalysisResult)
	assert.False(t, snap.IsAnalyzing)

	// 空字符串删除键
	empty := ""
	require.NoError(t, svc.UpdatePopup(ctx, models.PopupPatch{LastAnalysisResult: &empty}))
	snap, err = svc.PopupSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.LastAnalysisResult)
	assert.NotEmpty(t, snap.LastImageData)

	require.NoError(t, svc.ClearPopup(ctx))
	snap, err = svc.PopupSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Empty())
}

func TestSessionFinishWritesOwnedPopupResult(t *testing.T) {
	backends := map[string]func(*testing.T) (storage.Store, storage.Store){
		"file":  newFileAreas,
		"redis": newRedisAreas,
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			_, local := open(t)
			svc := NewSessionService(local, utils.NewTestLogger(t))
			ctx := context.Background()

			owner := "popup-1"
			require.NoError(t, svc.UpdatePopup(ctx, models.PopupPatch{
				LastImageData: strPtr("data:image/png;base64,AAAA"),
				IsAnalyzing:   models.BoolPtr(true),
				RequestID:     &owner,
			}))

			// 其他请求的结果不写入弹窗缓存
			require.NoError(t, svc.MarkCompleted(ctx, "page-1", "https://x/a.png", "页面", "<p>页面</p>"))
			snap, err := svc.PopupSnapshot(ctx)
			require.NoError(t, err)
			assert.True(t, snap.IsAnalyzing)
			assert.Empty(t, snap.LastAnalysisResult)

			require.NoError(t, svc.MarkCompleted(ctx, owner, "", "弹窗", "<p>弹窗</p>"))
			snap, err = svc.PopupSnapshot(ctx)
			require.NoError(t, err)
			assert.False(t, snap.IsAnalyzing)
			assert.Equal(t, "<p>弹窗</p>", snap.LastAnalysisResult)
			assert.Equal(t, owner, snap.RequestID)

			state, err := svc.State(ctx)
			require.NoError(t, err)
			assert.Equal(t, owner, state.RequestID)
			assert.Equal(t, "弹窗", state.LastResult)
		})
	}
}

func TestSessionClaimPopup(t *testing.T) {
	_, local := newFileAreas(t)
	svc := NewSessionService(local, utils.NewTestLogger(t))
	ctx := context.Background()

	claimed, err := svc.ClaimPopup(ctx, "page-1", "https://x/a.png")
	require.NoError(t, err)
	assert.True(t, claimed)
	snap, err := svc.PopupSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://x/a.png", snap.LastImageData)
	assert.Equal(t, "page-1", snap.RequestID)
	assert.True(t, snap.IsAnalyzing)

	// 上一个请求未结束时不被接管
	claimed, err = svc.ClaimPopup(ctx, "page-2", "https://x/b.png")
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, svc.MarkFailed(ctx, "page-1", "https://x/a.png", "API 请求失败", "<div>失败</div>"))
	claimed, err = svc.ClaimPopup(ctx, "page-2", "https://x/b.png")
	require.NoError(t, err)
	assert.True(t, claimed)
	snap, err = svc.PopupSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.LastAnalysisResult)
	assert.Equal(t, "https://x/b.png", snap.LastImageData)
}
