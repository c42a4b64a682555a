// internal/presenter/presenter_test.go
package presenter

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/services"
	"github.com/Corphon/HoverLens/internal/storage"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []models.Envelope
	err  error
}

func (f *fakeSender) Send(_ context.Context, env models.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSender) last() models.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func pngData(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func newPresenter(t *testing.T, sender Sender) (*Presenter, *services.SessionService) {
	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	session := services.NewSessionService(storage.NewFileStore(fs, storage.AreaLocal), utils.NewTestLogger(t))
	p := New(Config{
		Sender: sender,
		Store:  session,
		Prompt: func(context.Context) (string, error) { return "弹窗提示词", nil },
		Logger: utils.NewTestLogger(t),
	})
	return p, session
}

func TestIntakeRejectsNonImages(t *testing.T) {
	p, _ := newPresenter(t, &fakeSender{})
	ctx := context.Background()

	err := p.Paste(ctx, []byte("hello"), "text/plain")
	assert.True(t, apperrors.IsValidationError(err))
	err = p.Paste(ctx, []byte("hello"), "")
	assert.True(t, apperrors.IsValidationError(err))

	err = p.Drop(ctx, nil)
	assert.True(t, apperrors.IsValidationError(err))
	assert.Empty(t, p.View().ImageData)
}

func TestLoadFileAndAnalyze(t *testing.T) {
	sender := &fakeSender{}
	p, session := newPresenter(t, sender)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(path, pngData(t), 0644))
	require.NoError(t, p.Drop(ctx, []string{path, "ignored.png"}))

	view := p.View()
	assert.True(t, strings.HasPrefix(view.ImageData, "data:image/png;base64,"))
	assert.True(t, view.CancelVisible)
	assert.Equal(t, LabelAnalyze, view.AnalyzeLabel)

	snap, err := session.PopupSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, view.ImageData, snap.LastImageData)

	id, err := p.Analyze(ctx)
	require.NoError(t, err)

	env := sender.last()
	assert.Equal(t, models.MsgAnalyzeImage, env.Type)
	assert.Equal(t, models.OriginPopup, env.Origin)
	assert.Equal(t, view.ImageData, env.Image)
	assert.Empty(t, env.ImageURL)
	assert.Equal(t, "弹窗提示词", env.Prompt)
	assert.Equal(t, id, env.RequestID)

	view = p.View()
	assert.True(t, view.Analyzing)
	assert.Equal(t, LabelAnalyzing, view.AnalyzeLabel)
	assert.False(t, view.CancelVisible)

	_, err = p.Analyze(ctx)
	assert.ErrorIs(t, err, ErrAlreadyAnalyzing)

	result := models.NewEnvelope(models.MsgAnalysisResult)
	result.RequestID = id
	result.Data = "# 标题\n\n<script>alert(1)</script>一只**猫**"
	p.HandleMessage(ctx, result)

	view = p.View()
	assert.False(t, view.Analyzing)
	assert.Contains(t, view.ResultHTML, "<h1")
	assert.Contains(t, view.ResultHTML, "<strong>猫</strong>")
	assert.NotContains(t, view.ResultHTML, "<script>")

	snap, err = session.PopupSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, view.ResultHTML, snap.LastAnalysisResult)
	assert.False(t, snap.IsAnalyzing)
}

func TestAnalyzeWithoutImage(t *testing.T) {
	p, _ := newPresenter(t, &fakeSender{})
	_, err := p.Analyze(context.Background())
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestAnalyzeSendFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("连接已断开")}
	p, _ := newPresenter(t, sender)
	ctx := context.Background()
	require.NoError(t, p.Paste(ctx, pngData(t), "image/png"))

	_, err := p.Analyze(ctx)
	require.Error(t, err)
	view := p.View()
	assert.False(t, view.Analyzing)
	assert.Equal(t, "连接已断开", view.Error)
}

func TestErrorMessageRendering(t *testing.T) {
	sender := &fakeSender{}
	p, _ := newPresenter(t, sender)
	ctx := context.Background()
	require.NoError(t, p.Paste(ctx, pngData(t), "image/png"))
	id, err := p.Analyze(ctx)
	require.NoError(t, err)

	// 其他请求的结果被忽略
	other := models.NewEnvelope(models.MsgAnalysisResult)
	other.RequestID = "someone-else"
	other.Data = "不相关"
	p.HandleMessage(ctx, other)
	assert.True(t, p.View().Analyzing)

	failed := models.NewEnvelope(models.MsgAnalysisError)
	failed.RequestID = id
	failed.Error = "请先配置 API Key"
	p.HandleMessage(ctx, failed)

	view := p.View()
	assert.Equal(t, `<div class="error">分析失败: 请先配置 API Key</div>`, view.ResultHTML)
	assert.Equal(t, "请先配置 API Key", view.Error)
}

func TestMirrorsPageAnalysis(t *testing.T) {
	p, session := newPresenter(t, &fakeSender{})
	ctx := context.Background()
	require.NoError(t, session.SavePopupResult(ctx, "<p>旧结果</p>"))
	_, err := p.Restore(ctx)
	require.NoError(t, err)

	start := models.NewEnvelope(models.MsgAnalysisStart)
	start.RequestID = "page-req"
	start.ImageURL = "https://x/a.png"
	p.HandleMessage(ctx, start)

	view := p.View()
	assert.Equal(t, "https://x/a.png", view.ImageData)
	assert.True(t, view.Analyzing)
	assert.Equal(t, "page-req", view.RequestID)
	assert.Empty(t, view.ResultHTML)

	done := models.NewEnvelope(models.MsgAnalysisResult)
	done.RequestID = "page-req"
	done.Data = "结果"
	p.HandleMessage(ctx, done)
	assert.False(t, p.View().Analyzing)
	assert.Contains(t, p.View().ResultHTML, "结果")

	snap, err := session.PopupSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, p.View().ResultHTML, snap.LastAnalysisResult)
	assert.False(t, snap.IsAnalyzing)
}

func TestPageStartDoesNotHijackPopupAnalysis(t *testing.T) {
	sender := &fakeSender{}
	p, session := newPresenter(t, sender)
	ctx := context.Background()
	require.NoError(t, p.Paste(ctx, pngData(t), "image/png"))
	own, err := p.Analyze(ctx)
	require.NoError(t, err)
	image := p.View().ImageData

	snap, err := session.PopupSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, own, snap.RequestID)
	assert.True(t, snap.IsAnalyzing)

	// 同时进行的页面分析
	start := models.NewEnvelope(models.MsgAnalysisStart)
	start.RequestID = "page-req"
	start.ImageURL = "https://x/page.png"
	p.HandleMessage(ctx, start)
	pageResult := models.NewEnvelope(models.MsgAnalysisResult)
	pageResult.RequestID = "page-req"
	pageResult.Data = "页面结果"
	p.HandleMessage(ctx, pageResult)

	view := p.View()
	assert.True(t, view.Analyzing)
	assert.Equal(t, own, view.RequestID)
	assert.Equal(t, image, view.ImageData)
	assert.Empty(t, view.ResultHTML)

	mine := models.NewEnvelope(models.MsgAnalysisResult)
	mine.RequestID = own
	mine.Data = "弹窗结果"
	p.HandleMessage(ctx, mine)

	view = p.View()
	assert.False(t, view.Analyzing)
	assert.Contains(t, view.ResultHTML, "弹窗结果")
	assert.NotContains(t, view.ResultHTML, "页面结果")
}

func TestRestoreAndCancel(t *testing.T) {
	sender := &fakeSender{}
	p, session := newPresenter(t, sender)
	ctx := context.Background()

	require.NoError(t, session.SavePopupImage(ctx, "data:image/png;base64,AAAA"))
	pending := "req-7"
	require.NoError(t, session.UpdatePopup(ctx, models.PopupPatch{IsAnalyzing: models.BoolPtr(true), RequestID: &pending}))

	view, err := p.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", view.ImageData)
	assert.True(t, view.Analyzing)
	assert.Equal(t, "req-7", view.RequestID)

	require.NoError(t, session.SavePopupResult(ctx, "<p>完成</p>"))
	restored := New(Config{Sender: sender, Store: session})
	view, err = restored.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, view.Analyzing)
	assert.Equal(t, "<p>完成</p>", view.ResultHTML)

	require.NoError(t, restored.Cancel(ctx))
	assert.Empty(t, restored.View().ImageData)
	assert.Equal(t, LabelAnalyze, restored.View().AnalyzeLabel)
	snap, err := session.PopupSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Empty())
}
