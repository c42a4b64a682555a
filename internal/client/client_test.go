// internal/client/client_test.go
package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Corphon/HoverLens/internal/api"
	"github.com/Corphon/HoverLens/internal/app"
	"github.com/Corphon/HoverLens/internal/auth"
	"github.com/Corphon/HoverLens/internal/client"
	"github.com/Corphon/HoverLens/internal/config"
	"github.com/Corphon/HoverLens/internal/di"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/services"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "client-test-secret"

func newServer(t *testing.T, requireAuth bool) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.GetCurrentConfig()
	cfg.DataDir = t.TempDir()
	cfg.Log.File = ""
	cfg.Store.Backend = "file"
	cfg.Server.RatePerMinute = 0
	cfg.Security.Secret = testSecret
	cfg.Security.RequireAuth = requireAuth
	cfg.Security.TokenTTL = time.Minute
	cfg.Analysis.Timeout = 10 * time.Second

	a, err := app.New(testContext(t), cfg, utils.NewTestLogger(t), di.NewContainer())
	require.NoError(t, err)

	srv := httptest.NewServer(a.Router())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, a.Shutdown(ctx))
	})
	return srv
}

func newVisionStub(t *testing.T) *httptest.Server {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o","choices":[{"message":{"content":"**一只狗**"}}]}`))
	}))
	t.Cleanup(stub.Close)
	return stub
}

func configure(t *testing.T, rest *client.REST, apiURL string) {
	t.Helper()
	key := "sk-client-5678"
	_, err := rest.UpdateSettings(testContext(t), services.SettingsPatch{APIURL: &apiURL, APIKey: &key})
	require.NoError(t, err)
}

func TestRESTSettings(t *testing.T) {
	srv := newServer(t, false)
	rest := client.NewREST(srv.URL + "/")
	ctx := testContext(t)

	settings, err := rest.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultAPIURL, settings.APIURL)

	configure(t, rest, "https://vision.example/v1/chat/completions")
	settings, err = rest.Settings(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "sk-client-5678", settings.APIKey)
	assert.True(t, settings.HasAPIKey())

	enabled, err := rest.SetFeature(ctx, false)
	require.NoError(t, err)
	assert.False(t, enabled)

	history, err := rest.SettingsHistory(ctx, 0)
	require.NoError(t, err)
	fields := make([]string, 0, len(history))
	for _, r := range history {
		fields = append(fields, r.Field)
		assert.NotEqual(t, "sk-client-5678", r.NewValue)
	}
	assert.Contains(t, fields, "apiKey")
	assert.Equal(t, "featureEnabled", fields[len(fields)-1])

	latest, err := rest.SettingsHistory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "featureEnabled", latest[0].Field)

	bad := models.ImageMode("gif")
	_, err = rest.UpdateSettings(ctx, services.SettingsPatch{ImageMode: &bad})
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, api.ErrorSettingsInvalid, apiErr.Code)
}

func TestRESTPrompts(t *testing.T) {
	srv := newServer(t, false)
	rest := client.NewREST(srv.URL)
	ctx := testContext(t)

	tpl, err := rest.CreatePrompt(ctx, "表格提取", "请把图中的表格转换为 markdown")
	require.NoError(t, err)
	assert.NotEmpty(t, tpl.ID)

	_, err = rest.SelectPrompt(ctx, tpl.ID)
	require.NoError(t, err)
	text, err := rest.CurrentPrompt(ctx)
	require.NoError(t, err)
	assert.Equal(t, "请把图中的表格转换为 markdown", text)

	tpl, err = rest.UpdatePrompt(ctx, tpl.ID, "表格", "只输出表格")
	require.NoError(t, err)
	assert.Equal(t, "表格", tpl.Name)

	catalog, err := rest.DeletePrompt(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPromptID, catalog.CurrentID)

	_, err = rest.DeletePrompt(ctx, models.DefaultPromptID)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.ErrorPromptLocked, apiErr.Code)

	_, err = rest.SelectPrompt(ctx, "missing")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestRESTPopupStore(t *testing.T) {
	srv := newServer(t, false)
	rest := client.NewREST(srv.URL)
	ctx := testContext(t)

	image := "data:image/png;base64,AAAA"
	require.NoError(t, rest.UpdatePopup(ctx, models.PopupPatch{LastImageData: &image, IsAnalyzing: models.BoolPtr(true)}))

	snap, err := rest.PopupSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, image, snap.LastImageData)
	assert.True(t, snap.IsAnalyzing)

	require.NoError(t, rest.ClearPopup(ctx))
	snap, err = rest.PopupSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Empty())

	health, err := rest.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
}

func TestRESTAnalyze(t *testing.T) {
	srv := newServer(t, false)
	rest := client.NewREST(srv.URL)
	configure(t, rest, newVisionStub(t).URL)

	res, err := rest.Analyze(testContext(t), client.AnalyzeInput{RequestID: "cli-1", ImageURL: "https://img.example/dog.png"})
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, "**一只狗**", res.Content)

	sess, err := rest.Session(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, sess.State.Status)
}

func TestSocketPageFlow(t *testing.T) {
	srv := newServer(t, false)
	rest := client.NewREST(srv.URL)
	configure(t, rest, newVisionStub(t).URL)

	received := make(chan models.Envelope, 16)
	sock, err := client.Dial(testContext(t), srv.URL, "page:cli", "", func(env models.Envelope) {
		received <- env
	}, utils.NewTestLogger(t))
	require.NoError(t, err)
	defer sock.Close()
	assert.Equal(t, "page:cli", sock.ContextID())

	env := models.NewEnvelope(models.MsgAnalyzeImage)
	env.RequestID = "sock-1"
	env.ImageURL = "https://img.example/dog.png"
	require.NoError(t, sock.Send(testContext(t), env))

	var types []models.MessageType
	timeout := time.After(5 * time.Second)
	for len(types) < 3 {
		select {
		case got := <-received:
			assert.Equal(t, "sock-1", got.RequestID)
			types = append(types, got.Type)
		case <-timeout:
			t.Fatalf("等待消息超时, 已收到 %v", types)
		}
	}
	assert.Equal(t, []models.MessageType{models.MsgAnalysisStart, models.MsgAnalysisResult, models.MsgAnalysisComplete}, types)

	require.NoError(t, sock.Ping(testContext(t)))
	select {
	case got := <-received:
		assert.Equal(t, models.MsgPong, got.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("没有收到 pong")
	}

	require.NoError(t, sock.Close())
	assert.NoError(t, sock.Err())
	assert.ErrorIs(t, sock.Send(testContext(t), env), client.ErrSocketClosed)
}

func TestAccessTokenRequired(t *testing.T) {
	srv := newServer(t, true)
	ctx := testContext(t)

	_, err := client.NewREST(srv.URL).Settings(ctx)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, api.ErrorUnauthorized, apiErr.Code)

	_, err = client.NewREST(srv.URL).Health(ctx)
	assert.NoError(t, err)

	_, err = client.Dial(ctx, srv.URL, api.PopupContextID, "", nil, utils.NewTestLogger(t))
	assert.Error(t, err)

	token, err := auth.GenerateToken("lens", auth.NewTokenConfig(testSecret, time.Minute))
	require.NoError(t, err)

	_, err = client.NewREST(srv.URL, client.WithToken(token)).Settings(ctx)
	assert.NoError(t, err)

	sock, err := client.Dial(ctx, srv.URL, api.PopupContextID, token, nil, utils.NewTestLogger(t))
	require.NoError(t, err)
	assert.NoError(t, sock.Close())
}

func TestSocketURL(t *testing.T) {
	u, err := client.SocketURL("https://lens.example:8443/", "page:1", "")
	require.NoError(t, err)
	assert.Equal(t, "wss://lens.example:8443/ws/page:1", u)

	u, err = client.SocketURL("http://localhost:8080", "popup", "abc")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws/popup?token=abc", u)

	_, err = client.SocketURL("ftp://x", "popup", "")
	assert.Error(t, err)
}
