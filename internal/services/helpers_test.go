// internal/services/helpers_test.go
package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Corphon/HoverLens/internal/imaging"
	"github.com/Corphon/HoverLens/internal/llm/providers/openai"
	"github.com/Corphon/HoverLens/internal/messaging"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/storage"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newFileAreas(t *testing.T) (storage.Store, storage.Store) {
	t.Helper()
	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	return storage.NewFileStore(fs, storage.AreaSync), storage.NewFileStore(fs, storage.AreaLocal)
}

func newRedisAreas(t *testing.T) (storage.Store, storage.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return storage.NewRedisStore(client, storage.AreaSync), storage.NewRedisStore(client, storage.AreaLocal)
}

// fakeVisionAPI 记录收到的请求
type fakeVisionAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []openai.ChatRequest
	status   int
	body     string
}

func newFakeVisionAPI(t *testing.T) *fakeVisionAPI {
	f := &fakeVisionAPI{status: http.StatusOK, body: `{"model":"gpt-4o","choices":[{"message":{"content":"## 分析\n一只猫"}}]}`}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		f.requests = append(f.requests, req)
		status, body := f.status, f.body
		f.mu.Unlock()

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeVisionAPI) respond(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.body = status, body
}

func (f *fakeVisionAPI) calls() []openai.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]openai.ChatRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// imageOf 取出请求里的图片地址
func imageOf(req openai.ChatRequest) string {
	for _, part := range req.Messages[0].Content {
		if part.ImageURL != nil {
			return part.ImageURL.URL
		}
	}
	return ""
}

func textOf(req openai.ChatRequest) string {
	return req.Messages[0].Content[0].Text
}

type harness struct {
	broker      *messaging.Broker
	settings    *SettingsService
	prompts     *PromptService
	session     *SessionService
	coordinator *CoordinatorService
	api         *fakeVisionAPI
}

func newTestLocks(t *testing.T) *LockManager {
	t.Helper()
	locks := NewLockManager()
	t.Cleanup(locks.Stop)
	return locks
}

func newHarness(t *testing.T, syncStore, localStore storage.Store) *harness {
	t.Helper()
	logger := utils.NewTestLogger(t)
	locks := newTestLocks(t)

	broker := messaging.NewBroker(logger)
	t.Cleanup(broker.Close)

	h := &harness{
		broker:   broker,
		settings: NewSettingsService(syncStore, broker, nil, locks, logger),
		prompts:  NewPromptService(syncStore, locks, logger),
		session:  NewSessionService(localStore, logger),
		api:      newFakeVisionAPI(t),
	}
	h.coordinator = NewCoordinatorService(CoordinatorDeps{
		Settings:  h.settings,
		Prompts:   h.prompts,
		Session:   h.session,
		Fetcher:   imaging.NewFetcher(5*time.Second, 0),
		Publisher: broker,
		Logger:    logger,
		Timeout:   10 * time.Second,
	})
	return h
}

func (h *harness) configure(t *testing.T, patch SettingsPatch) {
	t.Helper()
	if patch.APIURL == nil {
		url := h.api.server.URL
		patch.APIURL = &url
	}
	_, err := h.settings.Update(testContext(t), patch)
	require.NoError(t, err)
}

func strPtr(s string) *string { return &s }

func modePtr(m models.ImageMode) *models.ImageMode { return &m }

// collect 读取订阅中已有的消息
func collect(sub *messaging.Subscription) []models.Envelope {
	var out []models.Envelope
	for {
		select {
		case env := <-sub.C():
			out = append(out, env)
		default:
			return out
		}
	}
}

func types(envs []models.Envelope) []models.MessageType {
	out := make([]models.MessageType, len(envs))
	for i, e := range envs {
		out[i] = e.Type
	}
	return out
}
