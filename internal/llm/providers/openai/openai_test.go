// internal/llm/providers/openai/openai_test.go
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T, baseURL string) llm.Provider {
	p, err := llm.GetProvider(ProviderName, map[string]string{
		"api_key":  "sk-test",
		"base_url": baseURL,
	})
	require.NoError(t, err)
	return p
}

func TestInitializeRequiresAPIKey(t *testing.T) {
	_, err := llm.GetProvider(ProviderName, map[string]string{})
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigurationError(err))
	assert.NotEmpty(t, llm.GetSupportedModelsForProvider(ProviderName))
}

func TestAnalyzeImageSendsChatRequest(t *testing.T) {
	var captured ChatRequest
	var path, auth, contentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o","choices":[{"message":{"content":"# 标题\n一只猫"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer server.Close()

	p := newProvider(t, server.URL+"//")
	resp, err := p.AnalyzeImage(context.Background(), llm.VisionRequest{
		Model:      "gpt-4o",
		PromptText: "描述图片",
		ImageURL:   "https://img.example.com/cat.png",
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "application/json", contentType)

	assert.Equal(t, "gpt-4o", captured.Model)
	require.Len(t, captured.Messages, 1)
	msg := captured.Messages[0]
	assert.Equal(t, "user", msg.Role)
	require.Len(t, msg.Content, 2)
	assert.Equal(t, "text", msg.Content[0].Type)
	assert.Equal(t, "描述图片", msg.Content[0].Text)
	assert.Equal(t, "image_url", msg.Content[1].Type)
	require.NotNil(t, msg.Content[1].ImageURL)
	assert.Equal(t, "https://img.example.com/cat.png", msg.Content[1].ImageURL.URL)

	assert.Equal(t, "# 标题\n一只猫", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 15, resp.TokensUsed)
}

func TestAnalyzeImageDefaultModel(t *testing.T) {
	var captured ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	p := newProvider(t, server.URL)
	resp, err := p.AnalyzeImage(context.Background(), llm.VisionRequest{PromptText: "p", ImageURL: "u"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4-vision-preview", captured.Model)
	assert.Equal(t, "gpt-4-vision-preview", resp.ModelName)
}

func TestAnalyzeImageErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(error) bool
		message string
	}{
		{"api error with message", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided"}}`, apperrors.IsAPIError, "Incorrect API key provided"},
		{"api error without message", http.StatusInternalServerError, `{"detail":"boom"}`, apperrors.IsAPIError, apperrors.MsgAPIRequestFailed},
		{"api error non json", http.StatusBadGateway, `<html>bad gateway</html>`, apperrors.IsAPIError, apperrors.MsgAPIRequestFailed},
		{"empty choices", http.StatusOK, `{"choices":[]}`, apperrors.IsMalformedResponseError, apperrors.MsgMalformedResponse},
		{"missing choices", http.StatusOK, `{"id":"x"}`, apperrors.IsMalformedResponseError, apperrors.MsgMalformedResponse},
		{"missing message", http.StatusOK, `{"choices":[{"finish_reason":"stop"}]}`, apperrors.IsMalformedResponseError, apperrors.MsgMalformedResponse},
		{"invalid json", http.StatusOK, `not json`, apperrors.IsMalformedResponseError, apperrors.MsgMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := newProvider(t, server.URL)
			_, err := p.AnalyzeImage(context.Background(), llm.VisionRequest{PromptText: "p", ImageURL: "u"})
			require.Error(t, err)
			assert.True(t, tt.check(err))
			assert.Equal(t, tt.message, apperrors.UserMessage(err))
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "不应重试")
		})
	}
}

func TestAnalyzeImageNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	p := newProvider(t, url)
	_, err := p.AnalyzeImage(context.Background(), llm.VisionRequest{PromptText: "p", ImageURL: "u"})
	require.Error(t, err)
	assert.True(t, apperrors.IsNetworkError(err))
	assert.NotEmpty(t, apperrors.UserMessage(err))
}

func TestEndpointIsNormalized(t *testing.T) {
	p, err := llm.GetProvider(ProviderName, map[string]string{
		"api_key":  "k",
		"base_url": "https://example.com//api/",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/api/v1/chat/completions", p.(*Provider).Endpoint())
}
