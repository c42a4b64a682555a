// internal/api/middleware_test.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimitByIP(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	r := gin.New()
	r.Use(RequestIDMiddleware(), RateLimitByIP(rl))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, rec.Code)
		last = rec
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))

	var body APIResponse
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, ErrorRateLimited, body.Error.Code)
	assert.NotEmpty(t, body.RequestID)
}

func TestRateLimitDisabled(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitByIP(NewRateLimiter(0, time.Minute)))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(corsMiddleware(NewOriginPolicy([]string{"chrome-extension://*"})), RequestLogger(utils.NewTestLogger(t)))
	r.PATCH("/api/session/popup", func(c *gin.Context) { c.Status(http.StatusOK) })

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/session/popup", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("chrome-extension://abcdef")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "chrome-extension://abcdef", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	rec = preflight("https://evil.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	assert.Empty(t, preflight("").Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"配置", apperrors.NewConfigurationError(apperrors.MsgMissingAPIKey), http.StatusBadRequest, ErrorAPIKeyMissing},
		{"校验", apperrors.NewValidationError("缺少图片地址", nil), http.StatusBadRequest, ErrorBadRequest},
		{"不存在", apperrors.NewNotFoundError("提示词不存在", nil), http.StatusNotFound, ErrorNotFound},
		{"冲突", apperrors.NewConflictError("协调器正在关闭", nil), http.StatusConflict, ErrorConflict},
		{"图片下载", apperrors.NewNetworkError(imageFetchMessage, errors.New("connection refused")), http.StatusBadGateway, ErrorImageFetchFailed},
		{"模型网络", apperrors.NewNetworkError("请求模型失败", errors.New("timeout")), http.StatusBadGateway, ErrorConnectionFailed},
		{"远端错误", apperrors.NewAPIError(401, "invalid key"), http.StatusBadGateway, ErrorLLMRequestFailed},
		{"响应格式", apperrors.NewMalformedResponseError(nil), http.StatusBadGateway, ErrorLLMResponseBroken},
		{"普通错误", errors.New("boom"), http.StatusInternalServerError, ErrorInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestFromErrorNetworkMessageVerbatim(t *testing.T) {
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		NewResponseHelper().FromError(c, apperrors.NewNetworkError(imageFetchMessage, errors.New("dial tcp: connection refused")))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "dial tcp: connection refused", body.Error.Message)
	assert.Empty(t, body.Error.Details)
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "服务内部错误", sanitizeErrorMessage("invalid api_key sk-123"))
	assert.Equal(t, "服务内部错误", sanitizeErrorMessage("Bearer abc rejected"))
	assert.Equal(t, "API 请求失败", sanitizeErrorMessage("API 请求失败"))
}

func TestValidContextID(t *testing.T) {
	assert.True(t, ValidContextID(PopupContextID))
	assert.True(t, ValidContextID("page:tab-1"))
	assert.False(t, ValidContextID("page:"))
	assert.False(t, ValidContextID("bogus"))
	assert.False(t, ValidContextID(""))
}
