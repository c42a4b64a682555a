// internal/api/error_codes.go
package api

import (
	"errors"
	"net/http"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
)

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 配置相关
	ErrorAPIKeyMissing     = "API_KEY_MISSING"
	ErrorSettingsInvalid   = "SETTINGS_INVALID"
	ErrorPromptNotFound    = "PROMPT_NOT_FOUND"
	ErrorPromptLastOne     = "PROMPT_LAST_ONE"
	ErrorPromptLocked      = "PROMPT_LOCKED"
	ErrorPromptInvalid     = "PROMPT_INVALID"
	ErrorUnauthorized      = "UNAUTHORIZED"

	// 分析流程
	ErrorImageInvalid      = "IMAGE_INVALID"
	ErrorImageFetchFailed  = "IMAGE_FETCH_FAILED"
	ErrorConnectionFailed  = "CONNECTION_FAILED"
	ErrorLLMRequestFailed  = "LLM_REQUEST_FAILED"
	ErrorLLMResponseBroken = "LLM_RESPONSE_INVALID"
)

// imageFetchMessage 图片下载失败时 AppError 的消息
const imageFetchMessage = "下载图片失败"

// statusFor 把错误类型映射为 HTTP 状态码和错误代码
func statusFor(err error) (int, string) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, ErrorInternalError
	}

	switch appErr.Type {
	case apperrors.ErrorTypeConfiguration:
		return http.StatusBadRequest, ErrorAPIKeyMissing
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest, ErrorBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound, ErrorNotFound
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict, ErrorConflict
	case apperrors.ErrorTypeNetwork:
		if appErr.Message == imageFetchMessage {
			return http.StatusBadGateway, ErrorImageFetchFailed
		}
		return http.StatusBadGateway, ErrorConnectionFailed
	case apperrors.ErrorTypeAPI:
		return http.StatusBadGateway, ErrorLLMRequestFailed
	case apperrors.ErrorTypeMalformedResponse:
		return http.StatusBadGateway, ErrorLLMResponseBroken
	default:
		return http.StatusInternalServerError, ErrorInternalError
	}
}
