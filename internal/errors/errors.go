// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 分析流程错误
	ErrorTypeConfiguration     ErrorType = "configuration_error"
	ErrorTypeNetwork           ErrorType = "network_error"
	ErrorTypeAPI               ErrorType = "api_error"
	ErrorTypeMalformedResponse ErrorType = "malformed_response"

	// 通用错误类型
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeError      ErrorType = "processing_error"
	ErrorTypeConflict   ErrorType = "conflict"
)

// 面向用户的固定提示
const (
	MsgMissingAPIKey     = "请先配置 API Key"
	MsgAPIRequestFailed  = "API 请求失败"
	MsgMalformedResponse = "无效的 API 响应"
)

// AppError 应用程序错误结构
type AppError struct {
	Type       ErrorType
	Message    string
	Err        error
	Code       string // 用户友好的错误代码
	StatusCode int    // 远端 HTTP 状态码，仅 API 错误使用
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewConfigurationError 配置缺失或无效
func NewConfigurationError(message string) *AppError {
	return NewAppError(ErrorTypeConfiguration, message, nil)
}

// NewNetworkError 传输失败，原样暴露底层错误
func NewNetworkError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNetwork, message, originalError)
}

// NewAPIError 远端返回非 2xx
func NewAPIError(statusCode int, message string) *AppError {
	if message == "" {
		message = MsgAPIRequestFailed
	}
	err := NewAppError(ErrorTypeAPI, message, nil)
	err.StatusCode = statusCode
	return err
}

// NewMalformedResponseError 2xx 响应缺少必要字段
func NewMalformedResponseError(originalError error) *AppError {
	return NewAppError(ErrorTypeMalformedResponse, MsgMalformedResponse, originalError)
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError 创建处理错误
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewConflictError 创建冲突错误
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

func isType(err error, errType ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == errType
	}
	return false
}

// IsConfigurationError 检查是否为配置错误
func IsConfigurationError(err error) bool { return isType(err, ErrorTypeConfiguration) }

// IsNetworkError 检查是否为网络错误
func IsNetworkError(err error) bool { return isType(err, ErrorTypeNetwork) }

// IsAPIError 检查是否为 API 错误
func IsAPIError(err error) bool { return isType(err, ErrorTypeAPI) }

// IsMalformedResponseError 检查是否为响应格式错误
func IsMalformedResponseError(err error) bool { return isType(err, ErrorTypeMalformedResponse) }

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsConflictError 检查是否为冲突错误
func IsConflictError(err error) bool { return isType(err, ErrorTypeConflict) }

// KindOf 返回错误类型，非 AppError 视为处理错误
func KindOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ErrorTypeError
}

// UserMessage 返回展示给用户的错误文本
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appError *AppError
	if !errors.As(err, &appError) {
		return err.Error()
	}
	switch appError.Type {
	case ErrorTypeNetwork:
		// 网络错误原样暴露
		if appError.Err != nil {
			return appError.Err.Error()
		}
		return appError.Message
	default:
		return appError.Message
	}
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeConfiguration:
		return "API_KEY_MISSING"
	case ErrorTypeNetwork:
		return "NETWORK_ERROR"
	case ErrorTypeAPI:
		return "LLM_REQUEST_FAILED"
	case ErrorTypeMalformedResponse:
		return "LLM_RESPONSE_INVALID"
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeConflict:
		return "CONFLICT"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，只更新消息
		return &AppError{
			Type:       appError.Type,
			Message:    fmt.Sprintf("%s: %s", message, appError.Message),
			Err:        appError,
			Code:       appError.Code,
			StatusCode: appError.StatusCode,
		}
	}

	// 否则创建新的 AppError
	return NewAppError(errType, message, err)
}
