// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeProcessing ErrorType = "processing_error"
	// 外部图像/文本服务返回的错误
	ErrorTypeUpstream ErrorType = "upstream_error"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 对外暴露的错误代码
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

func newAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    codeFor(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return newAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误，message 会原样返回给客户端
func NewNotFoundError(message string, originalError error) *AppError {
	return newAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError 创建处理错误
func NewProcessingError(message string, originalError error) *AppError {
	return newAppError(ErrorTypeProcessing, message, originalError)
}

// NewUpstreamError 创建外部服务错误
func NewUpstreamError(provider string, originalError error) *AppError {
	return newAppError(ErrorTypeUpstream, provider+" request failed", originalError)
}

func isType(err error, t ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == t
	}
	return false
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsProcessingError 检查是否为处理错误
func IsProcessingError(err error) bool { return isType(err, ErrorTypeProcessing) }

// IsUpstreamError 检查是否为外部服务错误
func IsUpstreamError(err error) bool { return isType(err, ErrorTypeUpstream) }

// Message 返回适合展示给客户端的消息；非 AppError 返回 err.Error()
func Message(err error) string {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func codeFor(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeProcessing:
		return "PROCESSING_ERROR"
	case ErrorTypeUpstream:
		return "UPSTREAM_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}
