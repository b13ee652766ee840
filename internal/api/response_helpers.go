// internal/api/response_helpers.go
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/services"
	"github.com/Corphon/SceneForge/internal/utils"
	"github.com/gin-gonic/gin"
)

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse 错误响应体；detail 与 message 相同，方便只读取 detail 的客户端
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     *APIError `json:"error"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct{}

// NewResponseHelper 创建响应助手
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success 成功响应，直接返回数据本身
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// sanitizeErrorMessage 含有密钥相关字样的消息整体替换
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "apikey", "secret", "token", "bearer "} {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string) {
	message = sanitizeErrorMessage(message)
	c.JSON(statusCode, &ErrorResponse{
		Success: false,
		Error: &APIError{
			Code:    errorCode,
			Message: message,
		},
		Detail:    message,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	})
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message)
}

// Unprocessable 422错误响应，用于请求体绑定失败
func (rh *ResponseHelper) Unprocessable(c *gin.Context, message string) {
	rh.Error(c, http.StatusUnprocessableEntity, ErrorValidation, message)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, code, message string) {
	rh.Error(c, http.StatusNotFound, code, message)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message)
}

// HandleError 按错误类型映射状态码
func (rh *ResponseHelper) HandleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		rh.NotFound(c, ErrorSessionNotFound, apperrors.Message(err))
	case errors.Is(err, services.ErrSceneNotFound):
		rh.NotFound(c, ErrorSceneNotFound, apperrors.Message(err))
	case errors.Is(err, services.ErrProjectNotFound):
		rh.NotFound(c, ErrorProjectNotFound, apperrors.Message(err))
	case errors.Is(err, services.ErrScriptNotFound):
		rh.NotFound(c, ErrorScriptNotFound, apperrors.Message(err))
	case apperrors.IsNotFoundError(err):
		rh.NotFound(c, ErrorNotFound, apperrors.Message(err))
	case apperrors.IsValidationError(err):
		rh.BadRequest(c, apperrors.Message(err))
	case apperrors.IsUpstreamError(err):
		rh.Error(c, http.StatusBadGateway, ErrorUpstream, apperrors.Message(err))
	default:
		utils.GetLogger().Error("请求处理失败", map[string]interface{}{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
		rh.InternalError(c, apperrors.Message(err))
	}
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
