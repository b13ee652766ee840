// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest      = "BAD_REQUEST"
	ErrorValidation      = "VALIDATION_ERROR"
	ErrorNotFound        = "NOT_FOUND"
	ErrorInternalError   = "INTERNAL_ERROR"
	ErrorTooManyRequests = "RATE_LIMIT_EXCEEDED"

	// 会话相关错误
	ErrorSessionNotFound = "SESSION_NOT_FOUND"
	ErrorSceneNotFound   = "SCENE_NOT_FOUND"
	ErrorSaveFailed      = "SAVE_FAILED"

	// 项目相关错误
	ErrorProjectNotFound = "PROJECT_NOT_FOUND"
	ErrorScriptNotFound  = "SCRIPT_NOT_FOUND"
	ErrorFileNotFound    = "FILE_NOT_FOUND"

	// 上游服务
	ErrorUpstream = "UPSTREAM_ERROR"
)
