// internal/models/requests.go
package models

import "strconv"

// 请求默认值
const (
	DefaultTitle         = "Untitled Story"
	DefaultMediaType     = "cinematic"
	DefaultAIProvider    = "openrouter"
	DefaultAIModel       = "openai/gpt-4o-mini"
	DefaultImageProvider = "runware"
	DefaultImageModel    = "runware:101@1"
)

// ScriptRequest POST /analyze-script
type ScriptRequest struct {
	Script string `json:"script" binding:"required"`
	Title  string `json:"title"`
}

// ApplyDefaults 填充缺省字段
func (r *ScriptRequest) ApplyDefaults() {
	if r.Title == "" {
		r.Title = DefaultTitle
	}
}

// GenerationRequest POST /generate-previews
type GenerationRequest struct {
	ProjectID     string `json:"project_id" binding:"required"`
	NumScenes     int    `json:"num_scenes" binding:"required"`
	MediaType     string `json:"media_type"`
	AIProvider    string `json:"ai_provider"`
	AIModel       string `json:"ai_model"`
	ImageProvider string `json:"image_provider"`
	ImageModel    string `json:"image_model"`
}

// ApplyDefaults 填充缺省字段
func (r *GenerationRequest) ApplyDefaults() {
	if r.MediaType == "" {
		r.MediaType = DefaultMediaType
	}
	if r.AIProvider == "" {
		r.AIProvider = DefaultAIProvider
	}
	if r.AIModel == "" {
		r.AIModel = DefaultAIModel
	}
	if r.ImageProvider == "" {
		r.ImageProvider = DefaultImageProvider
	}
	if r.ImageModel == "" {
		r.ImageModel = DefaultImageModel
	}
}

// RegenerationRequest POST /regenerate-scene
type RegenerationRequest struct {
	SessionID     string `json:"session_id" binding:"required"`
	SceneNumber   int    `json:"scene_number" binding:"required"`
	ImageProvider string `json:"image_provider"`
	ImageModel    string `json:"image_model"`
}

// ApplyDefaults 填充缺省字段
func (r *RegenerationRequest) ApplyDefaults() {
	if r.ImageProvider == "" {
		r.ImageProvider = DefaultImageProvider
	}
	if r.ImageModel == "" {
		r.ImageModel = DefaultImageModel
	}
}

// ApprovalRequest POST /approve-previews；JSON 对象键为场景编号字符串
type ApprovalRequest struct {
	SessionID      string          `json:"session_id" binding:"required"`
	SceneApprovals map[string]bool `json:"scene_approvals"`
}

// Approvals 将键解析为场景编号，非数字键返回错误
func (r *ApprovalRequest) Approvals() (map[int]bool, error) {
	result := make(map[int]bool, len(r.SceneApprovals))
	for key, approved := range r.SceneApprovals {
		n, err := strconv.Atoi(key)
		if err != nil {
			return nil, err
		}
		result[n] = approved
	}
	return result, nil
}

// RegenerationResult POST /regenerate-scene 的返回结构
type RegenerationResult struct {
	Status      string       `json:"status"`
	SceneNumber int          `json:"scene_number"`
	NewPreview  PreviewImage `json:"new_preview"`
}

// ApprovalResult POST /approve-previews 的返回结构
type ApprovalResult struct {
	Status      SessionStatus `json:"status"`
	SavedImages int           `json:"saved_images"`
	TotalScenes int           `json:"total_scenes"`
}

// GenerationStarted POST /generate-previews 的返回结构
type GenerationStarted struct {
	SessionID   string        `json:"session_id"`
	Status      SessionStatus `json:"status"`
	TotalScenes int           `json:"total_scenes"`
}
