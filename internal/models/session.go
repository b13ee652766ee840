// internal/models/session.go
package models

import "sort"

// SessionStatus 生成会话状态
type SessionStatus string

const (
	StatusGenerating SessionStatus = "generating"
	StatusPreviewing SessionStatus = "previewing"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// Terminal 是否为终止状态
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PreviewImage 单个场景的生成结果；PreviewURL 为空表示失败，此时 Error 非空
type PreviewImage struct {
	SceneNumber    int     `json:"scene_number"`
	SceneTitle     string  `json:"scene_title"`
	Prompt         string  `json:"prompt"`
	PreviewURL     string  `json:"preview_url"`
	GenerationTime float64 `json:"generation_time"`
	ProviderUsed   string  `json:"provider_used"`
	ModelUsed      string  `json:"model_used"`
	Approved       bool    `json:"approved"`
	Error          *string `json:"error"`
}

// Succeeded 是否生成成功
func (p PreviewImage) Succeeded() bool {
	return p.PreviewURL != ""
}

// GenerationSession 一次生成请求的完整状态
type GenerationSession struct {
	SessionID       string         `json:"session_id"`
	ProjectID       string         `json:"project_id"`
	Status          SessionStatus  `json:"status"`
	TotalScenes     int            `json:"total_scenes"`
	CompletedScenes int            `json:"completed_scenes"`
	Previews        []PreviewImage `json:"previews"`
	ScenePrompts    []ScenePrompt  `json:"scene_prompts"`
	Errors          []string       `json:"errors"`
}

// NewGenerationSession 创建处于 generating 状态的会话
func NewGenerationSession(sessionID, projectID string, prompts []ScenePrompt) *GenerationSession {
	return &GenerationSession{
		SessionID:    sessionID,
		ProjectID:    projectID,
		Status:       StatusGenerating,
		TotalScenes:  len(prompts),
		Previews:     []PreviewImage{},
		ScenePrompts: append([]ScenePrompt{}, prompts...),
		Errors:       []string{},
	}
}

// Clone 深拷贝，调用方可以自由修改返回值
func (s *GenerationSession) Clone() *GenerationSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Previews = make([]PreviewImage, len(s.Previews))
	for i, p := range s.Previews {
		if p.Error != nil {
			msg := *p.Error
			p.Error = &msg
		}
		c.Previews[i] = p
	}
	c.ScenePrompts = append([]ScenePrompt{}, s.ScenePrompts...)
	c.Errors = append([]string{}, s.Errors...)
	return &c
}

// FindPrompt 按场景编号查找提示词
func (s *GenerationSession) FindPrompt(sceneNumber int) (ScenePrompt, bool) {
	for _, p := range s.ScenePrompts {
		if p.SceneNumber == sceneNumber {
			return p, true
		}
	}
	return ScenePrompt{}, false
}

// HasPreview 该场景是否已有结果
func (s *GenerationSession) HasPreview(sceneNumber int) bool {
	for _, p := range s.Previews {
		if p.SceneNumber == sceneNumber {
			return true
		}
	}
	return false
}

// UpsertPreview 按场景编号替换或追加结果，保持编号有序并同步 CompletedScenes
func (s *GenerationSession) UpsertPreview(preview PreviewImage) {
	replaced := false
	for i := range s.Previews {
		if s.Previews[i].SceneNumber == preview.SceneNumber {
			s.Previews[i] = preview
			replaced = true
			break
		}
	}
	if !replaced {
		s.Previews = append(s.Previews, preview)
		sort.SliceStable(s.Previews, func(i, j int) bool {
			return s.Previews[i].SceneNumber < s.Previews[j].SceneNumber
		})
	}
	s.CompletedScenes = len(s.Previews)
}

// ApplyApprovals 根据场景编号设置 Approved，未提及的场景保持原值
func (s *GenerationSession) ApplyApprovals(approvals map[int]bool) {
	for i := range s.Previews {
		if approved, ok := approvals[s.Previews[i].SceneNumber]; ok {
			s.Previews[i].Approved = approved
		}
	}
}

// SessionSummary 会话列表条目
type SessionSummary struct {
	SessionID       string        `json:"session_id"`
	ProjectID       string        `json:"project_id"`
	Status          SessionStatus `json:"status"`
	TotalScenes     int           `json:"total_scenes"`
	CompletedScenes int           `json:"completed_scenes"`
}

// Summary 返回会话摘要
func (s *GenerationSession) Summary() SessionSummary {
	return SessionSummary{
		SessionID:       s.SessionID,
		ProjectID:       s.ProjectID,
		Status:          s.Status,
		TotalScenes:     s.TotalScenes,
		CompletedScenes: s.CompletedScenes,
	}
}
