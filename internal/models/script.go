// internal/models/script.go
package models

// Complexity 脚本复杂度等级
type Complexity string

const (
	ComplexitySimple   Complexity = "Simple"
	ComplexityModerate Complexity = "Moderate"
	ComplexityComplex  Complexity = "Complex"
)

// ScriptAnalysis 脚本分析结果，生成后不再修改
type ScriptAnalysis struct {
	WordCount                int        `json:"word_count"`
	RecommendedScenes        int        `json:"recommended_scenes"`
	EstimatedDurationMinutes float64    `json:"estimated_duration_minutes"`
	ComplexityScore          Complexity `json:"complexity_score"`
}

// ProjectInfo analyze-script 的返回结构
type ProjectInfo struct {
	ProjectID     string         `json:"project_id"`
	Title         string         `json:"title"`
	CreatedAt     string         `json:"created_at"`
	Analysis      ScriptAnalysis `json:"analysis"`
	ScriptContent string         `json:"script_content"`
}

// ProjectSummary 项目列表条目
type ProjectSummary struct {
	ProjectID string         `json:"project_id"`
	Title     string         `json:"title,omitempty"`
	CreatedAt string         `json:"created_at"`
	Analysis  ScriptAnalysis `json:"analysis"`
}

// ProjectDetail 单个项目详情
type ProjectDetail struct {
	ProjectID   string         `json:"project_id"`
	Title       string         `json:"title,omitempty"`
	Script      string         `json:"script"`
	Analysis    ScriptAnalysis `json:"analysis"`
	Images      []string       `json:"images"`
	TotalImages int            `json:"total_images"`
}

// ScenePrompt 单个场景的提示词
type ScenePrompt struct {
	SceneNumber   int    `json:"scene_number"`
	SceneTitle    string `json:"scene_title"`
	ScriptExcerpt string `json:"script_excerpt"`
	ImagePrompt   string `json:"image_prompt"`
}

// SceneBatch LLM 结构化输出的外层结构
type SceneBatch struct {
	Scenes []ScenePrompt `json:"scenes" jsonschema_description:"Ordered scene descriptions"`
}
