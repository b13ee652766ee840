// internal/services/analyzer_service.go
package services

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Corphon/SceneForge/internal/models"
)

const (
	// 朗读速度（词/分钟）
	wordsPerMinute = 200.0

	minRecommendedScenes = 2
	maxRecommendedScenes = 15
)

// AnalyzeScript 纯函数：统计词数并给出推荐场景数、预计时长与复杂度
func AnalyzeScript(script string) models.ScriptAnalysis {
	words := strings.Fields(script)
	wordCount := len(words)

	return models.ScriptAnalysis{
		WordCount:                wordCount,
		RecommendedScenes:        RecommendedScenes(wordCount),
		EstimatedDurationMinutes: math.Round(float64(wordCount)/wordsPerMinute*10) / 10,
		ComplexityScore:          complexityOf(words, countSentences(script)),
	}
}

// RecommendedScenes 按词数分档，随词数单调不减，结果在 [2, 15]
func RecommendedScenes(wordCount int) int {
	switch {
	case wordCount < 100:
		return minRecommendedScenes
	case wordCount < 300:
		return 4
	case wordCount < 600:
		return 6
	case wordCount < 900:
		return 9
	}
	n := wordCount / 100
	if n < 9 {
		n = 9
	}
	if n > maxRecommendedScenes {
		n = maxRecommendedScenes
	}
	return n
}

func complexityOf(words []string, sentences int) models.Complexity {
	if len(words) == 0 {
		return models.ComplexitySimple
	}

	letters := 0
	for _, w := range words {
		letters += utf8.RuneCountInString(w)
	}
	avgWordLen := float64(letters) / float64(len(words))

	switch {
	case avgWordLen > 6:
		return models.ComplexityComplex
	case avgWordLen > 5:
		return models.ComplexityModerate
	}

	if sentences > 0 && float64(len(words))/float64(sentences) > 25 {
		return models.ComplexityModerate
	}
	return models.ComplexitySimple
}

// countSentences 以 . ! ? 结尾的连续片段计为一句；没有终止符的非空文本计为一句
func countSentences(script string) int {
	count := 0
	inSentence := false
	for _, r := range script {
		switch {
		case r == '.' || r == '!' || r == '?':
			if inSentence {
				count++
				inSentence = false
			}
		case !unicode.IsSpace(r):
			inSentence = true
		}
	}
	if inSentence {
		count++
	}
	return count
}
