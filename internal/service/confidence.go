package service

import (
	"math"

	"course-rag-go/internal/model"
)

// 默认的置信度映射参数。
const (
	DefaultConfidenceFloor   = 0.2
	DefaultConfidenceCeiling = 0.85
	MaxConfidence            = 0.95
)

// ConfidenceScorer 将最高相似度线性映射为 [0, Max] 内的置信度：
// 不高于 Floor 为 0，不低于 Ceiling 为 Max，中间线性插值。
type ConfidenceScorer struct {
	Floor   float64
	Ceiling float64
	Max     float64
}

// NewConfidenceScorer 创建评分器，参数不合法时使用默认值。
func NewConfidenceScorer(floor, ceiling float64) ConfidenceScorer {
	if floor < 0 || ceiling > 1 || ceiling <= floor {
		floor, ceiling = DefaultConfidenceFloor, DefaultConfidenceCeiling
	}
	return ConfidenceScorer{Floor: floor, Ceiling: ceiling, Max: MaxConfidence}
}

// Score 计算检索结果的置信度。空结果恒为 0。
func (c ConfidenceScorer) Score(result model.RetrievalResult) float64 {
	if result.Empty() {
		return 0
	}
	return c.fromSimilarity(result.TopScore())
}

func (c ConfidenceScorer) fromSimilarity(sim float64) float64 {
	switch {
	case math.IsNaN(sim) || sim <= c.Floor:
		return 0
	case sim >= c.Ceiling:
		return c.Max
	}
	return c.Max * (sim - c.Floor) / (c.Ceiling - c.Floor)
}
