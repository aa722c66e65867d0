package service

import (
	"testing"

	"course-rag-go/internal/model"

	"github.com/stretchr/testify/assert"
)

func resultWithTop(scores ...float64) model.RetrievalResult {
	items := make([]model.RetrievedChunk, len(scores))
	for i, s := range scores {
		items[i] = model.RetrievedChunk{Score: s}
	}
	return model.RetrievalResult{Items: items}
}

func TestConfidenceScorer(t *testing.T) {
	sc := NewConfidenceScorer(0.2, 0.85)

	t.Run("empty result is exactly zero", func(t *testing.T) {
		assert.Equal(t, 0.0, sc.Score(model.RetrievalResult{}))
		assert.Equal(t, 0.0, sc.Score(resultWithTop()))
	})

	t.Run("thresholds", func(t *testing.T) {
		assert.Equal(t, 0.0, sc.Score(resultWithTop(0.2)))
		assert.Equal(t, 0.0, sc.Score(resultWithTop(-0.5)))
		assert.Equal(t, MaxConfidence, sc.Score(resultWithTop(0.85)))
		assert.Equal(t, MaxConfidence, sc.Score(resultWithTop(1)))
		assert.InDelta(t, MaxConfidence/2, sc.Score(resultWithTop(0.525)), 1e-9)
	})

	t.Run("uses top-1 similarity", func(t *testing.T) {
		assert.Equal(t, sc.Score(resultWithTop(0.7)), sc.Score(resultWithTop(0.3, 0.7, 0.5)))
	})

	t.Run("monotone and bounded", func(t *testing.T) {
		prev := -1.0
		for s := -1.0; s <= 1.0001; s += 0.01 {
			got := sc.Score(resultWithTop(s))
			assert.GreaterOrEqual(t, got, prev, "similarity %.2f", s)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
			prev = got
		}
	})

	t.Run("invalid thresholds fall back to defaults", func(t *testing.T) {
		d := NewConfidenceScorer(0.9, 0.1)
		assert.Equal(t, DefaultConfidenceFloor, d.Floor)
		assert.Equal(t, DefaultConfidenceCeiling, d.Ceiling)
	})
}
