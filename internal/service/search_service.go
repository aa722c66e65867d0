// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"course-rag-go/internal/model"
	"course-rag-go/internal/vectorindex"
	"course-rag-go/pkg/embedding"
	"course-rag-go/pkg/log"
)

// DefaultTopK 是未指定时返回的检索结果数。
const DefaultTopK = 3

// SearchService 负责把问题转换为向量并在课程范围内检索相关分块。
type SearchService interface {
	Retrieve(ctx context.Context, query string, scope model.Scope, topK int) (model.RetrievalResult, error)
}

// SearchConfig 配置检索行为。
type SearchConfig struct {
	// MinSimilarity 以下的候选不会作为来源返回。
	MinSimilarity float64
	EmbedTimeout  time.Duration
}

type searchService struct {
	embedder embedding.Client
	index    *vectorindex.Index
	cfg      SearchConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embedder embedding.Client, index *vectorindex.Index, cfg SearchConfig) SearchService {
	return &searchService{embedder: embedder, index: index, cfg: cfg}
}

// Retrieve 返回至多 topK 个去重后的分块，按相似度降序。没有匹配时返回空结果而不是错误。
func (s *searchService) Retrieve(ctx context.Context, query string, scope model.Scope, topK int) (model.RetrievalResult, error) {
	result := model.RetrievalResult{Query: query, Items: []model.RetrievedChunk{}}
	if strings.TrimSpace(query) == "" {
		return result, fmt.Errorf("%w: query is empty", model.ErrInvalidArgument)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		return result, err
	}

	// 多取一倍候选，去重后仍能填满 topK
	hits, err := s.index.Search(vec, topK*2, scope)
	if err != nil {
		return result, err
	}

	for _, h := range hits {
		if h.Score < s.cfg.MinSimilarity {
			break
		}
		if overlapsKept(result.Items, h) {
			continue
		}
		result.Items = append(result.Items, model.RetrievedChunk{
			CourseID:  h.Entry.CourseID,
			ChapterID: h.Entry.ChapterID,
			Version:   h.Entry.Version,
			Chunk:     h.Entry.Chunk,
			Score:     h.Score,
		})
		if len(result.Items) == topK {
			break
		}
	}
	log.Infof("[SearchService] 检索完成, course_id: %s, chapter_id: %s, 候选: %d, 返回: %d, top_score: %.4f",
		scope.CourseID, scope.ChapterID, len(hits), len(result.Items), result.TopScore())
	return result, nil
}

func (s *searchService) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ectx := ctx
	if s.cfg.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, s.cfg.EmbedTimeout)
		defer cancel()
	}
	vec, err := s.embedder.CreateEmbedding(ectx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("%w: %v", model.ErrEmbeddingUnavailable, err)
	}
	return vec, nil
}

// overlapsKept 判断候选是否与已保留的同章节同版本分块重叠超过较短者的一半。
func overlapsKept(kept []model.RetrievedChunk, cand model.ScoredEntry) bool {
	c := cand.Entry
	for _, k := range kept {
		if k.CourseID != c.CourseID || k.ChapterID != c.ChapterID || k.Version != c.Version {
			continue
		}
		lo := max(k.Chunk.StartOffset, c.Chunk.StartOffset)
		hi := min(k.Chunk.EndOffset, c.Chunk.EndOffset)
		shorter := min(k.Chunk.Len(), c.Chunk.Len())
		if hi > lo && shorter > 0 && 2*(hi-lo) > shorter {
			return true
		}
	}
	return false
}
