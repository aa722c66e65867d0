package handler

import (
	"strconv"

	"course-rag-go/internal/model"
	"course-rag-go/internal/service"
	"course-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 提供检索诊断接口。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 对课程材料执行一次向量检索，不经过生成。
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		log.Warnf("[SearchHandler] 搜索请求失败: query 参数为空")
		respondBadRequest(c, "无效的查询参数")
		return
	}
	topK, err := strconv.Atoi(c.DefaultQuery("top_k", strconv.Itoa(service.DefaultTopK)))
	if err != nil || topK <= 0 {
		topK = service.DefaultTopK
	}
	scope := model.Scope{CourseID: c.Query("course_id"), ChapterID: c.Query("chapter_id")}

	result, err := h.searchService.Retrieve(c.Request.Context(), query, scope, topK)
	if err != nil {
		respondError(c, err)
		return
	}

	hits := make([]model.SearchHitDTO, 0, len(result.Items))
	for _, it := range result.Items {
		hits = append(hits, model.SearchHitDTO{
			ChunkText: it.Chunk.Text,
			Score:     it.Score,
			CourseID:  it.CourseID,
			ChapterID: it.ChapterID,
			Sequence:  it.Chunk.Sequence,
		})
	}
	log.Infof("[SearchHandler] 检索完成, query: '%s', 返回 %d 条结果", query, len(hits))
	respondOK(c, gin.H{"query": query, "results": hits})
}
