package model

// RetrievedChunk 是检索结果中的一项。
type RetrievedChunk struct {
	CourseID  string
	ChapterID string
	Version   int
	Chunk     Chunk
	Score     float64
}

// RetrievalResult 是一次检索的排序结果，仅在单次请求内有效。
type RetrievalResult struct {
	Query string
	Items []RetrievedChunk
}

// Empty 表示没有任何可用的课程材料。
func (r RetrievalResult) Empty() bool {
	return len(r.Items) == 0
}

// TopScore 返回最高相似度，空结果返回 0。
func (r RetrievalResult) TopScore() float64 {
	if len(r.Items) == 0 {
		return 0
	}
	top := r.Items[0].Score
	for _, it := range r.Items[1:] {
		if it.Score > top {
			top = it.Score
		}
	}
	return top
}

// Sources 将检索结果转换为可返回给前端的引用列表，空结果返回空切片而非 nil。
func (r RetrievalResult) Sources() []Source {
	out := make([]Source, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, Source{
			CourseID:    it.CourseID,
			ChapterID:   it.ChapterID,
			Sequence:    it.Chunk.Sequence,
			StartOffset: it.Chunk.StartOffset,
			EndOffset:   it.Chunk.EndOffset,
			ChunkText:   it.Chunk.Text,
			Score:       it.Score,
		})
	}
	return out
}

// AskRequest 是一次提问请求。
type AskRequest struct {
	SessionID string `json:"session_id"`
	StudentID string `json:"student_id"`
	Question  string `json:"question"`
	CourseID  string `json:"course_id"`
	ChapterID string `json:"chapter_id"`
}

// AskResponse 是返回给前端的结构化回答。
type AskResponse struct {
	SessionID        string   `json:"session_id"`
	Answer           string   `json:"answer"`
	Sources          []Source `json:"sources"`
	Confidence       float64  `json:"confidence"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	Degraded         bool     `json:"degraded,omitempty"`
}

// SearchHitDTO 是诊断检索接口返回的单条结果。
type SearchHitDTO struct {
	ChunkText string  `json:"chunk_text"`
	Score     float64 `json:"score"`
	CourseID  string  `json:"course_id"`
	ChapterID string  `json:"chapter_id"`
	Sequence  int     `json:"chunk_sequence"`
}
