// Package model 包含了应用的数据模型定义。
package model

import "time"

// Document 对应数据库中的 course_documents 表，记录每个章节的一次索引版本。
// 同一章节重新上传会生成新版本，旧版本的分块在索引中被整体替换。
type Document struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CourseID   string    `gorm:"type:varchar(64);not null;index:idx_course_chapter" json:"course_id"`
	ChapterID  string    `gorm:"type:varchar(64);not null;index:idx_course_chapter" json:"chapter_id"`
	Version    int       `gorm:"not null" json:"version"`
	CharCount  int       `gorm:"not null" json:"char_count"`
	ChunkCount int       `gorm:"not null" json:"chunk_count"`
	ObjectKey  string    `gorm:"type:varchar(255)" json:"object_key,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Document) TableName() string {
	return "course_documents"
}

// Chunk 是文档切分后的检索单元。偏移量按字符（rune）计算，区间左闭右开。
type Chunk struct {
	Sequence    int    `json:"sequence"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Text        string `json:"text"`
}

// Len 返回分块的字符数。
func (c Chunk) Len() int {
	return c.EndOffset - c.StartOffset
}

// IndexEntry 是向量索引中存储的最小单元。
type IndexEntry struct {
	CourseID  string    `json:"course_id"`
	ChapterID string    `json:"chapter_id"`
	Version   int       `json:"version"`
	Chunk     Chunk     `json:"chunk"`
	Embedding []float32 `json:"embedding"`
}

// Scope 限定检索或会话所属的课程与章节，空字段表示不限定。
type Scope struct {
	CourseID  string `json:"course_id,omitempty"`
	ChapterID string `json:"chapter_id,omitempty"`
}

// Match 判断索引条目是否落在该范围内。
func (s Scope) Match(e *IndexEntry) bool {
	if s.CourseID != "" && e.CourseID != s.CourseID {
		return false
	}
	if s.ChapterID != "" && e.ChapterID != s.ChapterID {
		return false
	}
	return true
}

// ScoredEntry 是一次向量检索命中的条目及其相似度。
type ScoredEntry struct {
	Entry IndexEntry
	Score float64
}

// IndexStats 汇总向量索引的当前状态。
type IndexStats struct {
	TotalChunks         int            `json:"total_chunks"`
	CoursesIndexed      int            `json:"courses_indexed"`
	ChaptersIndexed     int            `json:"chapters_indexed"`
	CourseDistribution  map[string]int `json:"course_distribution"`
	ChapterDistribution map[string]int `json:"chapter_distribution"`
	Dimension           int            `json:"vector_dimension"`
	EmbeddingModel      string         `json:"embedding_model,omitempty"`
}
