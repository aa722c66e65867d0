package repository

import (
	"context"
	"errors"

	"course-rag-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 定义了对 course_documents 表的数据操作接口。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	LatestVersion(ctx context.Context, courseID, chapterID string) (int, error)
	ListByChapter(ctx context.Context, courseID, chapterID string) ([]*model.Document, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

// LatestVersion 返回章节当前的最大版本号，从未索引过时返回 0。
func (r *documentRepository) LatestVersion(ctx context.Context, courseID, chapterID string) (int, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).
		Where("course_id = ? AND chapter_id = ?", courseID, chapterID).
		Order("version DESC").
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Version, nil
}

// ListByChapter 按版本升序列出章节的所有索引记录。
func (r *documentRepository) ListByChapter(ctx context.Context, courseID, chapterID string) ([]*model.Document, error) {
	var docs []*model.Document
	err := r.db.WithContext(ctx).
		Where("course_id = ? AND chapter_id = ?", courseID, chapterID).
		Order("version ASC").
		Find(&docs).Error
	return docs, err
}
