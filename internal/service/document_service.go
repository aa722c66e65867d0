package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"course-rag-go/internal/model"
	"course-rag-go/pkg/log"
	"course-rag-go/pkg/storage"
	"course-rag-go/pkg/tasks"

	"github.com/google/uuid"
)

// ChapterIndexer 执行章节索引与删除，由 pipeline.Processor 实现。
type ChapterIndexer interface {
	IndexChapter(ctx context.Context, courseID, chapterID, text string) (*model.Document, error)
	RemoveChapter(ctx context.Context, courseID, chapterID string) (int, error)
}

// TextExtractor 从上传的文件中提取纯文本。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// TaskPublisher 发布异步索引任务。
type TaskPublisher interface {
	PublishIndexTask(ctx context.Context, task tasks.IndexTask) error
}

// TextStore 暂存异步任务的章节原文。
type TextStore interface {
	PutText(ctx context.Context, objectName, text string) error
}

// StatsSource 提供索引统计。
type StatsSource interface {
	Stats() model.IndexStats
}

// DocumentService 接口定义了章节文档相关的业务操作。
type DocumentService interface {
	IndexText(ctx context.Context, courseID, chapterID, text string) (*model.Document, error)
	IndexFile(ctx context.Context, courseID, chapterID, fileName string, r io.Reader) (*model.Document, error)
	// Enqueue 发布异步索引任务并返回任务 ID。
	Enqueue(ctx context.Context, courseID, chapterID, text string) (string, error)
	RemoveChapter(ctx context.Context, courseID, chapterID string) (int, error)
	Stats() model.IndexStats
}

type documentService struct {
	indexer        ChapterIndexer
	stats          StatsSource
	embeddingModel string

	extractor TextExtractor
	publisher TaskPublisher
	pending   TextStore
	// inlineLimit 以内的文本直接放在任务消息里，更长的先写入 pending 存储。
	inlineLimit int
}

// DocumentOption 配置可选依赖。
type DocumentOption func(*documentService)

// WithExtractor 启用文件上传索引。
func WithExtractor(extractor TextExtractor) DocumentOption {
	return func(s *documentService) { s.extractor = extractor }
}

// WithPublisher 启用异步索引。
func WithPublisher(publisher TaskPublisher, pending TextStore) DocumentOption {
	return func(s *documentService) {
		s.publisher = publisher
		s.pending = pending
	}
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(indexer ChapterIndexer, stats StatsSource, embeddingModel string, opts ...DocumentOption) DocumentService {
	s := &documentService{
		indexer:        indexer,
		stats:          stats,
		embeddingModel: embeddingModel,
		inlineLimit:    256 * 1024,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *documentService) IndexText(ctx context.Context, courseID, chapterID, text string) (*model.Document, error) {
	return s.indexer.IndexChapter(ctx, courseID, chapterID, text)
}

func (s *documentService) IndexFile(ctx context.Context, courseID, chapterID, fileName string, r io.Reader) (*model.Document, error) {
	if s.extractor == nil {
		return nil, fmt.Errorf("%w: text extraction service", model.ErrNotConfigured)
	}
	log.Infof("[DocumentService] 开始提取文件文本, file: %s, course_id: %s, chapter_id: %s", fileName, courseID, chapterID)
	text, err := s.extractor.ExtractText(ctx, r, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text from %s: %w", fileName, err)
	}
	return s.indexer.IndexChapter(ctx, courseID, chapterID, text)
}

func (s *documentService) Enqueue(ctx context.Context, courseID, chapterID, text string) (string, error) {
	if s.publisher == nil {
		return "", fmt.Errorf("%w: async indexing", model.ErrNotConfigured)
	}
	if strings.TrimSpace(courseID) == "" || strings.TrimSpace(chapterID) == "" {
		return "", fmt.Errorf("%w: course_id and chapter_id are required", model.ErrInvalidArgument)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s/%s", model.ErrEmptyDocument, courseID, chapterID)
	}

	task := tasks.IndexTask{
		TaskID:      uuid.NewString(),
		CourseID:    courseID,
		ChapterID:   chapterID,
		RequestedAt: time.Now(),
	}
	if len(text) > s.inlineLimit && s.pending != nil {
		task.ObjectKey = storage.PendingObjectKey(courseID, chapterID, task.TaskID)
		if err := s.pending.PutText(ctx, task.ObjectKey, text); err != nil {
			return "", err
		}
	} else {
		task.Text = text
	}

	if err := s.publisher.PublishIndexTask(ctx, task); err != nil {
		return "", err
	}
	log.Infof("[DocumentService] 索引任务已发布, task_id: %s, chapter: %s", task.TaskID, task.Key())
	return task.TaskID, nil
}

func (s *documentService) RemoveChapter(ctx context.Context, courseID, chapterID string) (int, error) {
	return s.indexer.RemoveChapter(ctx, courseID, chapterID)
}

func (s *documentService) Stats() model.IndexStats {
	stats := s.stats.Stats()
	stats.EmbeddingModel = s.embeddingModel
	return stats
}
