// Package pipeline 定义了章节索引的核心流程：切分、向量化、替换索引并记录版本。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"course-rag-go/internal/model"
	"course-rag-go/internal/repository"
	"course-rag-go/internal/vectorindex"
	"course-rag-go/pkg/embedding"
	"course-rag-go/pkg/log"
	"course-rag-go/pkg/storage"
	"course-rag-go/pkg/tasks"

	"golang.org/x/sync/errgroup"
)

// TextArchive 保存与读取章节原文。
type TextArchive interface {
	PutText(ctx context.Context, objectName, text string) error
	GetText(ctx context.Context, objectName string) (string, error)
}

// ChapterMirror 接收章节分块的镜像写入，例如 Elasticsearch。
type ChapterMirror interface {
	IndexChapter(ctx context.Context, entries []model.IndexEntry) error
	DeleteChapter(ctx context.Context, courseID, chapterID string) error
}

// Processor 封装了章节索引的所有依赖和逻辑。
type Processor struct {
	embedder    embedding.Client
	index       *vectorindex.Index
	chunkSize   int
	overlap     int
	concurrency int

	docs    repository.DocumentRepository
	archive TextArchive
	mirror  ChapterMirror

	mu       sync.Mutex
	locks    map[string]chan struct{}
	versions map[string]int
}

// ProcessorOption 配置可选依赖。
type ProcessorOption func(*Processor)

// WithDocumentRepository 记录每次索引的版本。
func WithDocumentRepository(repo repository.DocumentRepository) ProcessorOption {
	return func(p *Processor) { p.docs = repo }
}

// WithArchive 归档每个版本的章节原文。
func WithArchive(archive TextArchive) ProcessorOption {
	return func(p *Processor) { p.archive = archive }
}

// WithMirror 将分块同步到镜像索引。
func WithMirror(mirror ChapterMirror) ProcessorOption {
	return func(p *Processor) { p.mirror = mirror }
}

// NewProcessor 创建一个新的 Processor 实例，切分参数非法时返回 ErrInvalidChunkParams。
func NewProcessor(embedder embedding.Client, index *vectorindex.Index, chunkSize, overlap, concurrency int, opts ...ProcessorOption) (*Processor, error) {
	if chunkSize <= 0 || overlap <= 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", model.ErrInvalidChunkParams, chunkSize, overlap)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	p := &Processor{
		embedder:    embedder,
		index:       index,
		chunkSize:   chunkSize,
		overlap:     overlap,
		concurrency: concurrency,
		locks:       make(map[string]chan struct{}),
		versions:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func chapterKey(courseID, chapterID string) string {
	return courseID + "/" + chapterID
}

// lockChapter 保证同一章节同一时间只有一次索引在进行。
func (p *Processor) lockChapter(ctx context.Context, courseID, chapterID string) (func(), error) {
	key := chapterKey(courseID, chapterID)
	p.mu.Lock()
	sem, ok := p.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		p.locks[key] = sem
	}
	p.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IndexChapter 对章节文本执行完整索引流程，成功后该章节在索引中只包含本次的分块。
// 任一分块向量化失败时索引保持不变。
func (p *Processor) IndexChapter(ctx context.Context, courseID, chapterID, text string) (*model.Document, error) {
	if strings.TrimSpace(courseID) == "" || strings.TrimSpace(chapterID) == "" {
		return nil, fmt.Errorf("%w: course_id and chapter_id are required", model.ErrInvalidArgument)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s/%s", model.ErrEmptyDocument, courseID, chapterID)
	}

	unlock, err := p.lockChapter(ctx, courseID, chapterID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	log.Infof("[Processor] 开始索引章节, course_id: %s, chapter_id: %s, 字符数: %d", courseID, chapterID, utf8.RuneCountInString(text))

	// 1. 切分
	chunks, err := Split(text, p.chunkSize, p.overlap)
	if err != nil {
		return nil, err
	}
	log.Infof("[Processor] 步骤1: 文本分块完成, 共生成 %d 个分块", len(chunks))

	// 2. 并发向量化
	vectors, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}
	log.Info("[Processor] 步骤2: 所有分块向量化完成")

	// 3. 确定版本并归档原文
	version := p.nextVersion(ctx, courseID, chapterID)
	doc := &model.Document{
		CourseID:   courseID,
		ChapterID:  chapterID,
		Version:    version,
		CharCount:  utf8.RuneCountInString(text),
		ChunkCount: len(chunks),
	}
	if p.archive != nil {
		key := storage.ChapterObjectKey(courseID, chapterID, version)
		if err := p.archive.PutText(ctx, key, text); err != nil {
			log.Warnf("[Processor] 归档章节原文失败, key: %s, error: %v", key, err)
		} else {
			doc.ObjectKey = key
		}
	}

	// 4. 原子替换索引中的章节
	entries := make([]model.IndexEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = model.IndexEntry{
			CourseID:  courseID,
			ChapterID: chapterID,
			Version:   version,
			Chunk:     c,
			Embedding: vectors[i],
		}
	}
	if err := p.index.ReplaceChapter(courseID, chapterID, entries); err != nil {
		return nil, err
	}
	log.Infof("[Processor] 步骤3: 章节已写入向量索引, version: %d", version)

	// 5. 持久化与镜像失败不影响本次索引结果
	if err := p.index.Persist(ctx); err != nil {
		log.Errorf("[Processor] 保存索引快照失败: %v", err)
	}
	if p.mirror != nil {
		if err := p.mirror.DeleteChapter(ctx, courseID, chapterID); err != nil {
			log.Warnf("[Processor] 清理镜像旧分块失败: %v", err)
		} else if err := p.mirror.IndexChapter(ctx, entries); err != nil {
			log.Warnf("[Processor] 写入镜像失败: %v", err)
		}
	}
	if p.docs != nil {
		if err := p.docs.Create(ctx, doc); err != nil {
			log.Errorf("[Processor] 记录文档版本失败: %v", err)
		}
	}
	doc.CreatedAt = time.Now()

	log.Infof("[Processor] 章节索引完成, course_id: %s, chapter_id: %s, version: %d, 分块数: %d, 耗时: %s",
		courseID, chapterID, version, len(chunks), time.Since(start))
	return doc, nil
}

func (p *Processor) embedChunks(ctx context.Context, chunks []model.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range chunks {
		i := i
		g.Go(func() error {
			vec, err := p.embedder.CreateEmbedding(gctx, chunks[i].Text)
			if err != nil {
				return fmt.Errorf("%w: chunk %d: %v", model.ErrEmbeddingUnavailable, chunks[i].Sequence, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Errorf("[Processor] 分块向量化失败: %v", err)
		return nil, err
	}
	return vectors, nil
}

// nextVersion 返回章节的下一个版本号。仓库不可用时退回进程内计数。
func (p *Processor) nextVersion(ctx context.Context, courseID, chapterID string) int {
	key := chapterKey(courseID, chapterID)
	latest := 0
	if p.docs != nil {
		v, err := p.docs.LatestVersion(ctx, courseID, chapterID)
		if err != nil {
			log.Warnf("[Processor] 查询章节版本失败, 使用进程内计数: %v", err)
		} else {
			latest = v
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.versions[key] > latest {
		latest = p.versions[key]
	}
	p.versions[key] = latest + 1
	return latest + 1
}

// RemoveChapter 从索引中删除章节，返回删除的分块数。
func (p *Processor) RemoveChapter(ctx context.Context, courseID, chapterID string) (int, error) {
	if courseID == "" || chapterID == "" {
		return 0, fmt.Errorf("%w: course_id and chapter_id are required", model.ErrInvalidArgument)
	}
	unlock, err := p.lockChapter(ctx, courseID, chapterID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	removed := p.index.Remove(courseID, chapterID)
	if removed > 0 {
		if err := p.index.Persist(ctx); err != nil {
			log.Errorf("[Processor] 保存索引快照失败: %v", err)
		}
	}
	if p.mirror != nil {
		if err := p.mirror.DeleteChapter(ctx, courseID, chapterID); err != nil {
			log.Warnf("[Processor] 清理镜像分块失败: %v", err)
		}
	}
	log.Infof("[Processor] 章节已删除, course_id: %s, chapter_id: %s, 分块数: %d", courseID, chapterID, removed)
	return removed, nil
}

// Process 处理一个来自 Kafka 的索引任务。
func (p *Processor) Process(ctx context.Context, task tasks.IndexTask) error {
	text := task.Text
	if text == "" && task.ObjectKey != "" {
		if p.archive == nil {
			return fmt.Errorf("%w: task %s references %s but no archive is configured", model.ErrNotConfigured, task.TaskID, task.ObjectKey)
		}
		var err error
		text, err = p.archive.GetText(ctx, task.ObjectKey)
		if err != nil {
			return err
		}
	}
	_, err := p.IndexChapter(ctx, task.CourseID, task.ChapterID, text)
	if errors.Is(err, model.ErrEmptyDocument) || errors.Is(err, model.ErrInvalidArgument) {
		// 无法通过重试修复
		log.Warnf("[Processor] 丢弃无效任务, task_id: %s, error: %v", task.TaskID, err)
		return nil
	}
	return err
}
