package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"course-rag-go/internal/model"
	"course-rag-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingIndexer struct {
	texts   map[string]string
	removed []string
}

func (r *recordingIndexer) IndexChapter(_ context.Context, courseID, chapterID, text string) (*model.Document, error) {
	r.texts[courseID+"/"+chapterID] = text
	return &model.Document{CourseID: courseID, ChapterID: chapterID, Version: 1, CharCount: len([]rune(text))}, nil
}

func (r *recordingIndexer) RemoveChapter(_ context.Context, courseID, chapterID string) (int, error) {
	r.removed = append(r.removed, courseID+"/"+chapterID)
	return 3, nil
}

type staticStats struct{}

func (staticStats) Stats() model.IndexStats {
	return model.IndexStats{TotalChunks: 7, Dimension: 8}
}

type stubExtractor struct {
	err error
}

func (e stubExtractor) ExtractText(_ context.Context, r io.Reader, _ string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	b, err := io.ReadAll(r)
	return strings.ToUpper(string(b)), err
}

type recordingPublisher struct {
	published []tasks.IndexTask
	err       error
}

func (p *recordingPublisher) PublishIndexTask(_ context.Context, task tasks.IndexTask) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, task)
	return nil
}

type memTextStore map[string]string

func (m memTextStore) PutText(_ context.Context, key, text string) error {
	m[key] = text
	return nil
}

func TestDocumentService_IndexText(t *testing.T) {
	idx := &recordingIndexer{texts: map[string]string{}}
	svc := NewDocumentService(idx, staticStats{}, "nomic-embed-text")

	doc, err := svc.IndexText(context.Background(), "bio", "ch1", "chlorophyll")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, "chlorophyll", idx.texts["bio/ch1"])

	stats := svc.Stats()
	assert.Equal(t, 7, stats.TotalChunks)
	assert.Equal(t, "nomic-embed-text", stats.EmbeddingModel)

	removed, err := svc.RemoveChapter(context.Background(), "bio", "ch1")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, []string{"bio/ch1"}, idx.removed)
}

func TestDocumentService_IndexFile(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		svc := NewDocumentService(&recordingIndexer{texts: map[string]string{}}, staticStats{}, "m")
		_, err := svc.IndexFile(context.Background(), "bio", "ch1", "a.pdf", strings.NewReader("x"))
		assert.ErrorIs(t, err, model.ErrNotConfigured)
	})

	t.Run("extracts then indexes", func(t *testing.T) {
		idx := &recordingIndexer{texts: map[string]string{}}
		svc := NewDocumentService(idx, staticStats{}, "m", WithExtractor(stubExtractor{}))
		_, err := svc.IndexFile(context.Background(), "bio", "ch1", "a.pdf", strings.NewReader("glucose"))
		require.NoError(t, err)
		assert.Equal(t, "GLUCOSE", idx.texts["bio/ch1"])
	})

	t.Run("extraction failure", func(t *testing.T) {
		idx := &recordingIndexer{texts: map[string]string{}}
		svc := NewDocumentService(idx, staticStats{}, "m", WithExtractor(stubExtractor{err: errors.New("tika 500")}))
		_, err := svc.IndexFile(context.Background(), "bio", "ch1", "a.pdf", strings.NewReader("glucose"))
		require.Error(t, err)
		assert.Empty(t, idx.texts)
	})
}

func TestDocumentService_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("not configured", func(t *testing.T) {
		svc := NewDocumentService(&recordingIndexer{texts: map[string]string{}}, staticStats{}, "m")
		_, err := svc.Enqueue(ctx, "bio", "ch1", "text")
		assert.ErrorIs(t, err, model.ErrNotConfigured)
	})

	t.Run("validation", func(t *testing.T) {
		svc := NewDocumentService(&recordingIndexer{texts: map[string]string{}}, staticStats{}, "m",
			WithPublisher(&recordingPublisher{}, memTextStore{}))
		_, err := svc.Enqueue(ctx, "", "ch1", "text")
		assert.ErrorIs(t, err, model.ErrInvalidArgument)
		_, err = svc.Enqueue(ctx, "bio", "ch1", "  ")
		assert.ErrorIs(t, err, model.ErrEmptyDocument)
	})

	t.Run("small text travels inline", func(t *testing.T) {
		pub := &recordingPublisher{}
		pending := memTextStore{}
		svc := NewDocumentService(&recordingIndexer{texts: map[string]string{}}, staticStats{}, "m", WithPublisher(pub, pending))

		id, err := svc.Enqueue(ctx, "bio", "ch1", "short chapter")
		require.NoError(t, err)
		require.Len(t, pub.published, 1)
		task := pub.published[0]
		assert.Equal(t, id, task.TaskID)
		assert.Equal(t, "short chapter", task.Text)
		assert.Empty(t, task.ObjectKey)
		assert.Empty(t, pending)
	})

	t.Run("large text is staged in the pending store", func(t *testing.T) {
		pub := &recordingPublisher{}
		pending := memTextStore{}
		svc := NewDocumentService(&recordingIndexer{texts: map[string]string{}}, staticStats{}, "m", WithPublisher(pub, pending))
		big := strings.Repeat("a", 300*1024)

		id, err := svc.Enqueue(ctx, "bio", "ch9", big)
		require.NoError(t, err)
		task := pub.published[0]
		assert.Empty(t, task.Text)
		assert.Equal(t, "pending/bio/ch9/"+id+".txt", task.ObjectKey)
		assert.Equal(t, big, pending[task.ObjectKey])
	})

	t.Run("publish failure", func(t *testing.T) {
		pub := &recordingPublisher{err: errors.New("broker down")}
		svc := NewDocumentService(&recordingIndexer{texts: map[string]string{}}, staticStats{}, "m", WithPublisher(pub, nil))
		_, err := svc.Enqueue(ctx, "bio", "ch1", "text")
		assert.Error(t, err)
	})
}
