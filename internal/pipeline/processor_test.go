package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"course-rag-go/internal/model"
	"course-rag-go/internal/vectorindex"
	"course-rag-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashEmbedder 产生确定性的向量，内容相同则向量相同。
type hashEmbedder struct {
	dim    int
	calls  atomic.Int32
	failOn string
}

func (e *hashEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, errors.New("upstream 503")
	}
	vec := make([]float32, e.dim)
	for i := range vec {
		h := fnv.New32a()
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		vec[i] = float32(h.Sum32()%1000)/1000 + 0.001
	}
	return vec, nil
}

func (e *hashEmbedder) Model() string { return "hash" }

type memArchive struct {
	mu      sync.Mutex
	objects map[string]string
}

func (a *memArchive) PutText(_ context.Context, key, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[key] = text
	return nil
}

func (a *memArchive) GetText(_ context.Context, key string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	text, ok := a.objects[key]
	if !ok {
		return "", errors.New("no such key")
	}
	return text, nil
}

type memMirror struct {
	mu      sync.Mutex
	entries map[string][]model.IndexEntry
	deletes int
}

func (m *memMirror) IndexChapter(_ context.Context, entries []model.IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		key := e.CourseID + "/" + e.ChapterID
		m.entries[key] = append(m.entries[key], e)
	}
	return nil
}

func (m *memMirror) DeleteChapter(_ context.Context, courseID, chapterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.entries, courseID+"/"+chapterID)
	return nil
}

type memDocs struct {
	mu   sync.Mutex
	docs []*model.Document
}

func (d *memDocs) Create(_ context.Context, doc *model.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *doc
	d.docs = append(d.docs, &cp)
	return nil
}

func (d *memDocs) LatestVersion(_ context.Context, courseID, chapterID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	latest := 0
	for _, doc := range d.docs {
		if doc.CourseID == courseID && doc.ChapterID == chapterID && doc.Version > latest {
			latest = doc.Version
		}
	}
	return latest, nil
}

func (d *memDocs) ListByChapter(_ context.Context, courseID, chapterID string) ([]*model.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*model.Document
	for _, doc := range d.docs {
		if doc.CourseID == courseID && doc.ChapterID == chapterID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func TestNewProcessor_RejectsInvalidChunking(t *testing.T) {
	_, err := NewProcessor(&hashEmbedder{dim: 4}, vectorindex.New(4, nil), 100, 100, 2)
	assert.ErrorIs(t, err, model.ErrInvalidChunkParams)
}

func TestProcessor_IndexChapter(t *testing.T) {
	ctx := context.Background()
	store := vectorindex.NewFileStore(filepath.Join(t.TempDir(), "snap.json"))
	ix := vectorindex.New(8, store)
	archive := &memArchive{objects: map[string]string{}}
	mirror := &memMirror{entries: map[string][]model.IndexEntry{}}
	docs := &memDocs{}
	emb := &hashEmbedder{dim: 8}

	p, err := NewProcessor(emb, ix, 500, 100, 3, WithArchive(archive), WithMirror(mirror), WithDocumentRepository(docs))
	require.NoError(t, err)

	doc, err := p.IndexChapter(ctx, "bio", "ch1", sampleText(1200))
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, 3, doc.ChunkCount)
	assert.Equal(t, 1200, doc.CharCount)
	assert.Equal(t, "chapters/bio/ch1/v1.txt", doc.ObjectKey)
	assert.Equal(t, 3, ix.Len())
	assert.EqualValues(t, 3, emb.calls.Load())
	assert.Len(t, mirror.entries["bio/ch1"], 3)
	assert.Equal(t, sampleText(1200), archive.objects["chapters/bio/ch1/v1.txt"])

	t.Run("re-index replaces the chapter and bumps the version", func(t *testing.T) {
		doc, err := p.IndexChapter(ctx, "bio", "ch1", "A much shorter second edition of the chapter.")
		require.NoError(t, err)
		assert.Equal(t, 2, doc.Version)
		assert.Equal(t, 1, ix.Len())
		assert.Len(t, mirror.entries["bio/ch1"], 1)

		hits, err := ix.Search(make([]float32, 8), 10, model.Scope{CourseID: "bio", ChapterID: "ch1"})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, 2, hits[0].Entry.Version)
	})

	t.Run("snapshot persisted", func(t *testing.T) {
		restored := vectorindex.New(8, store)
		require.NoError(t, restored.Load(ctx))
		assert.Equal(t, ix.Len(), restored.Len())
	})

	t.Run("version history recorded", func(t *testing.T) {
		history, err := docs.ListByChapter(ctx, "bio", "ch1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, 1, history[0].Version)
		assert.Equal(t, 2, history[1].Version)
	})
}

func TestProcessor_EmbeddingFailureLeavesIndexUntouched(t *testing.T) {
	ctx := context.Background()
	ix := vectorindex.New(4, nil)
	emb := &hashEmbedder{dim: 4}
	p, err := NewProcessor(emb, ix, 50, 10, 4)
	require.NoError(t, err)

	_, err = p.IndexChapter(ctx, "bio", "ch1", strings.Repeat("mitochondria ", 20))
	require.NoError(t, err)
	before := ix.Len()

	emb.failOn = "POISON"
	_, err = p.IndexChapter(ctx, "bio", "ch1", strings.Repeat("ribosome ", 20)+"POISON"+strings.Repeat(" golgi", 20))
	assert.ErrorIs(t, err, model.ErrEmbeddingUnavailable)
	assert.Equal(t, before, ix.Len())

	hits, err := ix.Search([]float32{1, 1, 1, 1}, 100, model.Scope{})
	require.NoError(t, err)
	for _, h := range hits {
		assert.Contains(t, h.Entry.Chunk.Text, "mitochondria")
	}
}

func TestProcessor_Validation(t *testing.T) {
	p, err := NewProcessor(&hashEmbedder{dim: 4}, vectorindex.New(4, nil), 500, 100, 1)
	require.NoError(t, err)

	_, err = p.IndexChapter(context.Background(), "bio", "ch1", "   \n\t ")
	assert.ErrorIs(t, err, model.ErrEmptyDocument)
	_, err = p.IndexChapter(context.Background(), "", "ch1", "text")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestProcessor_RemoveChapter(t *testing.T) {
	ctx := context.Background()
	ix := vectorindex.New(4, nil)
	mirror := &memMirror{entries: map[string][]model.IndexEntry{}}
	p, err := NewProcessor(&hashEmbedder{dim: 4}, ix, 500, 100, 2, WithMirror(mirror))
	require.NoError(t, err)

	_, err = p.IndexChapter(ctx, "bio", "ch1", sampleText(1200))
	require.NoError(t, err)
	_, err = p.IndexChapter(ctx, "bio", "ch2", sampleText(300))
	require.NoError(t, err)

	removed, err := p.RemoveChapter(ctx, "bio", "ch1")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 1, ix.Len())
	assert.Empty(t, mirror.entries["bio/ch1"])
}

func TestProcessor_ProcessTask(t *testing.T) {
	ctx := context.Background()
	archive := &memArchive{objects: map[string]string{"pending/bio/ch3/t1.txt": sampleText(700)}}
	ix := vectorindex.New(4, nil)
	p, err := NewProcessor(&hashEmbedder{dim: 4}, ix, 500, 100, 2, WithArchive(archive))
	require.NoError(t, err)

	require.NoError(t, p.Process(ctx, tasks.IndexTask{TaskID: "t1", CourseID: "bio", ChapterID: "ch3", ObjectKey: "pending/bio/ch3/t1.txt"}))
	assert.Equal(t, 2, ix.Len())

	require.NoError(t, p.Process(ctx, tasks.IndexTask{TaskID: "t2", CourseID: "bio", ChapterID: "ch4", Text: "inline chapter text"}))
	assert.Equal(t, 3, ix.Len())

	assert.NoError(t, p.Process(ctx, tasks.IndexTask{TaskID: "t3", CourseID: "bio", ChapterID: "ch5"}), "empty task is dropped, not retried")
	assert.Error(t, p.Process(ctx, tasks.IndexTask{TaskID: "t4", CourseID: "bio", ChapterID: "ch6", ObjectKey: "missing"}))
}

func TestProcessor_ConcurrentReindexOfOneChapter(t *testing.T) {
	ctx := context.Background()
	ix := vectorindex.New(4, nil)
	p, err := NewProcessor(&hashEmbedder{dim: 4}, ix, 100, 20, 4)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.IndexChapter(ctx, "bio", "ch1", strings.Repeat(string(rune('a'+i)), 100+i*50))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	hits, err := ix.Search([]float32{1, 1, 1, 1}, 100, model.Scope{CourseID: "bio", ChapterID: "ch1"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	version := hits[0].Entry.Version
	for _, h := range hits {
		assert.Equal(t, version, h.Entry.Version, "only one version of the chapter may be visible")
	}
	assert.Equal(t, 8, p.versions["bio/ch1"])
}
