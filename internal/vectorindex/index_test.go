package vectorindex

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"course-rag-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(course, chapter string, seq int, text string, vec ...float32) model.IndexEntry {
	return model.IndexEntry{
		CourseID:  course,
		ChapterID: chapter,
		Version:   1,
		Chunk:     model.Chunk{Sequence: seq, StartOffset: seq * 400, EndOffset: seq*400 + len(text), Text: text},
		Embedding: vec,
	}
}

// unitAt 返回与 x 轴夹角为 deg 度的二维单位向量，与 (1,0) 的余弦相似度为 cos(deg)。
func unitAt(deg float64) []float32 {
	rad := deg * math.Pi / 180
	return []float32{float32(math.Cos(rad)), float32(math.Sin(rad))}
}

func TestIndex_SearchRanking(t *testing.T) {
	ix := New(2, nil)
	require.NoError(t, ix.Add(
		entry("bio", "ch1", 0, "far", unitAt(80)...),
		entry("bio", "ch1", 1, "near", unitAt(10)...),
		entry("bio", "ch1", 2, "mid", unitAt(45)...),
		entry("bio", "ch2", 0, "closest", unitAt(1)...),
		entry("bio", "ch2", 1, "opposite", unitAt(180)...),
	))

	t.Run("descending similarity", func(t *testing.T) {
		hits, err := ix.Search([]float32{1, 0}, 5, model.Scope{CourseID: "bio"})
		require.NoError(t, err)
		require.Len(t, hits, 5)
		texts := make([]string, len(hits))
		for i, h := range hits {
			texts[i] = h.Entry.Chunk.Text
			if i > 0 {
				assert.Greater(t, hits[i-1].Score, h.Score)
			}
		}
		assert.Equal(t, []string{"closest", "near", "mid", "far", "opposite"}, texts)
	})

	t.Run("top_k respected exactly", func(t *testing.T) {
		for k := 1; k <= 7; k++ {
			hits, err := ix.Search([]float32{1, 0}, k, model.Scope{})
			require.NoError(t, err)
			assert.Len(t, hits, min(k, 5))
		}
	})

	t.Run("chapter filter", func(t *testing.T) {
		hits, err := ix.Search([]float32{1, 0}, 10, model.Scope{CourseID: "bio", ChapterID: "ch1"})
		require.NoError(t, err)
		require.Len(t, hits, 3)
		for _, h := range hits {
			assert.Equal(t, "ch1", h.Entry.ChapterID)
		}
	})

	t.Run("no match is empty, not an error", func(t *testing.T) {
		hits, err := ix.Search([]float32{1, 0}, 3, model.Scope{CourseID: "history"})
		require.NoError(t, err)
		assert.NotNil(t, hits)
		assert.Empty(t, hits)
	})
}

func TestIndex_TieBreakBySequence(t *testing.T) {
	ix := New(2, nil)
	require.NoError(t, ix.Add(
		entry("c", "ch", 3, "third", 1, 0),
		entry("c", "ch", 1, "first", 1, 0),
		entry("c", "ch", 2, "second", 1, 0),
	))
	hits, err := ix.Search([]float32{2, 0}, 3, model.Scope{})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, 1, hits[0].Entry.Chunk.Sequence)
	assert.Equal(t, 2, hits[1].Entry.Chunk.Sequence)
	assert.Equal(t, 3, hits[2].Entry.Chunk.Sequence)
}

func TestIndex_EmptyIndex(t *testing.T) {
	ix := New(0, nil)
	hits, err := ix.Search([]float32{1, 2, 3}, 3, model.Scope{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndex_DimensionMismatch(t *testing.T) {
	ix := New(3, nil)

	err := ix.Add(entry("c", "ch", 0, "ok", 1, 2, 3), entry("c", "ch", 1, "bad", 1, 2))
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)
	assert.Equal(t, 0, ix.Len(), "rejected batch must not be partially applied")

	require.NoError(t, ix.Add(entry("c", "ch", 0, "ok", 1, 2, 3)))
	_, err = ix.Search([]float32{1, 2}, 3, model.Scope{})
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)
}

func TestIndex_FirstEntryFixesDimension(t *testing.T) {
	ix := New(0, nil)
	require.NoError(t, ix.Add(entry("c", "ch", 0, "a", 1, 0, 0, 0)))
	assert.Equal(t, 4, ix.Dimension())
	assert.ErrorIs(t, ix.Add(entry("c", "ch", 1, "b", 1, 0)), model.ErrDimensionMismatch)
}

func TestIndex_RemoveAndReplace(t *testing.T) {
	ix := New(2, nil)
	require.NoError(t, ix.Add(
		entry("c", "ch1", 0, "old-0", 1, 0),
		entry("c", "ch1", 1, "old-1", 1, 0),
		entry("c", "ch2", 0, "other", 1, 0),
	))

	require.NoError(t, ix.ReplaceChapter("c", "ch1", []model.IndexEntry{entry("c", "ch1", 0, "new-0", 0, 1)}))
	hits, err := ix.Search([]float32{1, 1}, 10, model.Scope{CourseID: "c", ChapterID: "ch1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new-0", hits[0].Entry.Chunk.Text)

	assert.Equal(t, 1, ix.Remove("c", "ch1"))
	assert.Equal(t, 0, ix.Remove("c", "ch1"))
	assert.Equal(t, 1, ix.Len())

	err = ix.ReplaceChapter("c", "ch1", []model.IndexEntry{entry("c", "ch9", 0, "stray", 1, 0)})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestIndex_ReplaceIsAtomicForConcurrentSearch(t *testing.T) {
	ix := New(2, nil)
	version := func(v int) []model.IndexEntry {
		out := make([]model.IndexEntry, 0, 8)
		for i := 0; i < 8; i++ {
			out = append(out, entry("c", "ch", i, fmt.Sprintf("v%d-chunk-%d", v, i), 1, float32(i)))
		}
		return out
	}
	require.NoError(t, ix.ReplaceChapter("c", "ch", version(0)))

	var wg sync.WaitGroup
	done := make(chan struct{})
	errs := make(chan string, 100)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				hits, err := ix.Search([]float32{1, 1}, 20, model.Scope{CourseID: "c", ChapterID: "ch"})
				if err != nil {
					errs <- err.Error()
					return
				}
				if len(hits) != 8 {
					errs <- fmt.Sprintf("saw %d entries", len(hits))
					return
				}
				prefix := strings.SplitN(hits[0].Entry.Chunk.Text, "-", 2)[0]
				for _, h := range hits {
					if !strings.HasPrefix(h.Entry.Chunk.Text, prefix+"-") {
						errs <- "mixed versions: " + prefix + " and " + h.Entry.Chunk.Text
						return
					}
				}
			}
		}()
	}

	for v := 1; v <= 200; v++ {
		require.NoError(t, ix.ReplaceChapter("c", "ch", version(v)))
	}
	close(done)
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}

	hits, err := ix.Search([]float32{1, 1}, 20, model.Scope{CourseID: "c", ChapterID: "ch"})
	require.NoError(t, err)
	for _, h := range hits {
		assert.True(t, strings.HasPrefix(h.Entry.Chunk.Text, "v200-"))
	}
}

func TestIndex_PersistLoadRoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "index", "snapshot.json"))
	ctx := context.Background()

	ix := New(3, store)
	require.NoError(t, ix.Add(
		entry("c", "ch1", 0, "alpha", 0.1234567, -0.7654321, 0.33333334),
		entry("c", "ch1", 1, "beta", 1e-7, 0.5, float32(math.Pi)),
		entry("c", "ch2", 0, "gamma", -0.9, 0.1, 0.42),
	))
	require.NoError(t, ix.Persist(ctx))

	restored := New(3, store)
	require.NoError(t, restored.Load(ctx))
	assert.Equal(t, ix.Len(), restored.Len())

	for _, q := range [][]float32{{1, 0, 0}, {0.3, -0.2, 0.9}, {-1, 1, 0.5}} {
		want, err := ix.Search(q, 3, model.Scope{CourseID: "c"})
		require.NoError(t, err)
		got, err := restored.Search(q, 3, model.Scope{CourseID: "c"})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

// gatedStore 的第一次 Save 阻塞到 release 关闭，用于制造保存乱序。
type gatedStore struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Save(_ context.Context, data []byte) error {
	s.mu.Lock()
	s.saves++
	first := s.saves == 1
	s.mu.Unlock()
	if first {
		close(s.entered)
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *gatedStore) Load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, ErrNoSnapshot
	}
	return s.data, nil
}

func TestIndex_ConcurrentPersistKeepsNewestSnapshot(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{entered: make(chan struct{}), release: make(chan struct{})}
	ix := New(2, store)

	require.NoError(t, ix.Add(entry("c", "ch1", 0, "a", 1, 0), entry("c", "ch1", 1, "b", 0, 1)))
	first := make(chan error, 1)
	go func() { first <- ix.Persist(ctx) }()
	<-store.entered

	require.NoError(t, ix.Add(entry("c", "ch2", 0, "c", 1, 1), entry("c", "ch2", 1, "d", 1, -1)))
	second := make(chan error, 1)
	go func() { second <- ix.Persist(ctx) }()

	close(store.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	restored := New(2, store)
	require.NoError(t, restored.Load(ctx))
	assert.Equal(t, 4, restored.Len())
	assert.Equal(t, map[string]int{"c/ch1": 2, "c/ch2": 2}, restored.Stats().ChapterDistribution)

	t.Run("unchanged index is not saved again", func(t *testing.T) {
		saves := store.saves
		require.NoError(t, ix.Persist(ctx))
		assert.Equal(t, saves, store.saves)
	})
}

func TestIndex_LoadWithoutSnapshot(t *testing.T) {
	ix := New(3, NewFileStore(filepath.Join(t.TempDir(), "missing.json")))
	require.NoError(t, ix.Load(context.Background()))
	assert.Equal(t, 0, ix.Len())
}

func TestIndex_LoadRejectsDimensionChange(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "snapshot.json"))
	ix := New(2, store)
	require.NoError(t, ix.Add(entry("c", "ch", 0, "a", 1, 0)))
	require.NoError(t, ix.Persist(context.Background()))

	other := New(3, store)
	assert.ErrorIs(t, other.Load(context.Background()), model.ErrDimensionMismatch)
}

func TestIndex_Stats(t *testing.T) {
	ix := New(2, nil)
	require.NoError(t, ix.Add(
		entry("bio", "ch1", 0, "a", 1, 0),
		entry("bio", "ch1", 1, "b", 1, 0),
		entry("bio", "ch2", 0, "c", 1, 0),
		entry("math", "ch1", 0, "d", 1, 0),
	))
	stats := ix.Stats()
	assert.Equal(t, 4, stats.TotalChunks)
	assert.Equal(t, 2, stats.CoursesIndexed)
	assert.Equal(t, 3, stats.ChaptersIndexed)
	assert.Equal(t, 3, stats.CourseDistribution["bio"])
	assert.Equal(t, 2, stats.ChapterDistribution["bio/ch1"])
	assert.Equal(t, 2, stats.Dimension)
}
