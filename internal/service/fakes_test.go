package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"course-rag-go/internal/model"
	"course-rag-go/internal/pipeline"
	"course-rag-go/internal/vectorindex"
	"course-rag-go/pkg/llm"

	"github.com/stretchr/testify/require"
)

var vocab = []string{"photosynthesis", "chlorophyll", "light", "glucose", "mitochondria", "atp", "respiration", "enzyme"}

// keywordEmbedder 以关键词计数作为向量，不含任何关键词的文本得到零向量。
type keywordEmbedder struct {
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (e *keywordEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.delay):
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	lower := strings.ToLower(text)
	vec := make([]float32, len(vocab))
	for i, w := range vocab {
		vec[i] = float32(strings.Count(lower, w))
	}
	return vec, nil
}

func (e *keywordEmbedder) Model() string { return "keyword" }

type fixedEmbedder struct {
	vec []float32
}

func (e fixedEmbedder) CreateEmbedding(context.Context, string) ([]float32, error) { return e.vec, nil }
func (e fixedEmbedder) Model() string                                                { return "fixed" }

type fakeGenerator struct {
	mu      sync.Mutex
	answer  string
	err     error
	block   bool
	started chan struct{}
	calls   int
	last    []llm.Message
}

func (g *fakeGenerator) Generate(ctx context.Context, msgs []llm.Message) (string, error) {
	g.mu.Lock()
	g.calls++
	g.last = append([]llm.Message(nil), msgs...)
	answer, err, block, started := g.answer, g.err, g.block, g.started
	g.started = nil
	g.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return answer, err
}

func (g *fakeGenerator) lastMessages() []llm.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

type streamingGenerator struct {
	fakeGenerator
	chunks []string
}

func (g *streamingGenerator) GenerateStream(ctx context.Context, msgs []llm.Message, w llm.MessageWriter) (string, error) {
	var sb strings.Builder
	for _, c := range g.chunks {
		if err := w.WriteMessage(1, []byte(c)); err != nil {
			return "", err
		}
		sb.WriteString(c)
	}
	return sb.String(), nil
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []string
}

func (r *frameRecorder) WriteMessage(_ int, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, string(data))
	return nil
}

// photosynthesisChapter 构造一段正好 1200 个字符、关于光合作用的章节文本。
func photosynthesisChapter() string {
	sentence := "Photosynthesis uses light and chlorophyll to turn water and carbon dioxide into glucose. "
	text := strings.Repeat(sentence, 1200/len(sentence)+1)
	return text[:1200]
}

func respirationChapter() string {
	sentence := "Cellular respiration in the mitochondria releases ATP from glucose with the help of enzyme chains. "
	return strings.Repeat(sentence, 8)
}

// indexText 切分文本并以 embedder 向量化后写入索引。
func indexText(t *testing.T, ix *vectorindex.Index, emb *keywordEmbedder, courseID, chapterID, text string) {
	t.Helper()
	chunks, err := pipeline.Split(text, pipeline.DefaultChunkSize, pipeline.DefaultChunkOverlap)
	require.NoError(t, err)
	entries := make([]model.IndexEntry, 0, len(chunks))
	for _, c := range chunks {
		vec, err := emb.CreateEmbedding(context.Background(), c.Text)
		require.NoError(t, err)
		entries = append(entries, model.IndexEntry{CourseID: courseID, ChapterID: chapterID, Version: 1, Chunk: c, Embedding: vec})
	}
	require.NoError(t, ix.ReplaceChapter(courseID, chapterID, entries))
}
