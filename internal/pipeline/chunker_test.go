package pipeline

import (
	"strings"
	"testing"

	"course-rag-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleText(n int) string {
	var sb strings.Builder
	for i := 0; sb.Len() < n; i++ {
		sb.WriteString(string(rune('a' + i%26)))
	}
	return sb.String()[:n]
}

func TestSplit(t *testing.T) {
	t.Run("1200 characters yields three chunks", func(t *testing.T) {
		chunks, err := Split(sampleText(1200), 500, 100)
		require.NoError(t, err)
		require.Len(t, chunks, 3)

		expected := [][2]int{{0, 500}, {400, 900}, {800, 1200}}
		for i, c := range chunks {
			assert.Equal(t, i, c.Sequence)
			assert.Equal(t, expected[i][0], c.StartOffset, "chunk %d start", i)
			assert.Equal(t, expected[i][1], c.EndOffset, "chunk %d end", i)
			assert.Equal(t, c.Len(), len([]rune(c.Text)))
		}
	})

	t.Run("short text yields a single chunk", func(t *testing.T) {
		chunks, err := Split("Photosynthesis converts light into chemical energy.", 500, 100)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, 0, chunks[0].StartOffset)
	})

	t.Run("empty text yields empty sequence", func(t *testing.T) {
		chunks, err := Split("", 500, 100)
		require.NoError(t, err)
		assert.NotNil(t, chunks)
		assert.Empty(t, chunks)
	})

	t.Run("tiny tail merges into previous chunk", func(t *testing.T) {
		chunks, err := Split(sampleText(910), 500, 100)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, 400, chunks[1].StartOffset)
		assert.Equal(t, 910, chunks[1].EndOffset)
	})

	t.Run("invalid parameters", func(t *testing.T) {
		cases := []struct {
			name          string
			size, overlap int
		}{
			{"overlap equals size", 100, 100},
			{"overlap exceeds size", 100, 150},
			{"zero size", 0, 10},
			{"negative overlap", 100, -1},
			{"zero overlap", 100, 0},
		}
		for _, tc := range cases {
			_, err := Split("some text", tc.size, tc.overlap)
			assert.ErrorIs(t, err, model.ErrInvalidChunkParams, tc.name)
		}
	})

	t.Run("multi-byte text is split on rune boundaries", func(t *testing.T) {
		text := strings.Repeat("光合作用", 100)
		chunks, err := Split(text, 50, 10)
		require.NoError(t, err)
		runes := []rune(text)
		for _, c := range chunks {
			assert.Equal(t, string(runes[c.StartOffset:c.EndOffset]), c.Text)
		}
	})
}

func TestSplit_Deterministic(t *testing.T) {
	text := sampleText(3777)
	first, err := Split(text, 500, 100)
	require.NoError(t, err)
	second, err := Split(text, 500, 100)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSplit_OverlapInvariant(t *testing.T) {
	for _, n := range []int{501, 899, 1200, 2048, 5003} {
		size, overlap := 500, 100
		chunks, err := Split(sampleText(n), size, overlap)
		require.NoError(t, err)

		for i := 0; i+1 < len(chunks); i++ {
			cur := []rune(chunks[i].Text)
			next := []rune(chunks[i+1].Text)
			assert.Equal(t, chunks[i].StartOffset+(size-overlap), chunks[i+1].StartOffset, "n=%d chunk %d stride", n, i)
			assert.Equal(t, string(cur[len(cur)-overlap:]), string(next[:overlap]), "n=%d chunk %d overlap", n, i)
		}

		last := chunks[len(chunks)-1]
		assert.Equal(t, n, last.EndOffset)
		if len(chunks) > 1 {
			assert.GreaterOrEqual(t, last.Len(), overlap)
		}
	}
}
