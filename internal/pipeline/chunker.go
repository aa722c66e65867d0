package pipeline

import (
	"fmt"

	"course-rag-go/internal/model"
)

const (
	// DefaultChunkSize 是每个分块的默认字符数。
	DefaultChunkSize = 500
	// DefaultChunkOverlap 是相邻分块之间的默认重叠字符数。
	DefaultChunkOverlap = 100
)

// Split 将章节文本按固定大小和重叠切分为有序分块。
//
// 第 i+1 块的起点为第 i 块起点加上 size-overlap，偏移量按 rune 计算，
// 因此多字节字符不会被截断。若最后一步剩余的新内容少于 overlap，
// 则并入前一块而不是单独生成一个几乎完全重复的尾块。
// 空文本返回空切片；size、overlap 非正或 overlap >= size 时返回 ErrInvalidChunkParams。
func Split(text string, size, overlap int) ([]model.Chunk, error) {
	if size <= 0 || overlap <= 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", model.ErrInvalidChunkParams, size, overlap)
	}

	runes := []rune(text)
	n := len(runes)
	chunks := make([]model.Chunk, 0, n/(size-overlap)+1)
	if n == 0 {
		return chunks, nil
	}

	step := size - overlap
	for start := 0; start < n; start += step {
		end := start + size
		if end >= n || n-end < overlap {
			end = n
		}
		chunks = append(chunks, model.Chunk{
			Sequence:    len(chunks),
			StartOffset: start,
			EndOffset:   end,
			Text:        string(runes[start:end]),
		})
		if end == n {
			break
		}
	}
	return chunks, nil
}
