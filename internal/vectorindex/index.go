// Package vectorindex 提供进程内的向量索引，支持带范围过滤的 top-k 余弦检索。
//
// 读多写少：检索读取一个不可变快照，写入在互斥锁下构建新快照后原子发布，
// 因此并发检索永远不会看到写了一半或删了一半的章节。
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"course-rag-go/internal/model"
	"course-rag-go/pkg/log"
)

type record struct {
	entry model.IndexEntry
	norm  float64
}

type snapshot struct {
	dim     int
	records []record
}

// Index 是线程安全的向量索引。
type Index struct {
	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
	store   SnapshotStore

	// persistMu 串行化快照保存，保证后完成的保存总是写入较新的快照。
	persistMu sync.Mutex
	saved     *snapshot
}

// New 创建索引。dim 为 0 时由第一批写入的向量决定维度；store 可为 nil（不持久化）。
func New(dim int, store SnapshotStore) *Index {
	ix := &Index{store: store}
	ix.current.Store(&snapshot{dim: dim})
	return ix
}

// Dimension 返回索引的向量维度，尚未确定时返回 0。
func (ix *Index) Dimension() int {
	return ix.current.Load().dim
}

// Len 返回索引中的条目数。
func (ix *Index) Len() int {
	return len(ix.current.Load().records)
}

// Add 追加条目。任一条目维度不符时整批拒绝。
func (ix *Index) Add(entries ...model.IndexEntry) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	old := ix.current.Load()
	dim, fresh, err := prepare(old.dim, entries)
	if err != nil {
		return err
	}
	records := make([]record, 0, len(old.records)+len(fresh))
	records = append(records, old.records...)
	records = append(records, fresh...)
	ix.current.Store(&snapshot{dim: dim, records: records})
	return nil
}

// ReplaceChapter 在同一次发布中删除章节旧条目并写入新条目。
func (ix *Index) ReplaceChapter(courseID, chapterID string, entries []model.IndexEntry) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	for i := range entries {
		if entries[i].CourseID != courseID || entries[i].ChapterID != chapterID {
			return fmt.Errorf("%w: entry %d belongs to %s/%s, not %s/%s", model.ErrInvalidArgument,
				i, entries[i].CourseID, entries[i].ChapterID, courseID, chapterID)
		}
	}

	old := ix.current.Load()
	dim, fresh, err := prepare(old.dim, entries)
	if err != nil {
		return err
	}
	records := make([]record, 0, len(old.records)+len(fresh))
	for _, r := range old.records {
		if r.entry.CourseID == courseID && r.entry.ChapterID == chapterID {
			continue
		}
		records = append(records, r)
	}
	records = append(records, fresh...)
	ix.current.Store(&snapshot{dim: dim, records: records})
	return nil
}

// Remove 删除章节的所有条目，返回删除的数量。
func (ix *Index) Remove(courseID, chapterID string) int {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	old := ix.current.Load()
	records := make([]record, 0, len(old.records))
	for _, r := range old.records {
		if r.entry.CourseID == courseID && r.entry.ChapterID == chapterID {
			continue
		}
		records = append(records, r)
	}
	removed := len(old.records) - len(records)
	if removed > 0 {
		ix.current.Store(&snapshot{dim: old.dim, records: records})
	}
	return removed
}

// Search 返回范围内与查询向量余弦相似度最高的至多 topK 个条目，按相似度降序，
// 相同分数时序号小的分块优先。无匹配时返回空切片。
func (ix *Index) Search(query []float32, topK int, scope model.Scope) ([]model.ScoredEntry, error) {
	snap := ix.current.Load()
	if topK <= 0 || len(snap.records) == 0 {
		return []model.ScoredEntry{}, nil
	}
	if len(query) != snap.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", model.ErrDimensionMismatch, len(query), snap.dim)
	}

	qNorm := norm(query)
	hits := make([]model.ScoredEntry, 0, topK)
	for i := range snap.records {
		r := &snap.records[i]
		if !scope.Match(&r.entry) {
			continue
		}
		hits = append(hits, model.ScoredEntry{Entry: r.entry, Score: cosine(query, qNorm, r.entry.Embedding, r.norm)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Entry.Chunk.Sequence != b.Entry.Chunk.Sequence {
			return a.Entry.Chunk.Sequence < b.Entry.Chunk.Sequence
		}
		if a.Entry.CourseID != b.Entry.CourseID {
			return a.Entry.CourseID < b.Entry.CourseID
		}
		return a.Entry.ChapterID < b.Entry.ChapterID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Stats 返回索引的统计信息。
func (ix *Index) Stats() model.IndexStats {
	snap := ix.current.Load()
	stats := model.IndexStats{
		TotalChunks:         len(snap.records),
		CourseDistribution:  make(map[string]int),
		ChapterDistribution: make(map[string]int),
		Dimension:           snap.dim,
	}
	for _, r := range snap.records {
		stats.CourseDistribution[r.entry.CourseID]++
		stats.ChapterDistribution[r.entry.CourseID+"/"+r.entry.ChapterID]++
	}
	stats.CoursesIndexed = len(stats.CourseDistribution)
	stats.ChaptersIndexed = len(stats.ChapterDistribution)
	return stats
}

// Persist 将当前快照写入 SnapshotStore。
func (ix *Index) Persist(ctx context.Context) error {
	if ix.store == nil {
		return nil
	}
	ix.persistMu.Lock()
	defer ix.persistMu.Unlock()

	snap := ix.current.Load()
	if snap == ix.saved {
		return nil
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("failed to encode index snapshot: %w", err)
	}
	if err := ix.store.Save(ctx, data); err != nil {
		return fmt.Errorf("failed to save index snapshot: %w", err)
	}
	ix.saved = snap
	log.Infof("[VectorIndex] 快照已保存, 条目数: %d, 维度: %d", len(snap.records), snap.dim)
	return nil
}

// Load 从 SnapshotStore 恢复索引，替换当前内容。快照不存在时保持空索引。
func (ix *Index) Load(ctx context.Context) error {
	if ix.store == nil {
		return nil
	}
	data, err := ix.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			log.Info("[VectorIndex] 未找到已有快照, 使用空索引")
			return nil
		}
		return fmt.Errorf("failed to load index snapshot: %w", err)
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return err
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	if cur := ix.current.Load(); cur.dim != 0 && snap.dim != 0 && cur.dim != snap.dim {
		return fmt.Errorf("%w: snapshot has %d dimensions, index configured for %d", model.ErrDimensionMismatch, snap.dim, cur.dim)
	}
	if snap.dim == 0 {
		snap.dim = ix.current.Load().dim
	}
	ix.current.Store(snap)
	log.Infof("[VectorIndex] 快照已加载, 条目数: %d, 维度: %d", len(snap.records), snap.dim)
	return nil
}

// prepare 校验维度并复制向量，返回确定后的维度与待写入记录。
func prepare(dim int, entries []model.IndexEntry) (int, []record, error) {
	out := make([]record, 0, len(entries))
	for i, e := range entries {
		if e.CourseID == "" || e.ChapterID == "" {
			return dim, nil, fmt.Errorf("%w: entry %d has no course or chapter id", model.ErrInvalidArgument, i)
		}
		if len(e.Embedding) == 0 {
			return dim, nil, fmt.Errorf("%w: entry %d has an empty embedding", model.ErrDimensionMismatch, i)
		}
		if dim == 0 {
			dim = len(e.Embedding)
		}
		if len(e.Embedding) != dim {
			return dim, nil, fmt.Errorf("%w: entry %d has %d dimensions, index has %d", model.ErrDimensionMismatch, i, len(e.Embedding), dim)
		}
		e.Embedding = append([]float32(nil), e.Embedding...)
		out = append(out, record{entry: e, norm: norm(e.Embedding)})
	}
	return dim, out, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (aNorm * bNorm)
}
