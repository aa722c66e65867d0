package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"course-rag-go/internal/model"

	"github.com/minio/minio-go/v7"
)

// ErrNoSnapshot 表示存储中尚无快照。
var ErrNoSnapshot = errors.New("no index snapshot")

const snapshotFormat = 1

// SnapshotStore 负责保存和读取序列化后的索引快照。
type SnapshotStore interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
}

type snapshotFile struct {
	Format    int              `json:"format"`
	Dimension int              `json:"dimension"`
	Entries   []persistedEntry `json:"entries"`
}

type persistedEntry struct {
	CourseID      string    `json:"course_id"`
	ChapterID     string    `json:"chapter_id"`
	Version       int       `json:"version"`
	ChunkSequence int       `json:"chunk_sequence"`
	StartOffset   int       `json:"start_offset"`
	EndOffset     int       `json:"end_offset"`
	Text          string    `json:"text"`
	Embedding     []float32 `json:"embedding_vector"`
}

// encodeSnapshot 使用 JSON 序列化；float32 按最短可往返表示编码，读回后逐位一致。
func encodeSnapshot(snap *snapshot) ([]byte, error) {
	file := snapshotFile{Format: snapshotFormat, Dimension: snap.dim, Entries: make([]persistedEntry, 0, len(snap.records))}
	for _, r := range snap.records {
		e := r.entry
		file.Entries = append(file.Entries, persistedEntry{
			CourseID:      e.CourseID,
			ChapterID:     e.ChapterID,
			Version:       e.Version,
			ChunkSequence: e.Chunk.Sequence,
			StartOffset:   e.Chunk.StartOffset,
			EndOffset:     e.Chunk.EndOffset,
			Text:          e.Chunk.Text,
			Embedding:     e.Embedding,
		})
	}
	return json.Marshal(file)
}

func decodeSnapshot(data []byte) (*snapshot, error) {
	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode index snapshot: %w", err)
	}
	if file.Format != snapshotFormat {
		return nil, fmt.Errorf("unsupported index snapshot format %d", file.Format)
	}
	entries := make([]model.IndexEntry, 0, len(file.Entries))
	for _, p := range file.Entries {
		entries = append(entries, model.IndexEntry{
			CourseID:  p.CourseID,
			ChapterID: p.ChapterID,
			Version:   p.Version,
			Chunk: model.Chunk{
				Sequence:    p.ChunkSequence,
				StartOffset: p.StartOffset,
				EndOffset:   p.EndOffset,
				Text:        p.Text,
			},
			Embedding: p.Embedding,
		})
	}
	dim, records, err := prepare(file.Dimension, entries)
	if err != nil {
		return nil, fmt.Errorf("corrupt index snapshot: %w", err)
	}
	return &snapshot{dim: dim, records: records}, nil
}

// FileStore 将快照保存在本地磁盘，先写临时文件再重命名，避免读到半个文件。
type FileStore struct {
	Path string
}

// NewFileStore 创建一个本地文件快照存储。
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) Save(_ context.Context, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}

func (s *FileStore) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	return data, err
}

// MinIOStore 将快照保存为 MinIO 中的一个对象。
type MinIOStore struct {
	client     *minio.Client
	bucketName string
	objectName string
}

// NewMinIOStore 创建一个 MinIO 快照存储。
func NewMinIOStore(client *minio.Client, bucketName, objectName string) *MinIOStore {
	return &MinIOStore{client: client, bucketName: bucketName, objectName: objectName}
}

func (s *MinIOStore) Save(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucketName, s.objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

func (s *MinIOStore) Load(ctx context.Context) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucketName, s.objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	return data, nil
}
