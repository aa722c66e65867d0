// Package es 提供了与 Elasticsearch 交互的客户端功能。
//
// Elasticsearch 在这里是向量索引的镜像：章节分块在进程内索引更新后同步写入，
// 供运维排查与全文检索使用，问答链路本身不依赖它。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"course-rag-go/internal/config"
	"course-rag-go/internal/model"
	"course-rag-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// NewClient 初始化 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
}

// chunkDocument 是写入 Elasticsearch 的单个分块。
type chunkDocument struct {
	CourseID      string    `json:"course_id"`
	ChapterID     string    `json:"chapter_id"`
	Version       int       `json:"version"`
	ChunkSequence int       `json:"chunk_sequence"`
	StartOffset   int       `json:"start_offset"`
	EndOffset     int       `json:"end_offset"`
	TextContent   string    `json:"text_content"`
	Vector        []float32 `json:"vector"`
}

// Mirror 将章节分块同步到一个 Elasticsearch 索引。
type Mirror struct {
	client    *elasticsearch.Client
	indexName string
	dims      int
}

// NewMirror 创建一个镜像写入器。
func NewMirror(client *elasticsearch.Client, indexName string, dims int) *Mirror {
	return &Mirror{client: client, indexName: indexName, dims: dims}
}

func (m *Mirror) mapping() string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"course_id": { "type": "keyword" },
				"chapter_id": { "type": "keyword" },
				"version": { "type": "integer" },
				"chunk_sequence": { "type": "integer" },
				"start_offset": { "type": "integer" },
				"end_offset": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": { "type": "dense_vector", "dims": %d, "index": true, "similarity": "cosine" }
			}
		}
	}`, m.dims)
}

// EnsureIndex 检查索引是否存在，不存在时按映射创建。
func (m *Mirror) EnsureIndex(ctx context.Context) error {
	res, err := m.client.Indices.Exists([]string{m.indexName}, m.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("[ES] 索引 '%s' 已存在", m.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = m.client.Indices.Create(m.indexName,
		m.client.Indices.Create.WithContext(ctx),
		m.client.Indices.Create.WithBody(strings.NewReader(m.mapping())))
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", m.indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", m.indexName, res.String())
	}
	log.Infof("[ES] 索引 '%s' 创建成功", m.indexName)
	return nil
}

func documentID(e model.IndexEntry) string {
	return fmt.Sprintf("%s_%s_%d", e.CourseID, e.ChapterID, e.Chunk.Sequence)
}

// IndexChapter 以一次 bulk 请求写入章节的全部分块。
func (m *Mirror) IndexChapter(ctx context.Context, entries []model.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, e := range entries {
		meta := map[string]any{"index": map[string]any{"_index": m.indexName, "_id": documentID(e)}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(chunkDocument{
			CourseID:      e.CourseID,
			ChapterID:     e.ChapterID,
			Version:       e.Version,
			ChunkSequence: e.Chunk.Sequence,
			StartOffset:   e.Chunk.StartOffset,
			EndOffset:     e.Chunk.EndOffset,
			TextContent:   e.Chunk.Text,
			Vector:        e.Embedding,
		}); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{Body: &body, Refresh: "true"}
	res, err := req.Do(ctx, m.client)
	if err != nil {
		return fmt.Errorf("bulk 写入失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk 写入时 Elasticsearch 返回错误: %s", res.String())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if bulkResp.Errors {
		return fmt.Errorf("bulk 写入部分失败, index: %s", m.indexName)
	}
	return nil
}

// DeleteChapter 删除章节在镜像中的所有分块。
func (m *Mirror) DeleteChapter(ctx context.Context, courseID, chapterID string) error {
	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"term": map[string]any{"course_id": courseID}},
					map[string]any{"term": map[string]any{"chapter_id": chapterID}},
				},
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return err
	}

	refresh := true
	req := esapi.DeleteByQueryRequest{Index: []string{m.indexName}, Body: &buf, Refresh: &refresh}
	res, err := req.Do(ctx, m.client)
	if err != nil {
		return fmt.Errorf("delete_by_query 失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete_by_query 时 Elasticsearch 返回错误: %s", res.String())
	}
	return nil
}
