// Package storage 提供了与对象存储服务（MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"course-rag-go/internal/config"
	"course-rag-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// NewClient 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewClient(ctx context.Context, cfg config.MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("[Storage] 存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}
	log.Infof("[Storage] MinIO 客户端初始化成功, bucket: %s", cfg.BucketName)
	return client, nil
}

// Archive 把章节原文保存为对象，供异步索引与版本追溯使用。
type Archive struct {
	client     *minio.Client
	bucketName string
}

// NewArchive 创建章节原文归档。
func NewArchive(client *minio.Client, bucketName string) *Archive {
	return &Archive{client: client, bucketName: bucketName}
}

// ChapterObjectKey 返回章节某个版本原文的对象名。
func ChapterObjectKey(courseID, chapterID string, version int) string {
	return fmt.Sprintf("chapters/%s/%s/v%d.txt", courseID, chapterID, version)
}

// PendingObjectKey 返回尚未索引的章节原文的对象名。
func PendingObjectKey(courseID, chapterID, taskID string) string {
	return fmt.Sprintf("pending/%s/%s/%s.txt", courseID, chapterID, taskID)
}

// PutText 上传文本对象。
func (a *Archive) PutText(ctx context.Context, objectName, text string) error {
	_, err := a.client.PutObject(ctx, a.bucketName, objectName, strings.NewReader(text), int64(len(text)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("上传对象 %s 失败: %w", objectName, err)
	}
	return nil
}

// GetText 下载文本对象。
func (a *Archive) GetText(ctx context.Context, objectName string) (string, error) {
	object, err := a.client.GetObject(ctx, a.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("下载对象 %s 失败: %w", objectName, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return "", fmt.Errorf("读取对象 %s 失败: %w", objectName, err)
	}
	return string(data), nil
}
