package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"course-rag-go/internal/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKeys(t *testing.T) {
	assert.Equal(t, "chapters/bio/ch1/v3.txt", ChapterObjectKey("bio", "ch1", 3))
	assert.Equal(t, "pending/bio/ch1/t-1.txt", PendingObjectKey("bio", "ch1", "t-1"))
}

// TestArchive_RoundTrip 需要一个可用的 MinIO，通过 RAG_TEST_MINIO_ENDPOINT 指定。
func TestArchive_RoundTrip(t *testing.T) {
	endpoint := os.Getenv("RAG_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("RAG_TEST_MINIO_ENDPOINT not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := config.MinIOConfig{
		Endpoint:        endpoint,
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		BucketName:      "course-rag-test",
	}
	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	archive := NewArchive(client, cfg.BucketName)

	key := PendingObjectKey("bio", "ch1", uuid.NewString())
	text := "光合作用 uses light energy."
	require.NoError(t, archive.PutText(ctx, key, text))

	got, err := archive.GetText(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, text, got)

	_, err = archive.GetText(ctx, "pending/does/not/exist.txt")
	assert.Error(t, err)
}
