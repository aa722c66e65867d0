// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"course-rag-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// SessionRepository 定义了会话的持久化操作接口。
type SessionRepository interface {
	Save(ctx context.Context, s *model.Session) error
	Load(ctx context.Context, id string) (*model.Session, error)
	Delete(ctx context.Context, id string) error
}

type redisSessionRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewSessionRepository 创建一个基于 Redis 的 SessionRepository，ttl 为 0 表示永不过期。
func NewSessionRepository(redisClient *redis.Client, ttl time.Duration) SessionRepository {
	return &redisSessionRepository{redisClient: redisClient, ttl: ttl}
}

func sessionKey(id string) string {
	return fmt.Sprintf("chat_session:%s", id)
}

// Save 将整个会话序列化为 JSON 写入 Redis，并刷新过期时间。
func (r *redisSessionRepository) Save(ctx context.Context, s *model.Session) error {
	jsonData, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.redisClient.Set(ctx, sessionKey(s.ID), jsonData, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Load 读取会话，不存在时返回 model.ErrSessionNotFound。
func (r *redisSessionRepository) Load(ctx context.Context, id string) (*model.Session, error) {
	jsonData, err := r.redisClient.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", model.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var s model.Session
	if err := json.Unmarshal(jsonData, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *redisSessionRepository) Delete(ctx context.Context, id string) error {
	if err := r.redisClient.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
