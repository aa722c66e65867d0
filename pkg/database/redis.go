// Package database 负责初始化 MySQL 与 Redis 连接。
package database

import (
	"context"
	"fmt"
	"time"

	"course-rag-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// InitRedis 初始化 Redis 客户端连接，并在 5 秒内完成一次 Ping。
func InitRedis(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("[Database] Redis 连接成功")
	return client, nil
}
