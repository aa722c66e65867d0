// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"course-rag-go/internal/config"
	"course-rag-go/pkg/log"
	"course-rag-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// TaskProcessor defines the interface for any service that can process an index task.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IndexTask) error
}

// Producer 发送索引任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。同一章节的任务使用相同的 key，保证按顺序消费。
func NewProducer(cfg config.KafkaConfig) *Producer {
	log.Infof("[Kafka] 生产者初始化, brokers: %s, topic: %s", cfg.Brokers, cfg.Topic)
	return &Producer{writer: &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}}
}

// PublishIndexTask 发送一个章节索引任务。
func (p *Producer) PublishIndexTask(ctx context.Context, task tasks.IndexTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(task.Key()), Value: taskBytes}); err != nil {
		return fmt.Errorf("failed to publish index task: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// AttemptCounter 记录任务失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, taskID string) (int64, error)
	Reset(ctx context.Context, taskID string)
}

type redisAttempts struct {
	rdb *redis.Client
}

// NewRedisAttemptCounter 使用 Redis 计数，计数在消费者重启后仍然保留。
func NewRedisAttemptCounter(rdb *redis.Client) AttemptCounter {
	return &redisAttempts{rdb: rdb}
}

func attemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}

func (r *redisAttempts) Incr(ctx context.Context, taskID string) (int64, error) {
	n, err := r.rdb.Incr(ctx, attemptsKey(taskID)).Result()
	if err != nil {
		return 0, err
	}
	_ = r.rdb.Expire(ctx, attemptsKey(taskID), 24*time.Hour).Err()
	return n, nil
}

func (r *redisAttempts) Reset(ctx context.Context, taskID string) {
	_ = r.rdb.Del(ctx, attemptsKey(taskID)).Err()
}

type memoryAttempts struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryAttemptCounter 在没有 Redis 时使用进程内计数。
func NewMemoryAttemptCounter() AttemptCounter {
	return &memoryAttempts{counts: make(map[string]int64)}
}

func (m *memoryAttempts) Incr(_ context.Context, taskID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[taskID]++
	return m.counts[taskID], nil
}

func (m *memoryAttempts) Reset(_ context.Context, taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, taskID)
}

// Consumer 消费索引任务。
type Consumer struct {
	reader      *kafka.Reader
	processor   TaskProcessor
	attempts    AttemptCounter
	maxAttempts int64
	backoff     time.Duration
}

// NewConsumer 创建消费者。attempts 为 nil 时使用进程内计数。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	if attempts == nil {
		attempts = NewMemoryAttemptCounter()
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  strings.Split(cfg.Brokers, ","),
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
		}),
		processor:   processor,
		attempts:    attempts,
		maxAttempts: 3,
		backoff:     2 * time.Second,
	}
}

// Run 持续拉取并处理任务，直到 ctx 被取消。
func (c *Consumer) Run(ctx context.Context) error {
	log.Infof("[Kafka] 消费者已启动，正在监听主题 '%s'", c.reader.Config().Topic)
	defer c.reader.Close()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info("[Kafka] 消费者已停止")
				return nil
			}
			return fmt.Errorf("从 Kafka 读取消息失败: %w", err)
		}
		c.handle(ctx, m.Value)
		if ctx.Err() != nil {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			log.Errorf("[Kafka] 提交 offset 失败: %v", err)
		}
	}
}

// handle 处理单条消息，失败时按退避重试直至达到最大次数。返回后消息即可提交。
func (c *Consumer) handle(ctx context.Context, value []byte) {
	var task tasks.IndexTask
	if err := json.Unmarshal(value, &task); err != nil {
		log.Errorf("[Kafka] 无法解析消息: %v, value: %s", err, string(value))
		return
	}
	if task.TaskID == "" {
		task.TaskID = task.Key()
	}

	for {
		err := c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("[Kafka] 索引任务处理成功: task_id=%s, chapter=%s", task.TaskID, task.Key())
			c.attempts.Reset(ctx, task.TaskID)
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Errorf("[Kafka] 处理索引任务失败: task_id=%s, error: %v", task.TaskID, err)

		n, incErr := c.attempts.Incr(ctx, task.TaskID)
		if incErr != nil {
			log.Warnf("[Kafka] 记录失败次数出错: %v", incErr)
			n = c.maxAttempts
		}
		if n >= c.maxAttempts {
			log.Errorf("[Kafka] 索引任务多次失败(>=%d)，放弃: task_id=%s", c.maxAttempts, task.TaskID)
			c.attempts.Reset(ctx, task.TaskID)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff * time.Duration(n)):
		}
	}
}
