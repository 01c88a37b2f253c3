package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cryptonite/internal/conversation"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	// TTL 为每个会话列表设置过期时间，0 表示永不过期。
	TTL time.Duration
}

// TranscriptRepository 使用 Redis list 存储对话消息。
type TranscriptRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ conversation.Repository = (*TranscriptRepository)(nil)

// NewTranscriptRepository 创建仓库并检查连接。
func NewTranscriptRepository(ctx context.Context, cfg Config) (*TranscriptRepository, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "cryptonite"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &TranscriptRepository{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (r *TranscriptRepository) key(conversationID string) string {
	return r.prefix + ":conversation:" + conversationID
}

// Append 将消息追加到会话列表尾部。
func (r *TranscriptRepository) Append(ctx context.Context, conversationID string, msg conversation.Message) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}
	key := r.key(conversationID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, encoded)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("Redis 写入消息失败: %w", err)
	}
	return nil
}

// List 按插入顺序返回最近的 limit 条消息，limit<=0 返回全部。
func (r *TranscriptRepository) List(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	values, err := r.client.LRange(ctx, r.key(conversationID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("Redis 读取消息失败: %w", err)
	}
	messages := make([]conversation.Message, 0, len(values))
	for _, raw := range values {
		var msg conversation.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Close 关闭 Redis 连接。
func (r *TranscriptRepository) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
