// internal/storage/redis_store.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore 以 hoverlens:<area>:<key> 保存 JSON 值
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 创建 redis 存储区域
func NewRedisStore(client *redis.Client, area string) *RedisStore {
	return &RedisStore{client: client, prefix: "hoverlens:" + area + ":"}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// Get 读取键；不存在返回 ErrNotFound
func (s *RedisStore) Get(ctx context.Context, key string, v interface{}) error {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("redis 读取失败: %w", err)
	}
	return json.Unmarshal(raw, v)
}

// Set 写入单个键
func (s *RedisStore) Set(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化键 %s 失败: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis 写入失败: %w", err)
	}
	return nil
}

// SetMany 使用 MULTI/EXEC 一次写入
func (s *RedisStore) SetMany(ctx context.Context, values map[string]interface{}) error {
	encoded := make(map[string][]byte, len(values))
	for key, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("序列化键 %s 失败: %w", key, err)
		}
		encoded[key] = raw
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, raw := range encoded {
			pipe.Set(ctx, s.key(key), raw, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis 批量写入失败: %w", err)
	}
	return nil
}

// Delete 删除键
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis 删除失败: %w", err)
	}
	return nil
}
