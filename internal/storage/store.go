// internal/storage/store.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Corphon/HoverLens/internal/config"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound 键不存在
var ErrNotFound = errors.New("存储键不存在")

// 两个存储区域，对应扩展的 sync / local
const (
	AreaSync  = "sync"
	AreaLocal = "local"
)

// Store JSON 键值存储
type Store interface {
	Get(ctx context.Context, key string, v interface{}) error
	Set(ctx context.Context, key string, v interface{}) error
	// SetMany 一次性写入多个键，要么全部生效要么都不生效
	SetMany(ctx context.Context, values map[string]interface{}) error
	Delete(ctx context.Context, keys ...string) error
}

// Areas 同一后端上的两个存储区域
type Areas struct {
	Sync    Store
	Local   Store
	Backend string

	closer func() error
}

// Close 释放后端连接
func (a *Areas) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer()
}

// OpenAreas 按配置打开存储后端
func OpenAreas(ctx context.Context, cfg *config.Config) (*Areas, error) {
	switch cfg.Store.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis 连接失败: %w", err)
		}
		return &Areas{
			Sync:    NewRedisStore(client, AreaSync),
			Local:   NewRedisStore(client, AreaLocal),
			Backend: "redis",
			closer:  client.Close,
		}, nil

	case "file", "":
		fs, err := NewFileStorage(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return &Areas{
			Sync:    NewFileStore(fs, AreaSync),
			Local:   NewFileStore(fs, AreaLocal),
			Backend: "file",
		}, nil

	default:
		return nil, fmt.Errorf("不支持的存储后端: %s", cfg.Store.Backend)
	}
}
