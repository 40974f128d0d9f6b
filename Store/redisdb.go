package Store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"mosaic-platform/Pyramid"
)

// redis 单次操作超时
const redisOpTimeout = 3 * time.Second

// redisStore Redis 后端。所有记录放在配置指定的数据库里，
// 键名自带数据源和载荷类型前缀，互不干扰
type redisStore struct {
	client *redis.Client
}

// newRedisStore 创建 Redis 后端并验证连接
func newRedisStore(addr, password string, db int) (*redisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  redisOpTimeout,
		WriteTimeout: redisOpTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis 连接失败: %w", err)
	}
	return &redisStore{client: client}, nil
}

// tileRedisKey 构建 Redis 键名: tile:<数据源>:<载荷类型>:<压缩键十六进制>
func tileRedisKey(provider, kind string, key Pyramid.TileKey) string {
	return "tile:" + provider + ":" + kind + ":" + strconv.FormatUint(key.PackKey(), 16)
}

func (s *redisStore) get(provider, kind string, key Pyramid.TileKey) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, tileRedisKey(provider, kind, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

func (s *redisStore) put(provider, kind string, key Pyramid.TileKey, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	return s.client.Set(ctx, tileRedisKey(provider, kind, key), payload, 0).Err()
}

// putBatch 使用 Pipeline 分批提交，避免单次 Pipeline 过大导致超时
func (s *redisStore) putBatch(provider, kind string, records []record) error {
	if len(records) == 0 {
		return nil
	}

	const batchSize = 1000 // 每批最多 1000 条

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		pipe := s.client.Pipeline()
		for _, r := range records[start:end] {
			pipe.Set(ctx, tileRedisKey(provider, kind, r.key), r.payload, 0)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *redisStore) exists(provider, kind string, key Pyramid.TileKey) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	count, err := s.client.Exists(ctx, tileRedisKey(provider, kind, key)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *redisStore) delete(provider, kind string, key Pyramid.TileKey) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	return s.client.Del(ctx, tileRedisKey(provider, kind, key)).Err()
}

// close 关闭 Redis 连接
func (s *redisStore) close() error {
	return s.client.Close()
}
