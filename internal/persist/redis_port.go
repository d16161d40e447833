package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPort implements Port on Redis string keys.
type RedisPort struct {
	client   *redis.Client
	prefix   string
	maxBytes int
}

// NewRedisPort connects to redisURL. maxBytes > 0 rejects single values
// larger than that with ErrQuotaExceeded.
func NewRedisPort(redisURL string, maxBytes int) (*RedisPort, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisPortWithClient(client, maxBytes), nil
}

func NewRedisPortWithClient(client *redis.Client, maxBytes int) *RedisPort {
	return &RedisPort{
		client:   client,
		prefix:   "charmap:",
		maxBytes: maxBytes,
	}
}

func (p *RedisPort) key(name string) string {
	return p.prefix + name
}

func (p *RedisPort) Read(ctx context.Context, key string) ([]byte, error) {
	value, err := p.client.Get(ctx, p.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}

func (p *RedisPort) Write(ctx context.Context, key string, value []byte) error {
	if p.maxBytes > 0 && len(value) > p.maxBytes {
		return fmt.Errorf("write %s (%d bytes): %w", key, len(value), ErrQuotaExceeded)
	}
	if err := p.client.Set(ctx, p.key(key), value, 0).Err(); err != nil {
		// A maxmemory-limited server answers OOM for writes it cannot hold.
		if strings.HasPrefix(err.Error(), "OOM") {
			return fmt.Errorf("write %s: %w", key, ErrQuotaExceeded)
		}
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (p *RedisPort) Clear(ctx context.Context, key string) error {
	if err := p.client.Del(ctx, p.key(key)).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", key, err)
	}
	return nil
}

func (p *RedisPort) Close() error {
	return p.client.Close()
}

func (p *RedisPort) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
