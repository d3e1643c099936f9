// Package cache 给对端引用索引加一层 Redis 缓存。
//
// 只缓存“仍被引用”这个结果：缓存过期前对端删掉了引用，最坏只是晚一点回收；
// 反过来缓存“没人引用”就可能误删，所以绝不缓存。
package cache

import (
	"context"
	"fmt"
	"time"

	"filepool/pkg/peers"
	"filepool/pkg/types"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
}

// Resolver 是一个装饰器，它为底层 peers.Resolver 返回的每个索引加上缓存
type Resolver struct {
	backend peers.Resolver
	client  *redis.Client
	ttl     time.Duration
	log     zerolog.Logger
}

var _ peers.Resolver = (*Resolver)(nil)

// NewResolver 连接 Redis 并包装 backend
func NewResolver(backend peers.Resolver, cfg Config, log zerolog.Logger) (*Resolver, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewResolverWithClient(backend, client, cfg.TTL, log), nil
}

// NewResolverWithClient 复用已有的客户端
func NewResolverWithClient(backend peers.Resolver, client *redis.Client, ttl time.Duration, log zerolog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{
		backend: backend,
		client:  client,
		ttl:     ttl,
		log:     log.With().Str("component", "peer-cache").Logger(),
	}
}

func (r *Resolver) Index(ctx context.Context, id types.SystemID) (peers.Index, error) {
	idx, err := r.backend.Index(ctx, id)
	if err != nil {
		return nil, err
	}
	return &cachedIndex{r: r, system: id, backend: idx}, nil
}

func (r *Resolver) Close() error {
	return r.client.Close()
}

type cachedIndex struct {
	r       *Resolver
	system  types.SystemID
	backend peers.Index
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (c *cachedIndex) cacheKey(hash types.Hash) string {
	return "fpool:ref:" + c.system.String() + ":" + string(hash)
}

// Referenced 优先查 Redis
func (c *cachedIndex) Referenced(ctx context.Context, hash types.Hash) (bool, error) {
	key := c.cacheKey(hash)

	// 1. 查 Redis
	val, err := c.r.client.Exists(ctx, key).Result()
	if err != nil {
		// 缓存故障降级：Redis 挂了就直接查对端
		c.r.log.Warn().Err(err).Msg("redis error, falling back to peer index")
	} else if val > 0 {
		return true, nil
	}

	// 2. 缓存未命中，查对端
	referenced, err := c.backend.Referenced(ctx, hash)
	if err != nil {
		return false, err
	}

	// 3. 只回填正结果
	if referenced {
		// 使用 context.WithoutCancel 确保即使上层 ctx 取消，回填也能完成
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := c.r.client.Set(fillCtx, key, "1", c.r.ttl).Err(); err != nil {
			c.r.log.Debug().Err(err).Msg("cache fill failed")
		}
	}
	return referenced, nil
}

// LiveHashes 透传，全量列表不走缓存
func (c *cachedIndex) LiveHashes(ctx context.Context, fn func(types.Hash) error) error {
	return c.backend.LiveHashes(ctx, fn)
}
