// Package redisqueue 用两个 Redis list 实现可靠队列：
// BLMOVE 把任务从 pending 原子地挪进 processing，Ack 时再从 processing 删掉。
// 每次领取都在 claims 哈希里记下时间，租约过期仍留在 processing 里的任务
// (比如进程崩溃) 由 Recover 放回 pending；别的 worker 正在执行的任务不受影响。
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"filepool/pkg/jobs"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	Prefix   string        // key 前缀 (default: "fpool:jobs")
	Block    time.Duration // Dequeue 最长阻塞时间 (default: 1s)
	Lease    time.Duration // 领取后多久没确认算作丢失 (default: 10m)
}

// Queue 是 Redis 任务队列
type Queue struct {
	client     *redis.Client
	pending    string
	processing string
	claims     string
	block      time.Duration
	lease      time.Duration
}

var _ jobs.Queue = (*Queue)(nil)

func New(cfg Config) (*Queue, error) {
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
	return NewWithClient(client, cfg), nil
}

// NewWithClient 复用已有的客户端
func NewWithClient(client *redis.Client, cfg Config) *Queue {
	if cfg.Prefix == "" {
		cfg.Prefix = "fpool:jobs"
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 10 * time.Minute
	}
	return &Queue{
		client:     client,
		pending:    cfg.Prefix + ":pending",
		processing: cfg.Prefix + ":processing",
		claims:     cfg.Prefix + ":claims",
		block:      cfg.Block,
		lease:      cfg.Lease,
	}
}

func (q *Queue) Enqueue(ctx context.Context, job *jobs.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.pending, raw).Err()
}

func (q *Queue) Dequeue(ctx context.Context) (*jobs.Job, error) {
	raw, err := q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", q.block).Result()
	if errors.Is(err, redis.Nil) {
		return nil, jobs.ErrEmptyQueue
	}
	if err != nil {
		return nil, err
	}

	var job jobs.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// 坏数据留着只会反复出错
		q.client.LRem(ctx, q.processing, 1, raw)
		return nil, fmt.Errorf("corrupted job in queue: %w", err)
	}
	if err := q.client.HSet(ctx, q.claims, raw, time.Now().Unix()).Err(); err != nil {
		return nil, fmt.Errorf("failed to record claim: %w", err)
	}
	job.Receipt = raw
	return &job, nil
}

func (q *Queue) Ack(ctx context.Context, job *jobs.Job) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, job.Receipt)
		pipe.HDel(ctx, q.claims, job.Receipt)
		return nil
	})
	return err
}

// Nack 用新的 Attempts 重新入队，并在同一个事务里删掉旧条目
func (q *Queue) Nack(ctx context.Context, job *jobs.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, job.Receipt)
		pipe.HDel(ctx, q.claims, job.Receipt)
		pipe.LPush(ctx, q.pending, raw)
		return nil
	})
	return err
}

// Recover 把租约过期的 processing 任务挪回 pending
// 没有领取记录的条目 (BLMOVE 之后、HSET 之前崩溃) 从现在开始计算租约
func (q *Queue) Recover(ctx context.Context) (int, error) {
	items, err := q.client.LRange(ctx, q.processing, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	deadline := time.Now().Add(-q.lease).Unix()
	n := 0
	for _, raw := range items {
		claimed, err := q.client.HGet(ctx, q.claims, raw).Int64()
		if errors.Is(err, redis.Nil) {
			q.client.HSetNX(ctx, q.claims, raw, time.Now().Unix())
			continue
		}
		if err != nil {
			return n, err
		}
		if claimed > deadline {
			continue
		}

		// LRem 返回 0 说明刚被别人确认了，不要重复入队
		var removed *redis.IntCmd
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			removed = pipe.LRem(ctx, q.processing, 1, raw)
			pipe.HDel(ctx, q.claims, raw)
			return nil
		})
		if err != nil {
			return n, err
		}
		if removed.Val() == 0 {
			continue
		}
		if err := q.client.RPush(ctx, q.pending, raw).Err(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Len 返回等待执行的任务数
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pending).Result()
}

func (q *Queue) Close() error {
	return q.client.Close()
}
