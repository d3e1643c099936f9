// Package scheduler 决定一次删除请求是立刻执行还是交给后台。
//
// 调用方显式告诉它自己处在哪种上下文：维护命令 (batch) 可以等，
// 在线请求 (interactive) 不能把删除耗时加到请求路径上。
package scheduler

import (
	"context"
	"fmt"

	"filepool/pkg/jobs"
	"filepool/pkg/trash"
	"filepool/pkg/types"

	"github.com/rs/zerolog"
)

// ExecContext 是调用方所处的执行上下文
type ExecContext int

const (
	// ExecInteractive 在线请求：入队后立即返回
	ExecInteractive ExecContext = iota
	// ExecBatch CLI 或维护任务：同步执行完才返回
	ExecBatch
)

func (c ExecContext) String() string {
	if c == ExecBatch {
		return "batch"
	}
	return "interactive"
}

// Result 描述 Remove 做了什么
type Result struct {
	Scheduled bool          // 进了后台队列
	JobID     string        // Scheduled 时有效
	Outcome   trash.Outcome // 同步执行时的结果
}

// Readability 检查内容是否还在 (migrate.Engine 实现了它，会顺带看旧目录)
type Readability interface {
	Readable(ctx context.Context, hash types.Hash) bool
}

// Trasher 执行单个 Hash 的回收
type Trasher interface {
	Execute(ctx context.Context, hash types.Hash) (trash.Outcome, error)
}

// Scheduler 是延迟回收的入口
type Scheduler struct {
	files   Readability
	trasher Trasher
	queue   jobs.Queue
	log     zerolog.Logger
}

func New(files Readability, trasher Trasher, queue jobs.Queue, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		files:   files,
		trasher: trasher,
		queue:   queue,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
}

// Remove 请求回收 hash
// 内容已经不在时什么也不做，不会产生任何任务
func (s *Scheduler) Remove(ctx context.Context, hash types.Hash, exec ExecContext) (*Result, error) {
	if !hash.IsValid() {
		// 空 hash 或格式不对直接拒绝
		return nil, fmt.Errorf("%w: contenthash %q", jobs.ErrInvalidPayload, hash)
	}

	// 1. 已经没了就别浪费后台资源
	if !s.files.Readable(ctx, hash) {
		s.log.Debug().Str("hash", hash.String()).Msg("content already gone, nothing to remove")
		return &Result{Outcome: trash.OutcomeMissing}, nil
	}

	// 2. 同步上下文：就地执行
	if exec == ExecBatch {
		outcome, err := s.trasher.Execute(ctx, hash)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: outcome}, nil
	}

	// 3. 在线上下文：入队立即返回
	if s.queue == nil {
		return nil, fmt.Errorf("no job queue configured for interactive removal")
	}
	job, err := jobs.NewTrashJob(hash)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to schedule trash job: %w", err)
	}
	s.log.Debug().Str("hash", hash.String()).Str("job", job.ID).Msg("trash scheduled")
	return &Result{Scheduled: true, JobID: job.ID}, nil
}

// TrashHandler 是 trash 任务的后台处理函数
func TrashHandler(trasher Trasher) jobs.Handler {
	return func(ctx context.Context, job *jobs.Job) error {
		p, err := jobs.DecodeTrashPayload(job)
		if err != nil {
			return err
		}
		_, err = trasher.Execute(ctx, p.ContentHash)
		return err
	}
}
