package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filepool/pkg/metrics"

	"github.com/rs/zerolog"
)

// Handler 处理一条任务，返回 error 会触发重试
type Handler func(ctx context.Context, job *Job) error

// Runner 从队列取任务并按类型分发
type Runner struct {
	queue       Queue
	handlers    map[string]Handler
	maxAttempts int
	poll        time.Duration
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

// RunnerOption 配置 Runner
type RunnerOption func(*Runner)

// WithMaxAttempts 设置最大尝试次数 (default: 5)
func WithMaxAttempts(n int) RunnerOption { return func(r *Runner) { r.maxAttempts = n } }

// WithPollInterval 设置队列为空时的等待间隔 (default: 1s)
func WithPollInterval(d time.Duration) RunnerOption { return func(r *Runner) { r.poll = d } }

// WithMetrics 记录任务结果
func WithMetrics(m *metrics.Metrics) RunnerOption { return func(r *Runner) { r.metrics = m } }

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) RunnerOption { return func(r *Runner) { r.log = l } }

func NewRunner(queue Queue, opts ...RunnerOption) *Runner {
	r := &Runner{
		queue:       queue,
		handlers:    make(map[string]Handler),
		maxAttempts: 5,
		poll:        time.Second,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With().Str("component", "jobs").Logger()
	return r
}

// Handle 注册某个类型的 Handler
func (r *Runner) Handle(jobType string, h Handler) {
	r.handlers[jobType] = h
}

// Run 持续处理任务直到 ctx 结束
func (r *Runner) Run(ctx context.Context) error {
	if n, err := r.queue.Recover(ctx); err != nil {
		r.log.Warn().Err(err).Msg("failed to recover unacknowledged jobs")
	} else if n > 0 {
		r.log.Info().Int("jobs", n).Msg("recovered unacknowledged jobs")
	}

	for {
		processed, err := r.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			r.log.Error().Err(err).Msg("job queue error")
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.poll):
		}
	}
}

// RunOnce 处理最多一条任务，返回是否取到了任务
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	job, err := r.queue.Dequeue(ctx)
	if errors.Is(err, ErrEmptyQueue) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}

	log := r.log.With().Str("job", job.ID).Str("type", job.Type).Logger()
	// 已经取出的任务一定要确认，不受关闭信号影响
	settle := context.WithoutCancel(ctx)

	h, ok := r.handlers[job.Type]
	if !ok {
		// 没人能处理的任务重试也没用
		log.Error().Err(ErrNoHandler).Msg("dropping job")
		r.metrics.Job(job.Type, "dropped")
		return true, r.queue.Ack(settle, job)
	}

	if err := h(ctx, job); err != nil {
		job.Attempts++
		if job.Attempts >= r.maxAttempts || errors.Is(err, ErrInvalidPayload) {
			log.Error().Err(err).Int("attempts", job.Attempts).Msg("job failed permanently")
			r.metrics.Job(job.Type, "failed")
			return true, r.queue.Ack(settle, job)
		}
		log.Warn().Err(err).Int("attempts", job.Attempts).Msg("job failed, will retry")
		r.metrics.Job(job.Type, "retried")
		return true, r.queue.Nack(settle, job)
	}

	log.Debug().Msg("job done")
	r.metrics.Job(job.Type, "done")
	return true, r.queue.Ack(settle, job)
}
