// Package sqlqueue 把任务存放在本系统数据库的 adhoc_jobs 表里。
// 不需要额外的中间件，适合单机部署。
package sqlqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filepool/pkg/jobs"
	"filepool/pkg/meta"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusPending = "pending"
	StatusRunning = "running"
)

// JobRecord 对应 adhoc_jobs 表
type JobRecord struct {
	ID          string         `gorm:"primaryKey;size:36"`
	Type        string         `gorm:"size:64;not null"`
	Payload     datatypes.JSON `gorm:"not null"`
	Attempts    int            `gorm:"not null;default:0"`
	Status      string         `gorm:"size:16;not null;index:idx_adhoc_jobs_claim,priority:1"`
	AvailableAt time.Time      `gorm:"not null;index:idx_adhoc_jobs_claim,priority:2"`
	ClaimedAt   *time.Time
	CreatedAt   time.Time
}

func (JobRecord) TableName() string {
	return "adhoc_jobs"
}

// Config 配置 SQL 队列
type Config struct {
	// RetryDelay 是每次失败后的退避基数，第 n 次重试等待 n*RetryDelay (default: 30s)
	RetryDelay time.Duration

	// Lease 是 running 状态的超时，超过后 Recover 会把任务放回队列 (default: 10m)
	Lease time.Duration
}

// Queue 是基于 gorm 的任务队列
type Queue struct {
	db  *gorm.DB
	cfg Config
}

var _ jobs.Queue = (*Queue)(nil)

// New 创建队列并确保表存在
func New(db *meta.DB, cfg Config) (*Queue, error) {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 10 * time.Minute
	}
	if err := db.AutoMigrate(&JobRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate adhoc_jobs: %w", err)
	}
	return &Queue{db: db.GetConn(), cfg: cfg}, nil
}

func (q *Queue) Enqueue(ctx context.Context, job *jobs.Job) error {
	rec := &JobRecord{
		ID:          job.ID,
		Type:        job.Type,
		Payload:     datatypes.JSON(job.Payload),
		Attempts:    job.Attempts,
		Status:      StatusPending,
		AvailableAt: time.Now().UTC(),
		CreatedAt:   job.EnqueuedAt,
	}
	return q.db.WithContext(ctx).Create(rec).Error
}

// Dequeue 取最早的可执行任务并用条件更新抢占
// 别的进程抢先一步时 RowsAffected 为 0，换下一条再试
func (q *Queue) Dequeue(ctx context.Context) (*jobs.Job, error) {
	const maxRaces = 5

	for range maxRaces {
		var rec JobRecord
		err := q.db.WithContext(ctx).
			Where("status = ? AND available_at <= ?", StatusPending, time.Now().UTC()).
			Order("available_at, created_at").
			Take(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, jobs.ErrEmptyQueue
		}
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		res := q.db.WithContext(ctx).Model(&JobRecord{}).
			Where("id = ? AND status = ?", rec.ID, StatusPending).
			Updates(map[string]any{"status": StatusRunning, "claimed_at": now})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return &jobs.Job{
				ID:         rec.ID,
				Type:       rec.Type,
				Payload:    []byte(rec.Payload),
				Attempts:   rec.Attempts,
				EnqueuedAt: rec.CreatedAt,
				Receipt:    rec.ID,
			}, nil
		}
	}
	return nil, jobs.ErrEmptyQueue
}

// Ack 删除已完成的任务
func (q *Queue) Ack(ctx context.Context, job *jobs.Job) error {
	return q.db.WithContext(ctx).Delete(&JobRecord{}, "id = ?", job.Receipt).Error
}

// Nack 放回队列并按尝试次数退避
func (q *Queue) Nack(ctx context.Context, job *jobs.Job) error {
	next := time.Now().UTC().Add(time.Duration(job.Attempts) * q.cfg.RetryDelay)
	return q.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ?", job.Receipt).
		Updates(map[string]any{
			"status":       StatusPending,
			"attempts":     job.Attempts,
			"available_at": next,
			"claimed_at":   nil,
		}).Error
}

// Recover 把租约过期的 running 任务放回队列
func (q *Queue) Recover(ctx context.Context) (int, error) {
	deadline := time.Now().UTC().Add(-q.cfg.Lease)
	res := q.db.WithContext(ctx).Model(&JobRecord{}).
		Where("status = ? AND claimed_at < ?", StatusRunning, deadline).
		Updates(map[string]any{"status": StatusPending, "claimed_at": nil})
	return int(res.RowsAffected), res.Error
}

// Pending 返回等待执行的任务数
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&JobRecord{}).Where("status = ?", StatusPending).Count(&n).Error
	return n, err
}
