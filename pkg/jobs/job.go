// Package jobs 是后台任务的最小抽象：一个队列接口加一个按类型分发的 Runner。
//
// 队列有两个实现：redisqueue (Redis list) 和 sqlqueue (本地数据库表)。
// 投递语义是 at-least-once，所以 Handler 必须幂等。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"filepool/pkg/types"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// TypeTrash 是单个 Hash 的延迟回收任务
const TypeTrash = "trash"

var (
	ErrEmptyQueue     = errors.New("no job available")
	ErrInvalidPayload = errors.New("invalid job payload")
	ErrNoHandler      = errors.New("no handler registered for job type")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Job 是队列里的一条任务
type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`

	// Receipt 由队列实现填写，Ack/Nack 时用来定位这条任务
	Receipt string `json:"-"`
}

// NewJob 创建一条任务，payload 会被序列化成 JSON
func NewJob(jobType string, payload any) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// TrashPayload 是 trash 任务的参数
type TrashPayload struct {
	ContentHash types.Hash `json:"contenthash" validate:"required,len=40,hexadecimal,lowercase"`
}

// NewTrashJob 校验 hash 后创建 trash 任务，空 hash 直接拒绝
func NewTrashJob(hash types.Hash) (*Job, error) {
	p := TrashPayload{ContentHash: hash}
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: contenthash: %v", ErrInvalidPayload, err)
	}
	// validator 的 hexadecimal 允许 0x 前缀
	if !hash.IsValid() {
		return nil, fmt.Errorf("%w: contenthash %q", ErrInvalidPayload, hash)
	}
	return NewJob(TypeTrash, p)
}

// DecodeTrashPayload 解析并校验 trash 任务的参数
func DecodeTrashPayload(job *Job) (TrashPayload, error) {
	var p TrashPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(p); err != nil {
		return p, fmt.Errorf("%w: contenthash: %v", ErrInvalidPayload, err)
	}
	if !p.ContentHash.IsValid() {
		return p, fmt.Errorf("%w: contenthash %q", ErrInvalidPayload, p.ContentHash)
	}
	return p, nil
}

// Queue 是任务队列
type Queue interface {
	// Enqueue 投递任务
	Enqueue(ctx context.Context, job *Job) error

	// Dequeue 取出一条任务，暂时没有时返回 ErrEmptyQueue
	// 取出的任务必须 Ack 或 Nack
	Dequeue(ctx context.Context) (*Job, error)

	// Ack 确认任务完成
	Ack(ctx context.Context, job *Job) error

	// Nack 把任务放回队列等待重试 (调用方负责递增 Attempts)
	Nack(ctx context.Context, job *Job) error

	// Recover 把上次进程退出时还没确认的任务放回队列
	Recover(ctx context.Context) (int, error)
}
