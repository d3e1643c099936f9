// Package trash 把单个不再被引用的内容移入回收站。
//
// 每个 Hash 走一遍状态机：
//
//	CheckReferences -> CheckExists -> Move -> Done
//	        \               \
//	         +----> Abort <--+
//
// “还在用”和“已经没了”都是正常结果，不是错误。重复执行是安全的空操作。
package trash

import (
	"context"
	"errors"
	"fmt"

	"filepool/pkg/metrics"
	"filepool/pkg/storage"
	"filepool/pkg/types"

	"github.com/rs/zerolog"
)

// Outcome 是一次执行的最终结果
type Outcome string

const (
	OutcomeTrashed      Outcome = "trashed"      // rename 进了回收站
	OutcomeDeduplicated Outcome = "deduplicated" // 回收站已有，删掉了在线副本
	OutcomeInUse        Outcome = "in_use"       // 仍被某个系统引用
	OutcomeMissing      Outcome = "missing"      // 文件已经不在了
)

// State 是状态机的状态
type State int

const (
	StateCheckReferences State = iota
	StateCheckExists
	StateMove
	StateDone
	StateAbort
)

func (s State) String() string {
	switch s {
	case StateCheckReferences:
		return "check_references"
	case StateCheckExists:
		return "check_exists"
	case StateMove:
		return "move"
	case StateDone:
		return "done"
	case StateAbort:
		return "abort"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Checker 判断 Hash 能否删除 (oracle.Oracle 实现了它)
type Checker interface {
	IsRemovable(ctx context.Context, hash types.Hash) bool
}

// Locator 解析 Hash 的本地路径 (migrate.Engine 实现了它)
// fetch=true 时如果内容还在旧目录，会先迁移过来
type Locator interface {
	LocalPath(ctx context.Context, hash types.Hash, fetch bool) (string, error)
}

// Executor 执行单个 Hash 的回收
type Executor struct {
	checker Checker
	locator Locator
	store   storage.Trashable
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// Option 配置 Executor
type Option func(*Executor)

// WithLocator 让存在性检查回退到旧目录
func WithLocator(l Locator) Option { return func(e *Executor) { e.locator = l } }

// WithMetrics 记录执行结果
func WithMetrics(m *metrics.Metrics) Option { return func(e *Executor) { e.metrics = m } }

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option { return func(e *Executor) { e.log = l } }

func New(checker Checker, store storage.Trashable, opts ...Option) *Executor {
	e := &Executor{
		checker: checker,
		store:   store,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With().Str("component", "trash").Logger()
	return e
}

// Execute 对 hash 跑一遍状态机
// 只有真正的 I/O 故障才返回 error
func (e *Executor) Execute(ctx context.Context, hash types.Hash) (Outcome, error) {
	if !hash.IsValid() {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidHash, hash)
	}

	var outcome Outcome
	state := StateCheckReferences
	for state != StateDone && state != StateAbort {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		e.log.Debug().Str("hash", hash.String()).Stringer("state", state).Send()

		switch state {
		case StateCheckReferences:
			if !e.checker.IsRemovable(ctx, hash) {
				outcome, state = OutcomeInUse, StateAbort
				continue
			}
			state = StateCheckExists

		case StateCheckExists:
			present, err := e.exists(ctx, hash)
			if err != nil {
				return "", err
			}
			if !present {
				outcome, state = OutcomeMissing, StateAbort
				continue
			}
			state = StateMove

		case StateMove:
			deduplicated, err := e.store.MoveToTrash(ctx, hash)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				// 另一个进程抢先一步
				outcome = OutcomeMissing
			case err != nil:
				return "", fmt.Errorf("failed to trash %s: %w", hash, err)
			case deduplicated:
				outcome = OutcomeDeduplicated
			default:
				outcome = OutcomeTrashed
			}
			state = StateDone
		}
	}

	e.metrics.TrashOutcome(string(outcome))
	e.log.Debug().Str("hash", hash.String()).Str("outcome", string(outcome)).Msg("trash finished")
	return outcome, nil
}

// exists 确认内容在当前存储里可读
// 配置了 Locator 时，旧目录里的内容会先迁移过来，这样 Move 一步才有东西可挪
func (e *Executor) exists(ctx context.Context, hash types.Hash) (bool, error) {
	if e.locator == nil {
		return e.store.Readable(ctx, hash), nil
	}
	_, err := e.locator.LocalPath(ctx, hash, true)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
