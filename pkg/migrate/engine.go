// Package migrate 把旧 filedir 的内容搬进当前存储。
//
// 两条路径共用一个原语 Migrate(oldPath, hash):
//   - 惰性迁移：读取时当前存储找不到，再去旧根目录找，按需搬过来
//   - 批量迁移：遍历整个旧根目录，提前把所有文件搬完
//
// 迁移期间旧根目录一直有效，所以切换过程不需要停机。
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filepool/pkg/abort"
	"filepool/pkg/metrics"
	"filepool/pkg/storage"
	"filepool/pkg/storage/disk"
	"filepool/pkg/types"
	"filepool/pkg/walker"

	"github.com/rs/zerolog"
)

var (
	ErrNoSource      = errors.New("no legacy directory specified")
	ErrSameSource    = errors.New("legacy directory is the same as the store root")
	ErrNestedSource  = errors.New("legacy directory contains or is inside the store root")
	ErrSourceMissing = errors.New("legacy directory does not exist")
)

// Engine 是迁移引擎
type Engine struct {
	store      storage.Store
	legacyRoot string
	guard      *abort.Guard
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// Option 配置 Engine
type Option func(*Engine)

// WithGuard 替换默认的进程级 abort.Guard
func WithGuard(g *abort.Guard) Option { return func(e *Engine) { e.guard = g } }

// WithMetrics 记录迁移指标
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// NewEngine 创建迁移引擎；legacyRoot 为空表示没有旧目录
func NewEngine(store storage.Store, legacyRoot string, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		legacyRoot: legacyRoot,
		guard:      abort.Default,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With().Str("component", "migrate").Logger()
	return e
}

// LegacyRoot 返回配置的旧根目录
func (e *Engine) LegacyRoot() string { return e.legacyRoot }

// Result 是一次迁移的结果
type Result struct {
	Hash    types.Hash
	Size    int64
	Created bool // false 表示当前存储里早就有这份内容
}

// Migrate 把 oldPath 收进存储，成功后删除 oldPath
// 整个过程处于 abort 临界区：上游取消不会让它停在“已复制未删除”之间
func (e *Engine) Migrate(ctx context.Context, oldPath string, hash types.Hash) (*Result, error) {
	ctx, release := e.guard.Hold(ctx)
	defer release()

	// 1. 拉过来
	size, created, err := e.store.AddFromPath(ctx, oldPath, hash)
	if err != nil {
		e.metrics.Migration("failed")
		return nil, fmt.Errorf("failed to migrate %s: %w", oldPath, err)
	}

	// 2. 删除旧文件 (尽力而为：内容已经安全落地，删不掉只记日志)
	// oldPath 就是在线副本时绝不能删
	if e.isLive(oldPath, hash) {
		e.log.Warn().Str("path", oldPath).Msg("source is the live copy, keeping it")
	} else if err := os.Remove(oldPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.log.Warn().Err(err).Str("path", oldPath).Msg("failed to remove migrated source")
	}

	if created {
		e.metrics.Migration("created")
	} else {
		e.metrics.Migration("deduplicated")
	}
	return &Result{Hash: hash, Size: size, Created: created}, nil
}

// isLive 判断 path 和 hash 的在线副本是不是同一个文件
func (e *Engine) isLive(path string, hash types.Hash) bool {
	src, err := os.Stat(path)
	if err != nil {
		return false
	}
	live, err := os.Stat(e.store.Layout(hash))
	return err == nil && os.SameFile(src, live)
}

// LegacyPath 返回 hash 在旧根目录的路径 (同样的分片方式)
func (e *Engine) LegacyPath(hash types.Hash) string {
	if e.legacyRoot == "" {
		return ""
	}
	return disk.Layout(e.legacyRoot, hash)
}

// LocalPath 返回 hash 的本地可读路径
// 当前存储没有时去旧目录找：fetch=true 立即迁移并返回新路径，否则直接返回旧路径
func (e *Engine) LocalPath(ctx context.Context, hash types.Hash, fetch bool) (string, error) {
	if e.store.Readable(ctx, hash) {
		return e.store.Layout(hash), nil
	}

	legacy := e.LegacyPath(hash)
	if legacy == "" || !disk.IsReadable(legacy) {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, hash)
	}
	if !fetch {
		return legacy, nil
	}

	if _, err := e.Migrate(ctx, legacy, hash); err != nil {
		return "", err
	}
	return e.store.Layout(hash), nil
}

// Readable 检查当前存储或旧目录里是否能读到 hash (不触发迁移)
func (e *Engine) Readable(ctx context.Context, hash types.Hash) bool {
	_, err := e.LocalPath(ctx, hash, false)
	return err == nil
}

// Stats 是批量迁移的统计
type Stats struct {
	StartTime time.Time
	EndTime   time.Time
	Migrated  uint64
	Deduped   uint64
	Failed    uint64
}

// Summary returns a human-readable summary of the migration.
func (s *Stats) Summary() string {
	return fmt.Sprintf("migrated=%d deduplicated=%d failed=%d duration=%s",
		s.Migrated, s.Deduped, s.Failed, s.EndTime.Sub(s.StartTime))
}

// ValidateSource 拒绝空的、不存在的、与当前存储相同或互相嵌套的目录
// 嵌套时遍历旧目录会走进在线存储，把在线文件当成待迁移的源文件
func (e *Engine) ValidateSource(from string) error {
	if from == "" {
		return ErrNoSource
	}
	info, err := os.Stat(from)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSourceMissing, from, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrSourceMissing, from)
	}
	if samePath(from, e.store.Root()) {
		return ErrSameSource
	}
	if nested(from, e.store.Root()) {
		return fmt.Errorf("%w: %s and %s", ErrNestedSource, from, e.store.Root())
	}
	return nil
}

// MigrateAll 遍历 from 下的所有内容文件并逐个迁移
// 单个文件失败只记日志继续；遍历本身出错或 ctx 取消才返回错误
func (e *Engine) MigrateAll(ctx context.Context, from string, progress func(walker.Entry, *Result, error)) (*Stats, error) {
	if err := e.ValidateSource(from); err != nil {
		return nil, err
	}

	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	w, err := walker.New(from, nil)
	if err != nil {
		return stats, err
	}
	defer w.Close()

	for w.Next() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		entry := w.Entry()
		res, err := e.Migrate(ctx, entry.Path, entry.Hash)
		switch {
		case err != nil:
			stats.Failed++
			e.log.Error().Err(err).Str("path", entry.Path).Msg("migration failed")
		case res.Created:
			stats.Migrated++
		default:
			stats.Deduped++
		}
		if progress != nil {
			progress(entry, res, err)
		}
	}
	return stats, w.Err()
}

func samePath(a, b string) bool {
	ca, errA := filepath.Abs(a)
	cb, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	if ca == cb {
		return true
	}
	// 符号链接指向同一个目录也算相同
	ia, errA := os.Stat(ca)
	ib, errB := os.Stat(cb)
	return errA == nil && errB == nil && os.SameFile(ia, ib)
}

// nested 判断 a、b 是否一个是另一个的祖先目录 (符号链接先解析)
func nested(a, b string) bool {
	ra, rb := resolve(a), resolve(b)
	return within(ra, rb) || within(rb, ra)
}

func resolve(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if target, err := filepath.EvalSymlinks(p); err == nil {
		p = target
	}
	return filepath.Clean(p)
}

// within 判断 child 是否在 parent 之下
func within(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
