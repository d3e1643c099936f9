// Package sweep 是全量 GC：对比磁盘上的所有内容与所有系统的在用集合，
// 把没人引用的文件交给 trash 执行器。
//
// 整个过程分两步：
//  1. 并发拉取每个已接入系统的在用 Hash，合并成一个集合
//  2. 遍历 filedir，不在集合里的 Hash 逐个回收
//
// 合并后的集合为空一定是配置或查询出了问题，直接中止，绝不清空整个存储。
package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"filepool/pkg/metrics"
	"filepool/pkg/peers"
	"filepool/pkg/storage"
	"filepool/pkg/trash"
	"filepool/pkg/types"
	"filepool/pkg/walker"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrEmptyLiveSet 表示所有系统加起来一个在用 Hash 都没有
var ErrEmptyLiveSet = errors.New("combined live hash set is empty, refusing to sweep")

// Systems 提供已接入系统列表
type Systems interface {
	Systems() ([]types.SystemID, error)
}

// Trasher 回收单个 Hash (trash.Executor 实现了它)
type Trasher interface {
	Execute(ctx context.Context, hash types.Hash) (trash.Outcome, error)
}

// Config contains configuration for the sweep.
type Config struct {
	// Enabled 关闭时 Run 是静默的空操作
	Enabled bool

	// Interval 是后台定时执行的间隔 (default: 24h)
	Interval time.Duration

	// Timeout 限制单次后台执行的时长 (default: 1h)
	Timeout time.Duration

	// DryRun 只统计和打印，不真正回收
	DryRun bool

	// Concurrency 是第一步同时查询的系统数 (default: 4)
	Concurrency int
}

// Coordinator 执行 sweep
//
// Thread Safety: Run 可以并发调用，但没有意义；Start/Stop 各只生效一次。
type Coordinator struct {
	systems  Systems
	resolver peers.Resolver
	local    peers.Index
	store    storage.Store
	trasher  Trasher
	config   Config
	metrics  *metrics.Metrics
	log      zerolog.Logger
	out      io.Writer

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Option 配置 Coordinator
type Option func(*Coordinator)

// WithLocalIndex 注册表为空时用本地索引作为在用集合
func WithLocalIndex(idx peers.Index) Option { return func(c *Coordinator) { c.local = idx } }

// WithMetrics 记录执行结果
func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option { return func(c *Coordinator) { c.log = l } }

// WithOutput 每回收一个文件就往 w 打印一行
func WithOutput(w io.Writer) Option { return func(c *Coordinator) { c.out = w } }

func New(systems Systems, resolver peers.Resolver, store storage.Store, trasher Trasher, config Config, opts ...Option) *Coordinator {
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Hour
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}

	c := &Coordinator{
		systems:  systems,
		resolver: resolver,
		store:    store,
		trasher:  trasher,
		config:   config,
		log:      zerolog.Nop(),
		out:      io.Discard,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "sweep").Logger()
	return c
}

// Stats contains statistics from a sweep run.
type Stats struct {
	StartTime    time.Time
	EndTime      time.Time
	Skipped      bool   // 未启用或存储不支持回收
	Systems      int    // 参与合并的系统数
	LiveCount    uint64 // 合并后的在用 Hash 数
	Scanned      uint64 // 遍历到的内容文件数
	Candidates   uint64 // 不在在用集合里的文件数
	Trashed      uint64
	Deduplicated uint64
	InUse        uint64 // oracle 复查时发现又被引用了
	Missing      uint64
	Failed       uint64
}

// Duration returns the total sweep duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the sweep.
func (s *Stats) Summary() string {
	if s.Skipped {
		return "skipped"
	}
	return fmt.Sprintf("systems=%d live=%d scanned=%d candidates=%d trashed=%d deduplicated=%d in_use=%d missing=%d failed=%d duration=%s",
		s.Systems, s.LiveCount, s.Scanned, s.Candidates, s.Trashed, s.Deduplicated,
		s.InUse, s.Missing, s.Failed, s.Duration())
}

// Run 执行一次 sweep
// 未启用或存储不支持回收时返回 Skipped 的 Stats，不报错
func (c *Coordinator) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	if !c.config.Enabled {
		c.log.Debug().Msg("sweep disabled")
		stats.Skipped = true
		c.metrics.SweepRun("skipped", 0, 0)
		return stats, nil
	}
	if _, ok := c.store.(storage.Trashable); !ok {
		c.log.Debug().Msg("store does not support trash, skipping sweep")
		stats.Skipped = true
		c.metrics.SweepRun("skipped", 0, 0)
		return stats, nil
	}

	// Phase 1: 合并在用集合
	c.log.Info().Msg("sweep: phase 1 - collecting live hashes")
	live, err := c.liveSet(ctx, stats)
	if err != nil {
		c.metrics.SweepRun("aborted", len(live), 0)
		return stats, err
	}
	stats.LiveCount = uint64(len(live))
	if len(live) == 0 {
		c.log.Error().Int("systems", stats.Systems).Msg("sweep aborted: empty live set")
		c.metrics.SweepRun("aborted", 0, 0)
		return stats, ErrEmptyLiveSet
	}
	c.log.Info().Uint64("live", stats.LiveCount).Int("systems", stats.Systems).Msg("sweep: live set ready")

	// Phase 2: 遍历 filedir
	c.log.Info().Str("root", c.store.Root()).Bool("dry_run", c.config.DryRun).Msg("sweep: phase 2 - scanning store")
	if err := c.scan(ctx, live, stats); err != nil {
		c.metrics.SweepRun("failed", len(live), int(stats.Trashed+stats.Deduplicated))
		return stats, err
	}

	c.metrics.SweepRun("ok", len(live), int(stats.Trashed+stats.Deduplicated))
	c.log.Info().Str("summary", stats.Summary()).Msg("sweep completed")
	return stats, nil
}

// liveSet 并发查询所有系统，合并成一个集合
// 任何一个系统失败 (未配置、不可达) 整个 sweep 都要中止
func (c *Coordinator) liveSet(ctx context.Context, stats *Stats) (map[types.Hash]struct{}, error) {
	systems, err := c.systems.Systems()
	if err != nil {
		return nil, fmt.Errorf("failed to read connected systems: %w", err)
	}

	live := make(map[types.Hash]struct{})
	var mu sync.Mutex
	add := func(h types.Hash) error {
		mu.Lock()
		live[h] = struct{}{}
		mu.Unlock()
		return nil
	}

	if len(systems) == 0 {
		if c.local == nil {
			return live, nil
		}
		stats.Systems = 1
		if err := c.local.LiveHashes(ctx, add); err != nil {
			return nil, fmt.Errorf("local index: %w", err)
		}
		return live, nil
	}

	stats.Systems = len(systems)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)
	for _, id := range systems {
		g.Go(func() error {
			idx, err := c.resolver.Index(gctx, id)
			if err != nil {
				return fmt.Errorf("invalid connected system config: %w", err)
			}
			if err := idx.LiveHashes(gctx, add); err != nil {
				return fmt.Errorf("system %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return live, nil
}

func (c *Coordinator) scan(ctx context.Context, live map[types.Hash]struct{}, stats *Stats) error {
	w, err := walker.New(c.store.Root(), nil)
	if err != nil {
		return err
	}
	defer w.Close()

	for w.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry := w.Entry()
		stats.Scanned++
		if _, ok := live[entry.Hash]; ok {
			continue
		}
		stats.Candidates++

		if c.config.DryRun {
			fmt.Fprintf(c.out, "Would trash file %s\n", entry.Path)
			continue
		}

		fmt.Fprintf(c.out, "Trashing file %s...\n", entry.Path)
		outcome, err := c.trasher.Execute(ctx, entry.Hash)
		if err != nil {
			stats.Failed++
			c.log.Warn().Err(err).Str("path", entry.Path).Msg("failed to trash file")
			continue
		}
		switch outcome {
		case trash.OutcomeTrashed:
			stats.Trashed++
		case trash.OutcomeDeduplicated:
			stats.Deduplicated++
		case trash.OutcomeInUse:
			stats.InUse++
		case trash.OutcomeMissing:
			stats.Missing++
		}
	}
	return w.Err()
}

// Start 启动后台定时 sweep，重复调用无效
func (c *Coordinator) Start() {
	if !c.config.Enabled {
		c.log.Info().Msg("sweep disabled")
		return
	}
	c.startOnce.Do(func() {
		c.log.Info().Dur("interval", c.config.Interval).Bool("dry_run", c.config.DryRun).Msg("starting sweep scheduler")
		go c.worker()
	})
}

// Stop 停止后台 sweep 并等待正在进行的一轮结束
func (c *Coordinator) Stop(ctx context.Context) error {
	c.startOnce.Do(func() { close(c.doneCh) }) // 从未启动
	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		c.log.Warn().Msg("sweep shutdown timeout")
		return ctx.Err()
	}
}

// RunNow 立即执行一次 (CLI tidy 命令和测试使用)
func (c *Coordinator) RunNow(ctx context.Context) (*Stats, error) {
	c.log.Info().Msg("running sweep (manual trigger)")
	return c.Run(ctx)
}

func (c *Coordinator) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
			stats, err := c.Run(ctx)
			cancel()
			if err != nil {
				c.log.Error().Err(err).Msg("sweep failed")
			} else {
				c.log.Info().Str("summary", stats.Summary()).Msg("scheduled sweep finished")
			}
		case <-c.stopCh:
			return
		}
	}
}
