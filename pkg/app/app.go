// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filepool/pkg/config"
	"filepool/pkg/jobs"
	"filepool/pkg/jobs/redisqueue"
	"filepool/pkg/jobs/sqlqueue"
	"filepool/pkg/logging"
	"filepool/pkg/meta"
	"filepool/pkg/metrics"
	"filepool/pkg/migrate"
	"filepool/pkg/oracle"
	"filepool/pkg/peers"
	"filepool/pkg/peers/cache"
	"filepool/pkg/registry"
	"filepool/pkg/scheduler"
	"filepool/pkg/storage/disk"
	"filepool/pkg/sweep"
	"filepool/pkg/trash"
	"filepool/pkg/types"
	"filepool/pkg/verify"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务
type App struct {
	Settings *config.Settings
	Self     types.SystemID

	Store      *disk.Adapter
	Registry   *registry.Registry
	DB         *meta.DB
	Repository *meta.Repository
	Peers      *peers.SQLResolver
	Resolver   peers.Resolver // Peers，或者带缓存的 Peers

	Oracle    *oracle.Oracle
	Migrator  *migrate.Engine
	Trash     *trash.Executor
	Queue     jobs.Queue
	Scheduler *scheduler.Scheduler
	Sweep     *sweep.Coordinator
	Verifier  *verify.Verifier
	Metrics   *metrics.Metrics

	Log zerolog.Logger

	closers []func() error
}

// Option 调整 NewApp 的组装方式
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	logger     *zerolog.Logger
	sweepOut   io.Writer
}

// WithMetricsRegistry 把指标注册到 reg；不设置时不记录指标
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLogger 使用指定的 Logger，而不是全局 logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// WithSweepOutput 让 sweep 把每个回收的文件打印到 w
func WithSweepOutput(w io.Writer) Option {
	return func(o *options) { o.sweepOut = w }
}

// NewApp 是工厂函数，负责组装这一台机器
// 它只依赖解析好的 Settings，不知道具体的 CLI 命令
func NewApp(ctx context.Context, s *config.Settings, opts ...Option) (_ *App, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Settings: s, Self: types.SystemID(s.Instance.UniqID).Normalize()}
	if o.logger != nil {
		a.Log = *o.logger
	} else {
		a.Log = zerolog.Nop()
	}
	// 组装到一半失败时，把已经打开的资源关掉
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if o.registerer != nil {
		a.Metrics = metrics.New(o.registerer)
	}

	// 1. 存储层
	a.Store, err = disk.NewAdapter(disk.Config{
		Root:      s.Storage.Path,
		TrashRoot: s.Storage.TrashPath,
		FilePerm:  s.Storage.FilePerm,
		DirPerm:   s.Storage.DirPerm,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	// 2. 在 config.db 里登记自己
	a.Registry, err = registry.Open(a.Store.Root(), a.Self)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	// 3. 本系统的元数据库 (files 表 + 任务表)
	a.DB, a.Repository, err = openLocal(ctx, s.Database.Descriptor())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.DB.Close)

	// 4. 对端引用索引，自己直接复用本地连接
	a.Peers = peers.NewSQLResolver(s.Descriptors(), logging.GormLevel())
	a.Peers.Register(a.Self, a.Repository)
	a.closers = append(a.closers, a.Peers.Close)
	a.Resolver = a.Peers
	if s.Peers.CacheURL != "" {
		cached, err := cache.NewResolver(a.Peers, cache.Config{
			RedisURL: s.Peers.CacheURL,
			TTL:      s.Peers.CacheTTL,
		}, a.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to init peer cache: %w", err)
		}
		a.closers = append(a.closers, cached.Close)
		a.Resolver = cached
	}

	// 5. 核心组件
	a.Oracle = oracle.New(a.Registry, a.Resolver, a.Repository, a.Log)
	a.Migrator = migrate.NewEngine(a.Store, s.Storage.LegacyPath,
		migrate.WithMetrics(a.Metrics), migrate.WithLogger(a.Log))
	a.Trash = trash.New(a.Oracle, a.Store,
		trash.WithLocator(a.Migrator), trash.WithMetrics(a.Metrics), trash.WithLogger(a.Log))

	// 6. 后台任务队列
	a.Queue, err = openQueue(a.DB, s.Jobs)
	if err != nil {
		return nil, err
	}
	if c, ok := a.Queue.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.Scheduler = scheduler.New(a.Migrator, a.Trash, a.Queue, a.Log)

	sweepOpts := []sweep.Option{
		sweep.WithLocalIndex(a.Repository),
		sweep.WithMetrics(a.Metrics),
		sweep.WithLogger(a.Log),
	}
	if o.sweepOut != nil {
		sweepOpts = append(sweepOpts, sweep.WithOutput(o.sweepOut))
	}
	a.Sweep = sweep.New(a.Registry, a.Resolver, a.Store, a.Trash, sweep.Config{
		Enabled:  s.Tidy.Enabled,
		Interval: s.Tidy.Interval,
		Timeout:  s.Tidy.Timeout,
		DryRun:   s.Tidy.DryRun,
	}, sweepOpts...)

	a.Verifier = verify.New(a.Store, a.Migrator, a.Log)

	return a, nil
}

// ForgetRecord 删除本系统的一条文件记录，再请求回收它引用的内容
// 其它记录 (或其它系统) 仍然引用时，回收会被 oracle 拦下
// 记录不存在时返回 nil Result
func (a *App) ForgetRecord(ctx context.Context, pathNameHash string, exec scheduler.ExecContext) (*scheduler.Result, error) {
	hash, err := a.Repository.DeleteRecord(ctx, pathNameHash)
	if err != nil {
		return nil, err
	}
	if hash.IsZero() {
		return nil, nil
	}
	return a.Scheduler.Remove(ctx, hash, exec)
}

// Runner 返回注册好所有 Handler 的任务执行器
func (a *App) Runner() *jobs.Runner {
	runnerOpts := []jobs.RunnerOption{
		jobs.WithMetrics(a.Metrics),
		jobs.WithLogger(a.Log),
	}
	if a.Settings.Jobs.MaxAttempts > 0 {
		runnerOpts = append(runnerOpts, jobs.WithMaxAttempts(a.Settings.Jobs.MaxAttempts))
	}
	if a.Settings.Jobs.PollInterval > 0 {
		runnerOpts = append(runnerOpts, jobs.WithPollInterval(a.Settings.Jobs.PollInterval))
	}
	r := jobs.NewRunner(a.Queue, runnerOpts...)
	r.Handle(jobs.TypeTrash, scheduler.TrashHandler(a.Trash))
	return r
}

// Close 按打开的逆序释放资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openLocal(ctx context.Context, desc meta.Descriptor) (*meta.DB, *meta.Repository, error) {
	// sqlite 文件所在目录要先存在
	if desc.Driver == meta.DriverSQLite && !strings.HasPrefix(desc.DSN, "file:") && desc.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(desc.DSN), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := meta.Open(ctx, desc, logging.GormLevel())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local database: %w", err)
	}
	// files 表归本系统所有，只有这里做迁移
	if err := db.AutoMigrate(&meta.FileRecord{}); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate local database: %w", err)
	}
	return db, meta.NewRepository(db), nil
}

func openQueue(db *meta.DB, s config.JobsSettings) (jobs.Queue, error) {
	switch s.Backend {
	case "", "sql":
		q, err := sqlqueue.New(db, sqlqueue.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to init sql job queue: %w", err)
		}
		return q, nil
	case "redis":
		q, err := redisqueue.New(redisqueue.Config{RedisURL: s.RedisURL})
		if err != nil {
			return nil, fmt.Errorf("failed to init redis job queue: %w", err)
		}
		return q, nil
	default:
		return nil, fmt.Errorf("unsupported job backend: %q", s.Backend)
	}
}
