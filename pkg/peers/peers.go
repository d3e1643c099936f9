// Package peers 把“已接入系统”的标识解析成可查询的引用索引。
package peers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"filepool/pkg/meta"
	"filepool/pkg/types"

	"gorm.io/gorm/logger"
)

var (
	// ErrUnknownSystem: 注册表里有这个系统，但配置里找不到它的连接描述
	ErrUnknownSystem = errors.New("unknown connected system")
	// ErrUnreachable: 有连接描述，但连不上
	ErrUnreachable = errors.New("connected system unreachable")
)

// Index 是一个系统的引用索引 (只读)
type Index interface {
	// Referenced 该系统是否还有记录引用 hash
	Referenced(ctx context.Context, hash types.Hash) (bool, error)

	// LiveHashes 流式列出该系统引用的所有 hash
	LiveHashes(ctx context.Context, fn func(types.Hash) error) error
}

// Resolver 根据系统标识找到它的引用索引
type Resolver interface {
	Index(ctx context.Context, id types.SystemID) (Index, error)
}

var _ Index = (*meta.Repository)(nil)

// SQLResolver 按配置的 Descriptor 惰性打开各系统的数据库，并缓存连接
type SQLResolver struct {
	mu          sync.Mutex
	descriptors map[types.SystemID]meta.Descriptor
	repos       map[types.SystemID]*meta.Repository
	logLevel    logger.LogLevel
}

// NewSQLResolver 创建解析器
func NewSQLResolver(descriptors map[types.SystemID]meta.Descriptor, level logger.LogLevel) *SQLResolver {
	return &SQLResolver{
		descriptors: descriptors,
		repos:       make(map[types.SystemID]*meta.Repository),
		logLevel:    level,
	}
}

// Register 直接挂一个已打开的仓库 (比如本实例自己的元数据库)
func (r *SQLResolver) Register(id types.SystemID, repo *meta.Repository) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos[id] = repo
}

func (r *SQLResolver) Index(ctx context.Context, id types.SystemID) (Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if repo, ok := r.repos[id]; ok {
		return repo, nil
	}

	desc, ok := r.descriptors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a valid connected system", ErrUnknownSystem, id)
	}

	db, err := meta.Open(ctx, desc, r.logLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, id, err)
	}

	repo := meta.NewRepository(db)
	r.repos[id] = repo
	return repo, nil
}

// Close 关闭所有打开过的连接
func (r *SQLResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, repo := range r.repos {
		if err := repo.DB().Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
		delete(r.repos, id)
	}
	return errors.Join(errs...)
}
