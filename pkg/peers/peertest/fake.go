// Package peertest 提供内存版的引用索引，供各包的单元测试使用。
package peertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"filepool/pkg/peers"
	"filepool/pkg/types"
)

// ErrDown 模拟对端数据库不可用
var ErrDown = errors.New("peer index down")

// Index 是一个内存引用索引，可以随时切换为“不可达”
type Index struct {
	mu      sync.RWMutex
	hashes  map[types.Hash]struct{}
	down    bool
	Queries atomic.Int32
}

// NewIndex 创建一个引用了 hashes 的索引
func NewIndex(hashes ...types.Hash) *Index {
	idx := &Index{hashes: make(map[types.Hash]struct{})}
	for _, h := range hashes {
		idx.hashes[h] = struct{}{}
	}
	return idx
}

// Add 增加引用
func (i *Index) Add(h types.Hash) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.hashes[h] = struct{}{}
}

// Drop 去掉引用
func (i *Index) Drop(h types.Hash) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.hashes, h)
}

// SetDown 切换不可达状态
func (i *Index) SetDown(down bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.down = down
}

func (i *Index) Referenced(ctx context.Context, hash types.Hash) (bool, error) {
	i.Queries.Add(1)
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.down {
		return false, ErrDown
	}
	_, ok := i.hashes[hash]
	return ok, nil
}

func (i *Index) LiveHashes(ctx context.Context, fn func(types.Hash) error) error {
	i.mu.RLock()
	if i.down {
		i.mu.RUnlock()
		return ErrDown
	}
	snapshot := make([]types.Hash, 0, len(i.hashes))
	for h := range i.hashes {
		snapshot = append(snapshot, h)
	}
	i.mu.RUnlock()

	for _, h := range snapshot {
		if err := fn(h); err != nil {
			return err
		}
	}
	return nil
}

// Resolver 是固定映射的解析器
type Resolver map[types.SystemID]*Index

func (r Resolver) Index(ctx context.Context, id types.SystemID) (peers.Index, error) {
	idx, ok := r[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", peers.ErrUnknownSystem, id)
	}
	return idx, nil
}

// Systems 是固定的已接入系统列表
type Systems []types.SystemID

func (s Systems) Systems() ([]types.SystemID, error) { return s, nil }
