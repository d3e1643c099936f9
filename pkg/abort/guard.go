// Package abort 保护不能被中途打断的临界区。
//
// 迁移时“收录成功 -> 删除源文件”必须一口气做完：
// 临界区内忽略上游 context 的取消，进程退出前等待所有临界区结束。
package abort

import (
	"context"
	"sync"
)

// Guard 统计当前有多少个临界区在执行
type Guard struct {
	mu       sync.Mutex
	held     int
	released chan struct{}
}

// Default 是进程级的 Guard，worker 退出时等待它
var Default = &Guard{}

// Hold 进入临界区，返回的 release 必须调用 (可重复调用)
// 返回的 ctx 不会被上游取消，但保留上游的 Value
func (g *Guard) Hold(ctx context.Context) (context.Context, func()) {
	g.mu.Lock()
	if g.held == 0 {
		g.released = make(chan struct{})
	}
	g.held++
	g.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.held--
			if g.held == 0 {
				close(g.released)
			}
		})
	}
	return context.WithoutCancel(ctx), release
}

// Held 返回当前未结束的临界区数量
func (g *Guard) Held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Wait 阻塞直到没有临界区在执行，或 ctx 结束
func (g *Guard) Wait(ctx context.Context) error {
	g.mu.Lock()
	if g.held == 0 {
		g.mu.Unlock()
		return nil
	}
	ch := g.released
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
