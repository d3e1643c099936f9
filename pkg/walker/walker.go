// Package walker 提供 filedir 的低内存深度优先遍历。
//
// filedir 可能有上百万个文件，所以 Walker 是拉取式 (pull-based) 的：
// 每次 Next 只推进到下一个内容文件，目录句柄按批读取，从不缓存完整列表。
// Walker 本身不保存跨调用状态，需要断点续跑的调用方自己记录进度。
package walker

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path"
	"path/filepath"

	"filepool/pkg/ignore"
	"filepool/pkg/types"
)

// DefaultBatch 每次从目录句柄读取的条目数
const DefaultBatch = 256

// Entry 是一次遍历产出的 (完整路径, 内容 Hash)
type Entry struct {
	Path string
	Hash types.Hash
}

// frame 是遍历栈上的一层目录
type frame struct {
	dir     *os.File
	abs     string
	rel     string
	pending []os.DirEntry
}

// Walker 是一个外部迭代器，用法类似 bufio.Scanner:
//
//	w, err := walker.New(root, nil)
//	defer w.Close()
//	for w.Next() {
//		e := w.Entry()
//	}
//	if err := w.Err(); err != nil { ... }
type Walker struct {
	matcher *ignore.Matcher
	batch   int
	stack   []*frame
	cur     Entry
	err     error
}

// New 打开 root 并准备遍历
// matcher 为 nil 时使用 ignore.DefaultRules
func New(root string, matcher *ignore.Matcher) (*Walker, error) {
	if matcher == nil {
		m, err := ignore.NewMatcher(root)
		if err != nil {
			return nil, fmt.Errorf("failed to build ignore rules: %w", err)
		}
		matcher = m
	}

	dir, err := os.Open(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", root, err)
	}

	return &Walker{
		matcher: matcher,
		batch:   DefaultBatch,
		stack:   []*frame{{dir: dir, abs: root}},
	}, nil
}

// Next 推进到下一个内容文件，遍历结束或出错时返回 false
func (w *Walker) Next() bool {
	if w.err != nil {
		return false
	}

	for len(w.stack) > 0 {
		top := w.stack[len(w.stack)-1]

		if len(top.pending) == 0 {
			entries, err := top.dir.ReadDir(w.batch)
			if len(entries) == 0 {
				if err != nil && !errors.Is(err, io.EOF) {
					w.err = fmt.Errorf("failed to read %s: %w", top.abs, err)
					return false
				}
				// 当前目录读完，出栈
				w.pop()
				continue
			}
			top.pending = entries
		}

		de := top.pending[0]
		top.pending = top.pending[1:]

		name := de.Name()
		rel := path.Join(top.rel, name)
		if w.matcher.Matches(rel) {
			continue
		}

		full := filepath.Join(top.abs, name)
		if de.IsDir() {
			dir, err := os.Open(full)
			if err != nil {
				w.err = fmt.Errorf("failed to open %s: %w", full, err)
				return false
			}
			w.stack = append(w.stack, &frame{dir: dir, abs: full, rel: rel})
			continue
		}

		if !de.Type().IsRegular() || !types.IsContentName(name) {
			continue
		}

		w.cur = Entry{Path: full, Hash: types.Hash(name)}
		return true
	}
	return false
}

// Entry 返回最近一次 Next 产出的条目
func (w *Walker) Entry() Entry { return w.cur }

// Err 返回遍历中遇到的第一个错误
func (w *Walker) Err() error { return w.err }

// Close 释放所有仍然打开的目录句柄，可以重复调用
func (w *Walker) Close() error {
	var firstErr error
	for len(w.stack) > 0 {
		if err := w.pop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *Walker) pop() error {
	top := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	return top.dir.Close()
}

// All 把遍历包装成 range-over-func 序列
// 出错时产出一次 (Entry{}, err) 然后结束
func All(root string, matcher *ignore.Matcher) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		w, err := New(root, matcher)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		defer w.Close()

		for w.Next() {
			if !yield(w.Entry(), nil) {
				return
			}
		}
		if err := w.Err(); err != nil {
			yield(Entry{}, err)
		}
	}
}
