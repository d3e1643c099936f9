// Package registry 管理 filedir 根目录下的 config.db：
// 所有写入过这个 filedir 的系统都必须登记在这里，GC 才知道要问谁。
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"filepool/pkg/core"
	"filepool/pkg/ignore"
	"filepool/pkg/types"
)

// CurrentVersion 是 config.db 的格式版本
const CurrentVersion = 1.0

var ErrCorrupted = errors.New("registry file is corrupted")

// Document 是 config.db 的内容
type Document struct {
	Version float64          `cbor:"version"`
	Systems []types.SystemID `cbor:"systems"`
}

// Registry 是只增不减的已接入系统列表
// 读改写不加锁：两个进程同时首次登记最坏只会产生重复项，读取时去重即可
type Registry struct {
	path string
	self types.SystemID
}

// Open 读取 (或创建) root/config.db，并确保 self 已登记
// self 为空时只读不写
func Open(root string, self types.SystemID) (*Registry, error) {
	r := &Registry{
		path: filepath.Join(root, ignore.RegistryFile),
		self: self.Normalize(),
	}
	if r.self == "" {
		return r, nil
	}

	doc, err := r.load()
	if errors.Is(err, os.ErrNotExist) {
		// 全新的 filedir
		doc = &Document{Version: CurrentVersion, Systems: []types.SystemID{r.self}}
		if err := r.save(doc); err != nil {
			return nil, err
		}
		return r, nil
	}
	if err != nil {
		return nil, err
	}

	if !slices.Contains(doc.Systems, r.self) {
		doc.Systems = append(doc.Systems, r.self)
		if err := r.save(doc); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Path 返回 config.db 的路径
func (r *Registry) Path() string { return r.path }

// Self 返回本实例的系统标识
func (r *Registry) Self() types.SystemID { return r.self }

// Systems 每次都重新读取文件，拿到其他实例最新的登记
// 文件不存在时返回空列表
func (r *Registry) Systems() ([]types.SystemID, error) {
	doc, err := r.load()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[types.SystemID]struct{}, len(doc.Systems))
	out := make([]types.SystemID, 0, len(doc.Systems))
	for _, s := range doc.Systems {
		s = s.Normalize()
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

func (r *Registry) load() (*Document, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := core.DecodeObject(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, r.path, err)
	}
	return &doc, nil
}

// save 整个文件重写 (临时文件 + Rename)
func (r *Registry) save(doc *Document) error {
	data, err := core.EncodeObject(doc)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), "temp-registry-*")
	if err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), r.path)
}
