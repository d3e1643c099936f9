package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"filepool/pkg/core"
	"filepool/pkg/storage"
	"filepool/pkg/types"
)

const (
	DefaultFilePerm os.FileMode = 0666
	DefaultDirPerm  os.FileMode = 0777

	// TempPrefix 是写入中的临时文件前缀，目录遍历需要跳过它们
	TempPrefix = "temp-"
)

// Config 磁盘存储配置
type Config struct {
	Root      string      // filedir，比如: /var/lib/filepool/filedir
	TrashRoot string      // 回收站根目录，为空时使用 Root 同级的 trashdir
	FilePerm  os.FileMode // 文件权限，为 0 时使用默认值
	DirPerm   os.FileMode // 目录权限，为 0 时使用默认值
}

// Adapter 实现了 storage.Trashable 接口
type Adapter struct {
	rootPath  string
	trashPath string
	filePerm  os.FileMode
	dirPerm   os.FileMode
}

var _ storage.Trashable = (*Adapter)(nil)

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("storage root not set")
	}
	if cfg.TrashRoot == "" {
		cfg.TrashRoot = filepath.Join(filepath.Dir(filepath.Clean(cfg.Root)), "trashdir")
	}
	if cfg.FilePerm == 0 {
		cfg.FilePerm = DefaultFilePerm
	}
	if cfg.DirPerm == 0 {
		cfg.DirPerm = DefaultDirPerm
	}

	// 确保根目录存在
	if err := os.MkdirAll(cfg.Root, cfg.DirPerm); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	return &Adapter{
		rootPath:  cfg.Root,
		trashPath: cfg.TrashRoot,
		filePerm:  cfg.FilePerm,
		dirPerm:   cfg.DirPerm,
	}, nil
}

// Layout 返回哈希对应的物理路径
// 策略：两级 2 字符子目录 (Sharding)
// Example: hash "aabbcc..." -> root/aa/bb/aabbcc...
func Layout(root string, hash types.Hash) string {
	h := string(hash)
	if len(h) < 4 {
		return filepath.Join(root, h)
	}
	return filepath.Join(root, h[:2], h[2:4], h)
}

func (s *Adapter) Root() string          { return s.rootPath }
func (s *Adapter) TrashRoot() string     { return s.trashPath }
func (s *Adapter) FilePerm() os.FileMode { return s.filePerm }
func (s *Adapter) DirPerm() os.FileMode  { return s.dirPerm }

func (s *Adapter) Layout(hash types.Hash) string      { return Layout(s.rootPath, hash) }
func (s *Adapter) TrashLayout(hash types.Hash) string { return Layout(s.trashPath, hash) }

func (s *Adapter) Has(ctx context.Context, hash types.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Layout(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Readable 尝试打开文件，能打开才算可读
func (s *Adapter) Readable(ctx context.Context, hash types.Hash) bool {
	return IsReadable(s.Layout(hash))
}

// IsReadable 检查任意路径是否是可读的普通文件
func IsReadable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	return err == nil && info.Mode().IsRegular()
}

func (s *Adapter) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Layout(hash))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// AddFromPath 把 path 指向的文件收进存储
func (s *Adapter) AddFromPath(ctx context.Context, path string, hash types.Hash) (int64, bool, error) {
	if !hash.IsValid() {
		return 0, false, fmt.Errorf("%w: %q", storage.ErrInvalidHash, hash)
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	targetPath := s.Layout(hash)

	// 1. 检查是否存在 (幂等性)
	if info, err := os.Stat(targetPath); err == nil {
		return info.Size(), false, nil
	}

	src, err := os.Open(path)
	if err != nil {
		return 0, false, err
	}
	defer src.Close()

	// 2. 准备目录
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return 0, false, err
	}

	// 3. 原子写入 (Atomic Write)
	// 先写到一个临时文件，然后 Rename。
	// 这样保证要么文件不存在，要么文件是完整的。
	tempFile, err := os.CreateTemp(dir, TempPrefix+"*")
	if err != nil {
		return 0, false, err
	}
	// 如果成功 Rename 了，这个删除会失效
	defer os.Remove(tempFile.Name())

	// 边写边算 Hash，内容不对就不落地
	got, size, err := core.CalculateReaderHash(io.TeeReader(src, tempFile))
	if err != nil {
		tempFile.Close()
		return 0, false, err
	}
	if got != hash {
		tempFile.Close()
		return 0, false, fmt.Errorf("%w: %s has %s", storage.ErrHashMismatch, path, got)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return 0, false, err
	}
	if err := tempFile.Close(); err != nil { // 必须先关闭才能 Rename
		return 0, false, err
	}
	if err := os.Chmod(tempFile.Name(), s.filePerm); err != nil {
		return 0, false, err
	}

	// 4. 移动到最终位置
	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return 0, false, err
	}
	return size, true, nil
}

// MoveToTrash 把在线文件原子地 rename 进回收站
func (s *Adapter) MoveToTrash(ctx context.Context, hash types.Hash) (bool, error) {
	if !hash.IsValid() {
		return false, fmt.Errorf("%w: %q", storage.ErrInvalidHash, hash)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	contentFile := s.Layout(hash)
	trashFile := s.TrashLayout(hash)

	if err := os.MkdirAll(filepath.Dir(trashFile), s.dirPerm); err != nil {
		return false, fmt.Errorf("failed to create trash dir: %w", err)
	}

	// 回收站已经有一份，在线副本是多余的
	if _, err := os.Stat(trashFile); err == nil {
		if err := os.Remove(contentFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return true, err
		}
		return true, nil
	}

	if err := os.Rename(contentFile, trashFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, storage.ErrNotFound
		}
		return false, err
	}

	// 只在权限不一致时才 chmod，避免多余的元数据写入
	info, err := os.Stat(trashFile)
	if err != nil {
		return false, err
	}
	if info.Mode().Perm() != s.filePerm {
		if err := os.Chmod(trashFile, s.filePerm); err != nil {
			return false, err
		}
	}
	return false, nil
}
