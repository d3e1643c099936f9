package storage

import (
	"context"
	"errors"
	"io"
	"os"

	"filepool/pkg/types"
)

var (
	ErrNotFound     = errors.New("content not found")
	ErrInvalidHash  = errors.New("invalid content hash")
	ErrHashMismatch = errors.New("content does not match hash")
)

// Store 定义了内容寻址存储 (filedir) 的基础能力
// 路径完全由 Hash 决定，同一个 Hash 只存一份
type Store interface {
	// Root 返回 filedir 根目录
	Root() string

	// Layout 返回 Hash 对应的物理路径 (不保证文件存在)
	Layout(hash types.Hash) string

	// Has 检查内容是否存在
	Has(ctx context.Context, hash types.Hash) (bool, error)

	// Readable 检查内容是否存在且当前进程可读
	Readable(ctx context.Context, hash types.Hash) bool

	// Get 流式读取内容
	Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error)

	// AddFromPath 把磁盘上的文件收进存储 (已存在则去重跳过)
	// 返回写入的大小，以及这次是否真的新建了文件
	AddFromPath(ctx context.Context, path string, hash types.Hash) (size int64, created bool, err error)
}

// Trashable 是支持两阶段删除 (先进回收站，再物理清除) 的存储
// 只有实现了它的存储才会参与多系统 GC
type Trashable interface {
	Store

	// TrashLayout 返回 Hash 在回收站中的路径 (与 Layout 相同的分片方式)
	TrashLayout(hash types.Hash) string

	// MoveToTrash 把在线文件移入回收站
	// 如果回收站已经有一份，直接删掉在线副本 (deduplicated = true)
	MoveToTrash(ctx context.Context, hash types.Hash) (deduplicated bool, err error)

	// FilePerm 是存储配置的文件权限
	FilePerm() os.FileMode
}
