// Package verify 只读地检查 filedir 的完整性。
// 所有结果都以文本输出，发现问题不会修改任何文件，也不会改变退出码。
package verify

import (
	"context"
	"fmt"
	"io"

	"filepool/pkg/core"
	"filepool/pkg/storage"
	"filepool/pkg/types"
	"filepool/pkg/walker"

	"github.com/rs/zerolog"
)

// CompleteMessage 在每次校验结束时输出
const CompleteMessage = "Verification complete!"

// Records 是本系统的文件记录 (meta.Repository 实现了它)
type Records interface {
	LiveHashes(ctx context.Context, fn func(types.Hash) error) error
}

// Readability 判断记录引用的内容是否还能读到
type Readability interface {
	Readable(ctx context.Context, hash types.Hash) bool
}

// Report 是一次校验的统计
type Report struct {
	Checked    uint64 // 遍历到的内容文件
	Mismatched uint64 // 内容和文件名不一致
	Unreadable uint64 // 读取失败
	Records    uint64 // 检查过的记录 (去重后)
	Missing    uint64 // 记录引用但读不到的内容
}

// OK 表示没有发现任何问题
func (r *Report) OK() bool {
	return r.Mismatched == 0 && r.Unreadable == 0 && r.Missing == 0
}

type Verifier struct {
	store storage.Store
	files Readability
	log   zerolog.Logger
}

// New 创建校验器
// files 为 nil 时记录检查只看当前存储 (不看旧目录)
func New(store storage.Store, files Readability, log zerolog.Logger) *Verifier {
	if files == nil {
		files = store
	}
	return &Verifier{
		store: store,
		files: files,
		log:   log.With().Str("component", "verify").Logger(),
	}
}

// Run 遍历 filedir 重新计算每个文件的 SHA-1
// records 非 nil 时再反查每条记录对应的内容是否存在
func (v *Verifier) Run(ctx context.Context, out io.Writer, records Records) (*Report, error) {
	report := &Report{}
	defer fmt.Fprintln(out, CompleteMessage)

	if err := v.checkContent(ctx, out, report); err != nil {
		return report, err
	}
	if records != nil {
		if err := v.checkRecords(ctx, out, records, report); err != nil {
			return report, err
		}
	}
	v.log.Info().
		Uint64("checked", report.Checked).
		Uint64("mismatched", report.Mismatched).
		Uint64("missing", report.Missing).
		Msg("verification finished")
	return report, nil
}

func (v *Verifier) checkContent(ctx context.Context, out io.Writer, report *Report) error {
	for entry, err := range walker.All(v.store.Root(), nil) {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Checked++

		onDisk, err := core.CalculateFileHash(entry.Path)
		if err != nil {
			report.Unreadable++
			fmt.Fprintf(out, "Error verifying %s: %v\n", entry.Path, err)
			continue
		}
		if onDisk != entry.Hash {
			report.Mismatched++
			fmt.Fprintf(out, "Error verifying %s: Mis-matched hash (%s on disk vs %s)\n", entry.Path, onDisk, entry.Hash)
		}
	}
	return nil
}

func (v *Verifier) checkRecords(ctx context.Context, out io.Writer, records Records, report *Report) error {
	seen := make(map[types.Hash]struct{})
	err := records.LiveHashes(ctx, func(h types.Hash) error {
		if _, dup := seen[h]; dup {
			return nil
		}
		seen[h] = struct{}{}
		report.Records++

		if !v.files.Readable(ctx, h) {
			report.Missing++
			fmt.Fprintf(out, "Missing file %s\n", h)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read file records: %w", err)
	}
	return nil
}
