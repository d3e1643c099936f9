package meta

import (
	"context"
	"errors"
	"fmt"

	"filepool/pkg/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultBatchSize 是流式读取 contenthash 时每批的行数
const DefaultBatchSize = 5000

var ErrStopIteration = errors.New("stop iteration")

// Repository 封装对一个系统 files 表的只读查询 (以及本实例自己的写入)
type Repository struct {
	db        *DB
	batchSize int
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db, batchSize: DefaultBatchSize}
}

// DB 返回底层连接
func (r *Repository) DB() *DB { return r.db }

// -----------------------------------------------------------------------------
// 1. 引用查询 (Reference Index)
// -----------------------------------------------------------------------------

// Referenced 判断是否还有记录引用这个 Hash
// SQL: SELECT id FROM files WHERE contenthash = ? LIMIT 1
func (r *Repository) Referenced(ctx context.Context, hash types.Hash) (bool, error) {
	var ids []uint
	err := r.db.GetConn().WithContext(ctx).
		Model(&FileRecord{}).
		Where("contenthash = ?", string(hash)).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return false, fmt.Errorf("reference lookup failed: %w", err)
	}
	return len(ids) > 0, nil
}

// LiveHashes 按批次流式读取所有 contenthash，每个 Hash 回调一次 (可能重复)
// fn 返回 ErrStopIteration 时提前结束且不算错误
func (r *Repository) LiveHashes(ctx context.Context, fn func(types.Hash) error) error {
	var batch []FileRecord
	var cbErr error

	result := r.db.GetConn().WithContext(ctx).
		Model(&FileRecord{}).
		Select("id", "contenthash").
		FindInBatches(&batch, r.batchSize, func(tx *gorm.DB, _ int) error {
			for _, rec := range batch {
				if err := fn(types.Hash(rec.ContentHash)); err != nil {
					cbErr = err
					return err
				}
			}
			return nil
		})

	if cbErr != nil {
		if errors.Is(cbErr, ErrStopIteration) {
			return nil
		}
		return cbErr
	}
	if result.Error != nil {
		return fmt.Errorf("failed to list content hashes: %w", result.Error)
	}
	return nil
}

// -----------------------------------------------------------------------------
// 2. 本实例写入 (Local Records)
// -----------------------------------------------------------------------------

// AddRecord 记录一个文件引用 (幂等，pathnamehash 冲突时什么都不做)
func (r *Repository) AddRecord(ctx context.Context, rec *FileRecord) error {
	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pathnamehash"}},
			DoNothing: true,
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to add file record: %w", err)
	}
	return nil
}

// DeleteRecord 删除一条文件引用，返回删掉的记录引用的 Hash
// 记录不存在时返回空 Hash
func (r *Repository) DeleteRecord(ctx context.Context, pathNameHash string) (types.Hash, error) {
	var rec FileRecord
	err := r.db.GetConn().WithContext(ctx).
		Where("pathnamehash = ?", pathNameHash).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	if err := r.db.GetConn().WithContext(ctx).Delete(&rec).Error; err != nil {
		return "", fmt.Errorf("failed to delete file record: %w", err)
	}
	return types.Hash(rec.ContentHash), nil
}
