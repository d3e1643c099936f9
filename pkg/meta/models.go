package meta

import "time"

// FileRecord 是一个系统的文件记录 (只关心 contenthash)
// 对端系统的 files 表可能有更多列，查询时只 SELECT 需要的列
type FileRecord struct {
	ID           uint   `gorm:"primaryKey"`
	ContentHash  string `gorm:"column:contenthash;type:char(40);not null;index"`
	PathNameHash string `gorm:"column:pathnamehash;type:char(40);uniqueIndex"`
	Filename     string `gorm:"type:varchar(255)"`
	FileSize     int64  `gorm:"column:filesize"`

	CreatedAt time.Time
}

// TableName 强制指定表名
func (FileRecord) TableName() string {
	return "files"
}
