package peers

import (
	"context"
	"path/filepath"
	"testing"

	"filepool/pkg/meta"
	"filepool/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

// seedPeer 在临时目录创建一个带 files 表的 sqlite 库
func seedPeer(t *testing.T, hashes ...types.Hash) meta.Descriptor {
	t.Helper()
	ctx := context.Background()
	desc := meta.Descriptor{Driver: meta.DriverSQLite, DSN: filepath.Join(t.TempDir(), "peer.db")}

	db, err := meta.Open(ctx, desc, logger.Silent)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.AutoMigrate(&meta.FileRecord{}))

	repo := meta.NewRepository(db)
	for i, h := range hashes {
		require.NoError(t, repo.AddRecord(ctx, &meta.FileRecord{
			ContentHash:  string(h),
			PathNameHash: string(h[:39]) + string(rune('0'+i)),
		}))
	}
	return desc
}

func TestSQLResolver_Index(t *testing.T) {
	ctx := context.Background()
	h := types.Hash("2aae6c35c94fcfb415dbe95f408b9ce91ee846ed")

	r := NewSQLResolver(map[types.SystemID]meta.Descriptor{
		"moodle": seedPeer(t, h),
	}, logger.Silent)
	defer r.Close()

	idx, err := r.Index(ctx, "moodle")
	require.NoError(t, err)

	ok, err := idx.Referenced(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	// 第二次拿到的是缓存的同一个连接
	again, err := r.Index(ctx, "moodle")
	require.NoError(t, err)
	assert.Same(t, idx, again)
}

func TestSQLResolver_Errors(t *testing.T) {
	ctx := context.Background()
	r := NewSQLResolver(map[types.SystemID]meta.Descriptor{
		"broken": {Driver: "oracle", DSN: "nowhere"},
	}, logger.Silent)

	_, err := r.Index(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUnknownSystem)

	_, err = r.Index(ctx, "broken")
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestSQLResolver_Register(t *testing.T) {
	r := NewSQLResolver(nil, logger.Silent)
	db, err := meta.Open(context.Background(),
		meta.Descriptor{Driver: meta.DriverSQLite, DSN: filepath.Join(t.TempDir(), "self.db")}, logger.Silent)
	require.NoError(t, err)
	repo := meta.NewRepository(db)

	r.Register("self", repo)
	idx, err := r.Index(context.Background(), "self")
	require.NoError(t, err)
	assert.Same(t, repo, idx)

	assert.NoError(t, r.Close())
}
