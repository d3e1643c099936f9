package migrate

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"filepool/pkg/abort"
	"filepool/pkg/core"
	"filepool/pkg/storage"
	"filepool/pkg/storage/disk"
	"filepool/pkg/types"
	"filepool/pkg/walker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store  *disk.Adapter
	legacy string
	engine *Engine
	guard  *abort.Guard
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	tmpDir := t.TempDir()

	store, err := disk.NewAdapter(disk.Config{Root: filepath.Join(tmpDir, "filedir")})
	require.NoError(t, err)

	legacy := filepath.Join(tmpDir, "oldfiledir")
	require.NoError(t, os.MkdirAll(legacy, 0755))

	guard := &abort.Guard{}
	return &testEnv{
		store:  store,
		legacy: legacy,
		guard:  guard,
		engine: NewEngine(store, legacy, WithGuard(guard)),
	}
}

// putLegacy 按分片布局在旧目录里放一个文件
func (e *testEnv) putLegacy(t *testing.T, data []byte) (string, types.Hash) {
	t.Helper()
	hash := core.CalculateBlobHash(data)
	path := disk.Layout(e.legacy, hash)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, hash
}

func readAll(t *testing.T, store storage.Store, hash types.Hash) []byte {
	t.Helper()
	rc, err := store.Get(context.Background(), hash)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestMigrate_RoundTrip(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	oldPath, hash := env.putLegacy(t, []byte("legacy content"))

	res, err := env.engine.Migrate(ctx, oldPath, hash)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, int64(len("legacy content")), res.Size)

	// 新存储可读，旧文件消失
	assert.Equal(t, []byte("legacy content"), readAll(t, env.store, hash))
	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, env.guard.Held(), "临界区必须释放")
}

func TestMigrate_Deduplicates(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	oldPath, hash := env.putLegacy(t, []byte("same"))

	// 当前存储已经有这份内容
	src := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, os.WriteFile(src, []byte("same"), 0644))
	_, _, err := env.store.AddFromPath(ctx, src, hash)
	require.NoError(t, err)

	res, err := env.engine.Migrate(ctx, oldPath, hash)
	require.NoError(t, err)
	assert.False(t, res.Created)

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err), "去重时旧文件同样要删除")
}

func TestMigrate_FailureKeepsSource(t *testing.T) {
	env := setupEnv(t)
	oldPath, _ := env.putLegacy(t, []byte("content"))
	wrong := core.CalculateBlobHash([]byte("other"))

	_, err := env.engine.Migrate(context.Background(), oldPath, wrong)
	require.ErrorIs(t, err, storage.ErrHashMismatch)

	// 收录失败绝不能删源文件
	_, err = os.Stat(oldPath)
	assert.NoError(t, err)
	assert.Equal(t, 0, env.guard.Held())
}

func TestMigrate_IgnoresCancellation(t *testing.T) {
	env := setupEnv(t)
	oldPath, hash := env.putLegacy(t, []byte("critical"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.engine.Migrate(ctx, oldPath, hash)
	require.NoError(t, err)
	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalPath(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	oldPath, hash := env.putLegacy(t, []byte("lazy"))

	// 1. 只读调用方：直接拿旧路径，不迁移
	path, err := env.engine.LocalPath(ctx, hash, false)
	require.NoError(t, err)
	assert.Equal(t, oldPath, path)
	assert.True(t, env.engine.Readable(ctx, hash))

	exists, err := env.store.Has(ctx, hash)
	require.NoError(t, err)
	assert.False(t, exists)

	// 2. 需要新路径：按需迁移
	path, err = env.engine.LocalPath(ctx, hash, true)
	require.NoError(t, err)
	assert.Equal(t, env.store.Layout(hash), path)
	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))

	// 3. 两边都没有
	_, err = env.engine.LocalPath(ctx, core.CalculateBlobHash([]byte("nope")), true)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLocalPath_NoLegacyRoot(t *testing.T) {
	env := setupEnv(t)
	engine := NewEngine(env.store, "")
	_, hash := env.putLegacy(t, []byte("unseen"))

	_, err := engine.LocalPath(context.Background(), hash, true)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, engine.LegacyPath(hash))
}

func TestValidateSource(t *testing.T) {
	env := setupEnv(t)

	assert.ErrorIs(t, env.engine.ValidateSource(""), ErrNoSource)
	assert.ErrorIs(t, env.engine.ValidateSource(env.store.Root()), ErrSameSource)
	assert.ErrorIs(t, env.engine.ValidateSource(env.store.Root()+string(filepath.Separator)), ErrSameSource)
	assert.NoError(t, env.engine.ValidateSource(env.legacy))

	// 不存在或不是目录
	assert.ErrorIs(t, env.engine.ValidateSource(filepath.Join(env.legacy, "nope")), ErrSourceMissing)
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	assert.ErrorIs(t, env.engine.ValidateSource(file), ErrSourceMissing)

	// 旧目录包含在线存储，或者在在线存储里面
	assert.ErrorIs(t, env.engine.ValidateSource(filepath.Dir(env.store.Root())), ErrNestedSource)
	inner := filepath.Join(env.store.Root(), "aa")
	require.NoError(t, os.MkdirAll(inner, 0755))
	assert.ErrorIs(t, env.engine.ValidateSource(inner), ErrNestedSource)

	// 名字前缀相同的兄弟目录不算嵌套
	sibling := env.store.Root() + "-old"
	require.NoError(t, os.MkdirAll(sibling, 0755))
	assert.NoError(t, env.engine.ValidateSource(sibling))
}

func TestMigrateAll_NestedRootKeepsLiveContent(t *testing.T) {
	tmpDir := t.TempDir()
	legacy := filepath.Join(tmpDir, "data")
	store, err := disk.NewAdapter(disk.Config{Root: filepath.Join(legacy, "newfiledir")})
	require.NoError(t, err)
	engine := NewEngine(store, legacy, WithGuard(&abort.Guard{}))
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(src, []byte("live"), 0644))
	hash := core.CalculateBlobHash([]byte("live"))
	_, _, err = store.AddFromPath(ctx, src, hash)
	require.NoError(t, err)

	stats, err := engine.MigrateAll(ctx, legacy, nil)
	assert.ErrorIs(t, err, ErrNestedSource)
	assert.Nil(t, stats)
	assert.True(t, store.Readable(ctx, hash))

	// 直接对在线副本调用 Migrate 也不会删掉它
	res, err := engine.Migrate(ctx, store.Layout(hash), hash)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.True(t, store.Readable(ctx, hash))
	assert.Equal(t, []byte("live"), readAll(t, store, hash))
}

func TestMigrateAll(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	_, h1 := env.putLegacy(t, []byte("one"))
	_, h2 := env.putLegacy(t, []byte("two"))
	_, h3 := env.putLegacy(t, []byte("three"))
	// 保留文件不应该被当成内容
	require.NoError(t, os.WriteFile(filepath.Join(env.legacy, "config.db"), []byte("x"), 0644))
	// 名字对但内容不对的文件：迁移失败，但不影响其它文件
	bad := disk.Layout(env.legacy, core.CalculateBlobHash([]byte("expected")))
	require.NoError(t, os.MkdirAll(filepath.Dir(bad), 0755))
	require.NoError(t, os.WriteFile(bad, []byte("corrupted"), 0644))

	var seen int
	stats, err := env.engine.MigrateAll(ctx, env.legacy, func(walker.Entry, *Result, error) { seen++ })
	require.NoError(t, err)

	assert.Equal(t, uint64(3), stats.Migrated)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, 4, seen)
	for _, h := range []types.Hash{h1, h2, h3} {
		assert.True(t, env.store.Readable(ctx, h))
	}
	_, err = os.Stat(bad)
	assert.NoError(t, err, "失败的源文件保留在原地")
	_, err = os.Stat(filepath.Join(env.legacy, "config.db"))
	assert.NoError(t, err)
}

func TestMigrateAll_RejectsSameRoot(t *testing.T) {
	env := setupEnv(t)
	src := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(src, []byte("live"), 0644))
	hash := core.CalculateBlobHash([]byte("live"))
	_, _, err := env.store.AddFromPath(context.Background(), src, hash)
	require.NoError(t, err)

	stats, err := env.engine.MigrateAll(context.Background(), env.store.Root(), nil)
	assert.ErrorIs(t, err, ErrSameSource)
	assert.Nil(t, stats)
	// 在任何文件被动过之前就拒绝
	assert.True(t, env.store.Readable(context.Background(), hash))
}
