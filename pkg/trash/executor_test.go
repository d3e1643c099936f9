package trash

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filepool/pkg/abort"
	"filepool/pkg/core"
	"filepool/pkg/metrics"
	"filepool/pkg/migrate"
	"filepool/pkg/oracle"
	"filepool/pkg/peers/peertest"
	"filepool/pkg/storage"
	"filepool/pkg/storage/disk"
	"filepool/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hashA = types.Hash(strings.Repeat("a", 40))

type fixture struct {
	store *disk.Adapter
	a, b  *peertest.Index
	exec  *Executor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := disk.NewAdapter(disk.Config{Root: filepath.Join(t.TempDir(), "filedir")})
	require.NoError(t, err)

	a, b := peertest.NewIndex(), peertest.NewIndex()
	o := oracle.New(peertest.Systems{"A", "B"}, peertest.Resolver{"A": a, "B": b}, nil, zerolog.Nop())
	return &fixture{store: store, a: a, b: b, exec: New(o, store, opts...)}
}

// put 直接在分片路径上放一个文件，名字是给定的 hash
func put(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0644))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestExecute_ReferencedStaysInPlace(t *testing.T) {
	f := newFixture(t)
	put(t, f.store.Layout(hashA))
	f.a.Add(hashA)

	outcome, err := f.exec.Execute(context.Background(), hashA)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInUse, outcome)
	assert.True(t, exists(f.store.Layout(hashA)))
	assert.False(t, exists(f.store.TrashLayout(hashA)))
}

func TestExecute_UnreferencedMovesToTrash(t *testing.T) {
	f := newFixture(t)
	put(t, f.store.Layout(hashA))
	ctx := context.Background()

	outcome, err := f.exec.Execute(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTrashed, outcome)
	assert.False(t, exists(f.store.Layout(hashA)))
	require.True(t, exists(f.store.TrashLayout(hashA)))

	info, err := os.Stat(f.store.TrashLayout(hashA))
	require.NoError(t, err)
	assert.Equal(t, f.store.FilePerm(), info.Mode().Perm())

	// 幂等：第二次什么都不做，也不报错
	outcome, err = f.exec.Execute(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissing, outcome)
	assert.True(t, exists(f.store.TrashLayout(hashA)))
}

func TestExecute_DuplicateTrash(t *testing.T) {
	f := newFixture(t)
	put(t, f.store.Layout(hashA))
	put(t, f.store.TrashLayout(hashA))

	outcome, err := f.exec.Execute(context.Background(), hashA)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeduplicated, outcome)
	assert.False(t, exists(f.store.Layout(hashA)))
	assert.True(t, exists(f.store.TrashLayout(hashA)))
}

func TestExecute_UnreachablePeerNeverTrashes(t *testing.T) {
	f := newFixture(t)
	put(t, f.store.Layout(hashA))
	f.b.SetDown(true)

	outcome, err := f.exec.Execute(context.Background(), hashA)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInUse, outcome)
	assert.True(t, exists(f.store.Layout(hashA)))
}

func TestExecute_InvalidHash(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec.Execute(context.Background(), "short")
	assert.ErrorIs(t, err, storage.ErrInvalidHash)
}

func TestExecute_LegacyContentIsMigratedThenTrashed(t *testing.T) {
	store, err := disk.NewAdapter(disk.Config{Root: filepath.Join(t.TempDir(), "filedir")})
	require.NoError(t, err)
	legacy := t.TempDir()

	data := []byte("still in the old root")
	hash := core.CalculateBlobHash(data)
	oldPath := disk.Layout(legacy, hash)
	require.NoError(t, os.MkdirAll(filepath.Dir(oldPath), 0755))
	require.NoError(t, os.WriteFile(oldPath, data, 0644))

	engine := migrate.NewEngine(store, legacy, migrate.WithGuard(&abort.Guard{}))
	o := oracle.New(peertest.Systems{"A"}, peertest.Resolver{"A": peertest.NewIndex()}, nil, zerolog.Nop())
	exec := New(o, store, WithLocator(engine))

	outcome, err := exec.Execute(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTrashed, outcome)
	assert.False(t, exists(oldPath))
	assert.False(t, exists(store.Layout(hash)))
	assert.True(t, exists(store.TrashLayout(hash)))
}

func TestExecute_RecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	f := newFixture(t, WithMetrics(m))
	put(t, f.store.Layout(hashA))
	ctx := context.Background()

	_, err := f.exec.Execute(ctx, hashA)
	require.NoError(t, err)
	_, err = f.exec.Execute(ctx, hashA)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrashOutcomes.WithLabelValues(string(OutcomeTrashed))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrashOutcomes.WithLabelValues(string(OutcomeMissing))))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "check_references", StateCheckReferences.String())
	assert.Equal(t, "abort", StateAbort.String())
	assert.Equal(t, "state(42)", State(42).String())
}
