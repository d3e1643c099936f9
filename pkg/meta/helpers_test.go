package meta

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"testing"

	"filepool/pkg/types"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

// mockHash 生成合法的测试用 Hash
func mockHash(input string) types.Hash {
	sum := sha1.Sum([]byte(input))
	return types.Hash(hex.EncodeToString(sum[:]))
}

// mustAddRecord 写入一条引用 hash 的记录，失败直接终止测试
func mustAddRecord(t *testing.T, repo *Repository, path string, hash types.Hash, msgAndArgs ...any) {
	t.Helper()
	err := repo.AddRecord(context.Background(), &FileRecord{
		ContentHash:  string(hash),
		PathNameHash: string(mockHash(path)),
		Filename:     path,
	})
	require.NoError(t, err, msgAndArgs...)
}

// collectHashes 把 LiveHashes 的结果收集成 set
func collectHashes(t *testing.T, repo *Repository) map[types.Hash]int {
	t.Helper()
	out := make(map[types.Hash]int)
	err := repo.LiveHashes(context.Background(), func(h types.Hash) error {
		out[h]++
		return nil
	})
	require.NoError(t, err)
	return out
}

func memoryDSN(t *testing.T) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
}
