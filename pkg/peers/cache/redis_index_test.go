package cache

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"filepool/pkg/peers/peertest"
	"filepool/pkg/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedIndex_Integration(t *testing.T) {
	// A. 环境检查: 确保 Redis 在运行
	redisAddr := "localhost:6379"
	conn, err := net.DialTimeout("tcp", redisAddr, 1*time.Second)
	if err != nil {
		t.Skipf("Skipping Redis integration test: %v", err)
	}
	conn.Close()

	// B. 初始化
	ctx := context.Background()
	spy := peertest.NewIndex()
	r, err := NewResolver(peertest.Resolver{"A": spy}, Config{
		RedisURL: fmt.Sprintf("redis://%s/0", redisAddr),
		TTL:      time.Minute,
	}, zerolog.Nop())
	require.NoError(t, err)
	defer r.Close()

	idx, err := r.Index(ctx, "A")
	require.NoError(t, err)

	used := types.Hash(strings.Repeat("1", 40))
	unused := types.Hash(strings.Repeat("2", 40))
	spy.Add(used)
	r.client.Del(ctx, idx.(*cachedIndex).cacheKey(used), idx.(*cachedIndex).cacheKey(unused))

	// --- Step 1: 负结果从不缓存 ---
	for range 2 {
		referenced, err := idx.Referenced(ctx, unused)
		require.NoError(t, err)
		assert.False(t, referenced)
	}
	assert.Equal(t, int32(2), spy.Queries.Load(), "negative answers must always hit the peer")

	// --- Step 2: 正结果回填 ---
	referenced, err := idx.Referenced(ctx, used)
	require.NoError(t, err)
	assert.True(t, referenced)
	assert.Equal(t, int32(3), spy.Queries.Load())

	// --- Step 3: 命中缓存，即使对端已经删掉引用 (只会推迟回收) ---
	spy.Drop(used)
	referenced, err = idx.Referenced(ctx, used)
	require.NoError(t, err)
	assert.True(t, referenced)
	assert.Equal(t, int32(3), spy.Queries.Load(), "positive answer should be served from redis")
}

func TestResolver_PropagatesErrors(t *testing.T) {
	r := &Resolver{backend: peertest.Resolver{}}
	_, err := r.Index(context.Background(), "ghost")
	assert.Error(t, err)
}
