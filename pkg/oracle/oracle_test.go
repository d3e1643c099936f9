package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"filepool/pkg/peers/peertest"
	"filepool/pkg/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hashA = types.Hash(strings.Repeat("a", 40))

type brokenSystems struct{}

func (brokenSystems) Systems() ([]types.SystemID, error) { return nil, errors.New("config.db unreadable") }

func TestIsRemovable_ReferencedByOneSystem(t *testing.T) {
	a := peertest.NewIndex(hashA)
	b := peertest.NewIndex()
	o := New(peertest.Systems{"A", "B"}, peertest.Resolver{"A": a, "B": b}, nil, zerolog.Nop())

	assert.False(t, o.IsRemovable(context.Background(), hashA))
	// 短路：A 已经说了还在用，不需要再问 B
	assert.Equal(t, int32(0), b.Queries.Load())
}

func TestIsRemovable_NobodyReferences(t *testing.T) {
	a := peertest.NewIndex()
	b := peertest.NewIndex()
	o := New(peertest.Systems{"A", "B"}, peertest.Resolver{"A": a, "B": b}, nil, zerolog.Nop())

	assert.True(t, o.IsRemovable(context.Background(), hashA))
	assert.Equal(t, int32(1), a.Queries.Load())
	assert.Equal(t, int32(1), b.Queries.Load())
}

func TestIsRemovable_Conservative(t *testing.T) {
	ctx := context.Background()

	t.Run("peer unreachable", func(t *testing.T) {
		b := peertest.NewIndex()
		b.SetDown(true)
		o := New(peertest.Systems{"A", "B"}, peertest.Resolver{"A": peertest.NewIndex(), "B": b}, nil, zerolog.Nop())

		assert.False(t, o.IsRemovable(ctx, hashA))
		_, err := o.Check(ctx, hashA)
		assert.ErrorIs(t, err, peertest.ErrDown)
	})

	t.Run("peer not configured", func(t *testing.T) {
		o := New(peertest.Systems{"A", "ghost"}, peertest.Resolver{"A": peertest.NewIndex()}, nil, zerolog.Nop())
		assert.False(t, o.IsRemovable(ctx, hashA))
	})

	t.Run("registry unreadable", func(t *testing.T) {
		o := New(brokenSystems{}, peertest.Resolver{}, nil, zerolog.Nop())
		assert.False(t, o.IsRemovable(ctx, hashA))
	})

	t.Run("context cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		o := New(peertest.Systems{"A"}, peertest.Resolver{"A": peertest.NewIndex()}, nil, zerolog.Nop())
		assert.False(t, o.IsRemovable(cctx, hashA))
	})
}

func TestIsRemovable_LocalFallback(t *testing.T) {
	ctx := context.Background()
	local := peertest.NewIndex(hashA)

	o := New(peertest.Systems{}, peertest.Resolver{}, local, zerolog.Nop())
	assert.False(t, o.IsRemovable(ctx, hashA))

	local.Drop(hashA)
	assert.True(t, o.IsRemovable(ctx, hashA))

	// 没有本地索引时不敢删
	o = New(peertest.Systems{}, peertest.Resolver{}, nil, zerolog.Nop())
	ok, err := o.Check(ctx, hashA)
	require.Error(t, err)
	assert.False(t, ok)
}
