// Package oracle 回答一个问题：这个 Hash 在所有已接入系统里都没人用了吗？
package oracle

import (
	"context"
	"fmt"

	"filepool/pkg/peers"
	"filepool/pkg/types"

	"github.com/rs/zerolog"
)

// Systems 提供已接入系统列表 (registry.Registry 实现了它)
type Systems interface {
	Systems() ([]types.SystemID, error)
}

// Referencer 是本地的引用检查 (单实例部署时的降级路径)
type Referencer interface {
	Referenced(ctx context.Context, hash types.Hash) (bool, error)
}

// Oracle 聚合所有系统的引用索引
type Oracle struct {
	systems  Systems
	resolver peers.Resolver
	local    Referencer
	log      zerolog.Logger
}

// New 创建 Oracle
// local 可以为 nil：此时注册表为空的部署永远不允许删除
func New(systems Systems, resolver peers.Resolver, local Referencer, log zerolog.Logger) *Oracle {
	return &Oracle{
		systems:  systems,
		resolver: resolver,
		local:    local,
		log:      log.With().Str("component", "oracle").Logger(),
	}
}

// IsRemovable 只有在确认所有系统都不再引用时才返回 true
// 任何查询失败 (配置错误、对端不可达) 都按“仍在使用”处理
func (o *Oracle) IsRemovable(ctx context.Context, hash types.Hash) bool {
	ok, err := o.Check(ctx, hash)
	if err != nil {
		o.log.Warn().Err(err).Str("hash", hash.String()).Msg("removability check failed, keeping file")
		return false
	}
	return ok
}

// Check 和 IsRemovable 一样，但把失败原因交给调用方
func (o *Oracle) Check(ctx context.Context, hash types.Hash) (bool, error) {
	// 每次检查前重新读取注册表，拿到最新加入的系统
	systems, err := o.systems.Systems()
	if err != nil {
		return false, fmt.Errorf("failed to read connected systems: %w", err)
	}

	if len(systems) == 0 {
		return o.checkLocal(ctx, hash)
	}

	for _, id := range systems {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		idx, err := o.resolver.Index(ctx, id)
		if err != nil {
			return false, fmt.Errorf("invalid connected system config: %w", err)
		}

		referenced, err := idx.Referenced(ctx, hash)
		if err != nil {
			return false, fmt.Errorf("system %s: %w", id, err)
		}
		if referenced {
			// 短路：有一个系统还在用就够了
			o.log.Debug().Str("hash", hash.String()).Str("system", id.String()).Msg("still referenced")
			return false, nil
		}
	}
	return true, nil
}

func (o *Oracle) checkLocal(ctx context.Context, hash types.Hash) (bool, error) {
	if o.local == nil {
		return false, fmt.Errorf("no connected systems and no local index")
	}
	referenced, err := o.local.Referenced(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("local index: %w", err)
	}
	return !referenced, nil
}
