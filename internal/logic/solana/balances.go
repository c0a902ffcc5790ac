package solana

import (
	"context"
	"fmt"

	"github.com/blocto/solana-go-sdk/common"

	"send-preview-sol/internal/logic/codec"
	"send-preview-sol/internal/logic/domain"
	"send-preview-sol/internal/pkg/logger"
	"send-preview-sol/internal/pkg/types"
)

// BalanceFetcher 全量拉取一个账户在给定资产上的链上余额
type BalanceFetcher struct {
	rpc RPC
}

func NewBalanceFetcher(rpc RPC) *BalanceFetcher {
	return &BalanceFetcher{rpc: rpc}
}

// Fetch 原生余额失败视为整体失败；单个 token 失败（例如 ATA 尚未创建）只跳过该资产
func (f *BalanceFetcher) Fetch(ctx context.Context, account domain.Account, assets []domain.Asset) (map[domain.AssetID]domain.Balance, error) {
	owner, err := types.TryPubkeyFromBase58(account.Address)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", account.ID, err)
	}

	out := make(map[domain.AssetID]domain.Balance, len(assets))
	for _, asset := range assets {
		if asset.Native {
			lamports, err := f.rpc.GetBalance(ctx, account.Address)
			if err != nil {
				return nil, fmt.Errorf("GetBalance %s: %w", account.Address, err)
			}
			out[asset.ID] = domain.Balance{Amount: codec.FromBaseUnits(lamports, asset.Decimals), Unit: asset.Symbol}
			continue
		}

		ata, _, err := common.FindAssociatedTokenAddress(owner.ToPublicKey(), asset.Mint.ToPublicKey())
		if err != nil {
			logger.Warnf("[BalanceFetcher] derive ATA 失败: account=%s mint=%s err=%v", account.ID, asset.Mint, err)
			continue
		}
		amount, err := f.rpc.GetTokenAccountBalance(ctx, ata.ToBase58())
		if err != nil {
			logger.Debugf("[BalanceFetcher] token 余额不可用: account=%s mint=%s err=%v", account.ID, asset.Mint, err)
			continue
		}
		out[asset.ID] = domain.Balance{Amount: codec.FromBaseUnits(amount.Amount, amount.Decimals), Unit: asset.Symbol}
	}
	return out, nil
}
