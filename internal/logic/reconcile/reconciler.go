package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"send-preview-sol/internal/logic/domain"
	"send-preview-sol/internal/pkg/logger"
)

// Directory 对账只需要按地址反查本地账户
type Directory interface {
	ListAccounts(ctx context.Context) ([]domain.Account, error)
}

// Reconciler 转账完成后就地更新缓存余额，避免等待一次全量刷新。
// 只更新已存在的 (账户, 资产) 条目，从不新建条目；缺失的数据交给全量刷新补齐。
type Reconciler struct {
	accounts Directory
}

func New(accounts Directory) *Reconciler {
	return &Reconciler{accounts: accounts}
}

// Stats 一次对账的应用情况
type Stats struct {
	Applied int
	Skipped int
}

// Reconcile 返回更新后的新快照，current 不会被修改
func (r *Reconciler) Reconcile(ctx context.Context, current domain.BalanceSnapshot, transfer domain.CompletedTransfer) (domain.BalanceSnapshot, Stats, error) {
	accounts, err := r.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("list accounts: %w", err)
	}
	byAddress := make(map[string]string, len(accounts))
	for _, a := range accounts {
		byAddress[a.Address] = a.ID
	}

	next := current.Clone()
	var stats Stats

	apply := func(address string, asset domain.AssetID, delta decimal.Decimal) {
		id, ok := byAddress[address]
		if !ok {
			stats.Skipped++
			return
		}
		b, ok := next.Get(id, asset)
		if !ok {
			stats.Skipped++
			return
		}
		b.Amount = b.Amount.Add(delta)
		next[id][asset] = b
		stats.Applied++
	}

	for _, leg := range transfer.From {
		if !leg.Fungible {
			stats.Skipped++
			continue
		}
		apply(leg.Address, leg.Asset, leg.Amount.Neg())
	}

	// 手续费只从付款方扣一次，接收方永远不加
	for _, fee := range transfer.Fees {
		apply(fee.Payer, fee.Asset, fee.Amount.Neg())
	}

	for _, leg := range transfer.To {
		if !leg.Fungible {
			stats.Skipped++
			continue
		}
		apply(leg.Address, leg.Asset, leg.Amount)
	}

	logger.Debugf("[reconcile] tx=%s applied=%d skipped=%d", transfer.Signature, stats.Applied, stats.Skipped)
	return next, stats, nil
}
