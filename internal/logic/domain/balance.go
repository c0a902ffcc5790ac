package domain

import "github.com/shopspring/decimal"

// Balance 某账户某资产的缓存余额（UI 单位，例如 SOL 而非 lamports）
type Balance struct {
	Amount decimal.Decimal
	Unit   string
}

// BalanceSnapshot accountID -> assetID -> Balance
type BalanceSnapshot map[string]map[AssetID]Balance

// Clone 深拷贝。decimal.Decimal 本身不可变，拷贝 map 即可
func (s BalanceSnapshot) Clone() BalanceSnapshot {
	out := make(BalanceSnapshot, len(s))
	for account, assets := range s {
		m := make(map[AssetID]Balance, len(assets))
		for id, b := range assets {
			m[id] = b
		}
		out[account] = m
	}
	return out
}

// Get 查询余额，账户或资产不存在时 ok=false
func (s BalanceSnapshot) Get(accountID string, asset AssetID) (Balance, bool) {
	assets, ok := s[accountID]
	if !ok {
		return Balance{}, false
	}
	b, ok := assets[asset]
	return b, ok
}

// Set 写入余额，账户不存在时创建。仅供全量刷新使用，对账逻辑不得调用
func (s BalanceSnapshot) Set(accountID string, asset AssetID, b Balance) {
	assets, ok := s[accountID]
	if !ok {
		assets = make(map[AssetID]Balance)
		s[accountID] = assets
	}
	assets[asset] = b
}

// TransferLeg 完成的转账中的一条资产流向
type TransferLeg struct {
	Address  string
	Asset    AssetID
	Amount   decimal.Decimal
	Fungible bool
}

// FeeLeg 交易手续费，由付款方承担
type FeeLeg struct {
	Payer  string
	Asset  AssetID
	Amount decimal.Decimal
}

// CompletedTransfer 一笔已完成转账的资产变化
type CompletedTransfer struct {
	Signature string
	From      []TransferLeg
	To        []TransferLeg
	Fees      []FeeLeg
}
