package domain

import (
	"fmt"
	"strings"
	"sync"

	"send-preview-sol/internal/consts"
	"send-preview-sol/internal/pkg/types"
)

// Network CAIP-2 链标识，例如 solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp
type Network string

// NativeAssetID 返回该网络原生 SOL 的 CAIP-19 资产标识
func (n Network) NativeAssetID() AssetID {
	return AssetID(string(n) + "/" + consts.NativeAssetNamespace)
}

// TokenAssetID 返回该网络上某个 SPL mint 的 CAIP-19 资产标识
func (n Network) TokenAssetID(mint types.Pubkey) AssetID {
	return AssetID(string(n) + "/" + consts.TokenAssetNamespace + mint.String())
}

func (n Network) String() string {
	return consts.NetworkName(string(n))
}

// AssetID CAIP-19 资产标识
//   - 原生: <network>/slip44:501
//   - SPL:  <network>/token:<mint>
type AssetID string

// ParseAssetID 拆分资产标识，native=true 时 mint 为零值
func ParseAssetID(id AssetID) (network Network, mint types.Pubkey, native bool, err error) {
	s := string(id)
	idx := strings.LastIndex(s, "/")
	if idx <= 0 || idx == len(s)-1 {
		return "", types.Pubkey{}, false, fmt.Errorf("%w: malformed asset id %q", ErrUnknownAsset, s)
	}
	network = Network(s[:idx])
	ref := s[idx+1:]

	switch {
	case ref == consts.NativeAssetNamespace:
		return network, types.Pubkey{}, true, nil
	case strings.HasPrefix(ref, consts.TokenAssetNamespace):
		mint, err = types.TryPubkeyFromBase58(strings.TrimPrefix(ref, consts.TokenAssetNamespace))
		if err != nil {
			return "", types.Pubkey{}, false, fmt.Errorf("%w: %v", ErrUnknownAsset, err)
		}
		return network, mint, false, nil
	default:
		return "", types.Pubkey{}, false, fmt.Errorf("%w: unsupported namespace in %q", ErrUnknownAsset, s)
	}
}

// Asset 资产元数据
type Asset struct {
	ID       AssetID
	Symbol   string
	Decimals uint8
	Mint     types.Pubkey // 原生 SOL 为零值
	Native   bool
}

// AssetRegistry 资产元数据表。
// 单个会话涉及的资产极少（通常 < 10 个），使用切片顺序查找即可。
type AssetRegistry struct {
	mu     sync.RWMutex
	assets []Asset
}

// NewAssetRegistry 创建资产表，预置该网络的 SOL 以及主网常用稳定币
func NewAssetRegistry(network Network) *AssetRegistry {
	r := &AssetRegistry{}
	r.Add(Asset{
		ID:       network.NativeAssetID(),
		Symbol:   consts.SolSymbol,
		Decimals: consts.SolDecimals,
		Native:   true,
	})
	if string(network) == consts.NetworkMainnet {
		r.Add(Asset{ID: network.TokenAssetID(consts.USDCMint), Symbol: "USDC", Decimals: 6, Mint: consts.USDCMint})
		r.Add(Asset{ID: network.TokenAssetID(consts.USDTMint), Symbol: "USDT", Decimals: 6, Mint: consts.USDTMint})
	}
	return r
}

// Add 添加资产，重复则跳过
func (r *AssetRegistry) Add(asset Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.assets {
		if a.ID == asset.ID {
			return
		}
	}
	r.assets = append(r.assets, asset)
}

func (r *AssetRegistry) Get(id AssetID) (Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.assets {
		if a.ID == id {
			return a, true
		}
	}
	return Asset{}, false
}

func (r *AssetRegistry) MustGet(id AssetID) (Asset, error) {
	if a, ok := r.Get(id); ok {
		return a, nil
	}
	return Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, id)
}

// All 返回全部资产的副本，顺序为添加顺序
func (r *AssetRegistry) All() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Asset, len(r.assets))
	copy(out, r.assets)
	return out
}
