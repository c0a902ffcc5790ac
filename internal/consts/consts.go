package consts

// CAIP-2 链标识（genesis hash 前 32 个字符）
const (
	NetworkMainnet = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	NetworkDevnet  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	NetworkTestnet = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"
	NetworkLocal   = "solana:localnet"
)

// NetworkNames 用于日志与指标 label
var NetworkNames = map[string]string{
	NetworkMainnet: "mainnet",
	NetworkDevnet:  "devnet",
	NetworkTestnet: "testnet",
	NetworkLocal:   "localnet",
}

func NetworkName(network string) string {
	if name, ok := NetworkNames[network]; ok {
		return name
	}
	return "unknown"
}

// CAIP-19 资产命名空间
const (
	NativeAssetNamespace = "slip44:501"
	TokenAssetNamespace  = "token:"
)

const (
	SolDecimals = 9
	SolSymbol   = "SOL"

	// 每个签名的基础手续费（lamports），RPC 不可用时作为校验阶段的预估值
	DefaultFeeLamports uint64 = 5000

	// 0 字节数据账户的免租金最低余额（lamports）
	DefaultRentExemptionLamports uint64 = 890_880

	// DecodeAmountDecimals AmountCodec 解码 SPL 转账指令时使用的固定精度（1e6）
	DecodeAmountDecimals = 6

	DefaultDebounceMs = 500
)
