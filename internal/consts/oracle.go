package consts

// Pyth 价格账户（主网 push oracle），用于法币输入换算
// https://docs.pyth.network/price-feeds/contract-addresses/solana
const (
	PythSOLAccount  = "H6ARHf6YXhGYeQfUzQNGk6rDNnLBQKrenN712K4AQJEG"
	PythUSDCAccount = "Gnt27xtC473ZT2Mw5u8wZ68Z3gULkSTb5DuxJy7eJotD"
	PythUSDTAccount = "3vxLXJqLqF3JG5TCbYycbKWRBbCJQLxQmBGCkyqEEefL"
)
