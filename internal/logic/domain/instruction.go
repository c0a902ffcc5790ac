package domain

import "github.com/shopspring/decimal"

// Account 账户目录中的一个账户
type Account struct {
	ID      string
	Address string
}

// TransferParams 交给指令构造器的参数
type TransferParams struct {
	From    string          // 付款账户地址（同时为 fee payer）
	To      string          // 收款钱包地址
	Amount  decimal.Decimal // UI 单位金额
	Network Network
	Asset   Asset // 原生 SOL 时 Mint 为零值
}
