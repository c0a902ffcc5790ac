package domain

import "errors"

var (
	// ErrAccountNotFound 账户目录中不存在该 id（构建阶段的硬错误，而非校验错误）
	ErrAccountNotFound = errors.New("account not found")

	// ErrUnknownAsset 资产标识无法解析或未注册
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrSimulationFailed 构建失败后展示给用户的通用错误，具体原因只写日志
	ErrSimulationFailed = errors.New("transaction simulation failed")

	// ErrInsufficientFunds 派生计算（例如最大可转金额）得到负数时返回
	ErrInsufficientFunds = errors.New("insufficient funds")
)
