package builder

import (
	"context"

	"send-preview-sol/internal/logic/domain"
)

// AccountDirectory 本地账户目录（钱包 keyring 的只读视图）
type AccountDirectory interface {
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	// GetAccount id 不存在时返回 domain.ErrAccountNotFound
	GetAccount(ctx context.Context, id string) (domain.Account, error)
}

// InstructionBuilder 构造未签名、可编译的转账 message（序列化后的字节）
type InstructionBuilder interface {
	BuildMessage(ctx context.Context, params domain.TransferParams) ([]byte, error)
}

// FeeEstimator 预估 message 的手续费（lamports）
type FeeEstimator interface {
	EstimateFee(ctx context.Context, message []byte, network domain.Network) (uint64, error)
}

// Services 构建所需的外部协作者，由 svc.ServiceContext 一次性组装后注入
type Services struct {
	Accounts AccountDirectory
	Native   InstructionBuilder
	Token    InstructionBuilder
	Fees     FeeEstimator
	Assets   *domain.AssetRegistry
}
