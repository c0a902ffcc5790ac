package solana

import (
	"context"
	"errors"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/rpc"
	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// RPC 本包用到的 JSON-RPC 方法子集，*client.Client 直接满足，测试中用假实现替换
type RPC interface {
	GetLatestBlockhash(ctx context.Context) (rpc.GetLatestBlockhashValue, error)
	GetFeeForMessage(ctx context.Context, message sdktypes.Message) (*uint64, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataLen uint64) (uint64, error)
	GetBalance(ctx context.Context, base58Addr string) (uint64, error)
	GetTokenAccountBalance(ctx context.Context, base58Addr string) (client.TokenAmount, error)
}

var _ RPC = (*client.Client)(nil)

// NewRPC 创建 Solana RPC 客户端
func NewRPC(endpoint string) (RPC, error) {
	if endpoint == "" {
		return nil, errors.New("rpc endpoint is empty")
	}
	c := client.NewClient(endpoint)
	if c == nil {
		return nil, errors.New("rpc client init failed")
	}
	return c, nil
}
