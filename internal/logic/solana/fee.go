package solana

import (
	"context"
	"errors"
	"fmt"

	sdktypes "github.com/blocto/solana-go-sdk/types"

	"send-preview-sol/internal/logic/domain"
)

// errBlockhashExpired getFeeForMessage 对过期 blockhash 返回 null
var errBlockhashExpired = errors.New("fee unavailable: blockhash expired")

// RPCFeeEstimator 通过 getFeeForMessage 预估手续费，只服务配置的单一网络
type RPCFeeEstimator struct {
	rpc     RPC
	network domain.Network
}

func NewRPCFeeEstimator(rpc RPC, network domain.Network) *RPCFeeEstimator {
	return &RPCFeeEstimator{rpc: rpc, network: network}
}

func (e *RPCFeeEstimator) EstimateFee(ctx context.Context, message []byte, network domain.Network) (uint64, error) {
	if network != e.network {
		return 0, fmt.Errorf("fee estimator serves %s, got %s", e.network, network)
	}
	msg, err := sdktypes.MessageDeserialize(message)
	if err != nil {
		return 0, fmt.Errorf("deserialize message: %w", err)
	}
	fee, err := e.rpc.GetFeeForMessage(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("GetFeeForMessage failed: %w", err)
	}
	if fee == nil {
		return 0, errBlockhashExpired
	}
	return *fee, nil
}
