package solana

import (
	"context"
	"fmt"

	"send-preview-sol/internal/pkg/types"
)

// BlockhashSource 提供构造 message 所需的 recent blockhash
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (string, error)
}

type rpcBlockhashSource struct {
	rpc RPC
}

func NewBlockhashSource(rpc RPC) BlockhashSource {
	return &rpcBlockhashSource{rpc: rpc}
}

func (s *rpcBlockhashSource) LatestBlockhash(ctx context.Context) (string, error) {
	resp, err := s.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("GetLatestBlockhash failed: %w", err)
	}
	if _, err := types.HashFromBase58(resp.Blockhash); err != nil {
		return "", fmt.Errorf("invalid blockhash %q: %w", resp.Blockhash, err)
	}
	return resp.Blockhash, nil
}
