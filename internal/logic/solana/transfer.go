package solana

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/associated_token_account"
	"github.com/blocto/solana-go-sdk/program/system"
	"github.com/blocto/solana-go-sdk/program/token"
	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/shopspring/decimal"

	"send-preview-sol/internal/logic/codec"
	"send-preview-sol/internal/logic/domain"
	"send-preview-sol/internal/pkg/types"
)

var (
	errNotNative = errors.New("asset is not native SOL")
	errNotToken  = errors.New("asset is not an SPL token")
)

// NativeTransferBuilder 原生 SOL 转账：单条 system.Transfer 指令，付款方即 fee payer
type NativeTransferBuilder struct {
	blockhash BlockhashSource
}

func NewNativeTransferBuilder(blockhash BlockhashSource) *NativeTransferBuilder {
	return &NativeTransferBuilder{blockhash: blockhash}
}

func (b *NativeTransferBuilder) BuildMessage(ctx context.Context, p domain.TransferParams) ([]byte, error) {
	if !p.Asset.Native {
		return nil, fmt.Errorf("%w: %s", errNotNative, p.Asset.ID)
	}
	from, to, err := parseParties(p)
	if err != nil {
		return nil, err
	}
	lamports, err := baseUnits(p.Amount, p.Asset.Decimals)
	if err != nil {
		return nil, err
	}

	return compile(ctx, b.blockhash, from, []sdktypes.Instruction{
		system.Transfer(system.TransferParam{
			From:   from,
			To:     to,
			Amount: lamports,
		}),
	})
}

// TokenTransferBuilder SPL Token 转账：
//  1. 幂等创建收款方 ATA（已存在时为空操作，由付款方出租金）
//  2. TransferChecked 从付款方 ATA 转到收款方 ATA
type TokenTransferBuilder struct {
	blockhash BlockhashSource
}

func NewTokenTransferBuilder(blockhash BlockhashSource) *TokenTransferBuilder {
	return &TokenTransferBuilder{blockhash: blockhash}
}

func (b *TokenTransferBuilder) BuildMessage(ctx context.Context, p domain.TransferParams) ([]byte, error) {
	if p.Asset.Native || p.Asset.Mint.IsZero() {
		return nil, fmt.Errorf("%w: %s", errNotToken, p.Asset.ID)
	}
	from, to, err := parseParties(p)
	if err != nil {
		return nil, err
	}
	raw, err := baseUnits(p.Amount, p.Asset.Decimals)
	if err != nil {
		return nil, err
	}

	mint := p.Asset.Mint.ToPublicKey()
	fromATA, _, err := common.FindAssociatedTokenAddress(from, mint)
	if err != nil {
		return nil, fmt.Errorf("derive source token account: %w", err)
	}
	toATA, _, err := common.FindAssociatedTokenAddress(to, mint)
	if err != nil {
		return nil, fmt.Errorf("derive destination token account: %w", err)
	}

	return compile(ctx, b.blockhash, from, []sdktypes.Instruction{
		associated_token_account.CreateIdempotent(associated_token_account.CreateIdempotentParam{
			Funder:                 from,
			Owner:                  to,
			Mint:                   mint,
			AssociatedTokenAccount: toATA,
		}),
		token.TransferChecked(token.TransferCheckedParam{
			From:     fromATA,
			To:       toATA,
			Mint:     mint,
			Auth:     from,
			Signers:  []common.PublicKey{},
			Amount:   raw,
			Decimals: p.Asset.Decimals,
		}),
	})
}

func parseParties(p domain.TransferParams) (common.PublicKey, common.PublicKey, error) {
	from, err := types.TryPubkeyFromBase58(p.From)
	if err != nil {
		return common.PublicKey{}, common.PublicKey{}, fmt.Errorf("invalid source address: %w", err)
	}
	to, err := types.TryPubkeyFromBase58(p.To)
	if err != nil {
		return common.PublicKey{}, common.PublicKey{}, fmt.Errorf("invalid destination address: %w", err)
	}
	return from.ToPublicKey(), to.ToPublicKey(), nil
}

// baseUnits UI 金额 -> u64 最小单位，超精度或溢出直接拒绝
func baseUnits(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if amount.Sign() <= 0 {
		return 0, fmt.Errorf("amount must be positive: %s", amount)
	}
	raw, exact := codec.ToBaseUnits(amount, decimals)
	if !exact {
		return 0, fmt.Errorf("amount %s exceeds %d decimals", amount, decimals)
	}
	if raw.Cmp(new(big.Int).SetUint64(^uint64(0))) > 0 {
		return 0, fmt.Errorf("amount %s overflows u64", amount)
	}
	return raw.Uint64(), nil
}

func compile(ctx context.Context, source BlockhashSource, feePayer common.PublicKey, instrs []sdktypes.Instruction) ([]byte, error) {
	blockhash, err := source.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	msg := sdktypes.NewMessage(sdktypes.NewMessageParam{
		FeePayer:        feePayer,
		RecentBlockhash: blockhash,
		Instructions:    instrs,
	})
	data, err := msg.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize message: %w", err)
	}
	return data, nil
}
