package builder

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"send-preview-sol/internal/logic/domain"
	"send-preview-sol/internal/logic/validation"
	"send-preview-sol/internal/pkg/logger"
)

// Result 构建结果：校验未通过时 Preview 为 nil，只返回校验结果
type Result struct {
	Preview    *domain.TransactionPreview
	Validation domain.ValidationResult
}

// Builder 把一个 TransferIntent 快照变成带手续费预估的未签名交易 message
type Builder struct {
	svc    Services
	engine *validation.Engine
}

func New(svc Services) *Builder {
	return &Builder{
		svc:    svc,
		engine: validation.NewEngine(svc.Assets),
	}
}

// Engine 返回构建门禁使用的校验引擎
func (b *Builder) Engine() *validation.Engine {
	return b.engine
}

// Build 执行构建流程：
//  1. 校验门禁，未通过则只返回校验结果
//  2. 解析付款账户（不存在是硬错误）
//  3. 按资产选择原生 / SPL 指令构造器
//  4. 构造 message
//  5. 预估手续费
//  6. base64 编码
//  7. 返回带 intent 版本号的预览
//
// 每一步之间检查 ctx，被取消时返回 ctx 的取消原因。步骤 2-6 的失败包装为 *BuildError。
func (b *Builder) Build(ctx context.Context, intent domain.TransferIntent, state validation.CrossFieldState) (Result, error) {
	result := b.engine.Validate(intent, state)
	if !result.Valid() {
		return Result{Validation: result}, nil
	}
	if err := checkpoint(ctx); err != nil {
		return Result{}, err
	}

	account, err := b.svc.Accounts.GetAccount(ctx, intent.FromAccountID)
	if err != nil {
		return Result{}, wrap(StageAccount, err)
	}
	if err := checkpoint(ctx); err != nil {
		return Result{}, err
	}

	asset, err := b.svc.Assets.MustGet(intent.AssetID)
	if err != nil {
		return Result{}, wrap(StageAsset, err)
	}
	amount, err := validation.ParseAmount(intent.Amount)
	if err != nil {
		return Result{}, wrap(StageAsset, err)
	}

	// 与校验保持一致，以资产表为准
	ib := b.svc.Token
	if asset.Native {
		ib = b.svc.Native
	}
	if ib == nil {
		return Result{}, wrap(StageMessage, fmt.Errorf("no instruction builder for %s", intent.AssetID))
	}

	message, err := ib.BuildMessage(ctx, domain.TransferParams{
		From:    account.Address,
		To:      intent.ToAddress,
		Amount:  amount,
		Network: intent.Network,
		Asset:   asset,
	})
	if err != nil {
		return Result{}, wrap(StageMessage, err)
	}
	if err := checkpoint(ctx); err != nil {
		return Result{}, err
	}

	fee, err := b.svc.Fees.EstimateFee(ctx, message, intent.Network)
	if err != nil {
		return Result{}, wrap(StageFee, err)
	}
	if err := checkpoint(ctx); err != nil {
		return Result{}, err
	}

	encoded := base64.StdEncoding.EncodeToString(message)
	if encoded == "" {
		return Result{}, wrap(StageEncode, errors.New("empty message"))
	}

	logger.Debugf("[builder] built preview: version=%d, asset=%s, fee=%d, size=%d",
		intent.Version, asset.Symbol, fee, len(message))

	return Result{
		Preview: &domain.TransactionPreview{
			EncodedMessage:         encoded,
			MessageBytes:           message,
			FeeLamports:            fee,
			BuiltFromIntentVersion: intent.Version,
		},
		Validation: result,
	}, nil
}

func checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}
