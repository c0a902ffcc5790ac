package validation

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"send-preview-sol/internal/consts"
	"send-preview-sol/internal/logic/codec"
	"send-preview-sol/internal/logic/domain"
)

// CrossFieldState 金额校验依赖的外部状态（均为只读快照）
type CrossFieldState struct {
	Balances              map[domain.AssetID]domain.Balance // 付款账户各资产余额
	NativeAssetID         domain.AssetID                    // 付手续费的原生资产
	FeeLamports           uint64                            // 预估手续费
	RentExemptionLamports uint64                            // 免租金最低余额
}

func (s CrossFieldState) baseUnits(asset domain.AssetID, decimals uint8) *big.Int {
	b, ok := s.Balances[asset]
	if !ok {
		return new(big.Int)
	}
	raw, _ := codec.ToBaseUnits(b.Amount, decimals)
	return raw
}

func (s CrossFieldState) nativeLamports() *big.Int {
	return s.baseUnits(s.NativeAssetID, consts.SolDecimals)
}

func insufficientFee() *domain.FieldError {
	return fieldError("Insufficient %s balance to cover the network fee", consts.SolSymbol)
}

// AmountAdmissible 金额跨字段校验：
//  1. 金额为 0：静默无效
//  2. 金额 > 可用余额：余额不足（提示资产符号）
//  3. 原生 SOL：金额 < 免租金最低值拒绝；金额 + 手续费 + 免租金 > 余额拒绝（转账后付款方不能低于免租金）
//  4. SPL Token：SOL 余额需独立满足 手续费 + 免租金
//  5. SOL 余额恰为 0：手续费必然无法支付
func AmountAdmissible(asset domain.Asset, state CrossFieldState) Rule {
	return func(value string) *domain.FieldError {
		amount, err := ParseAmount(value)
		if err != nil {
			return fieldError("Invalid amount")
		}
		if amount.IsZero() {
			return silent()
		}

		tokenAmount, _ := codec.ToBaseUnits(amount, asset.Decimals)
		available := state.baseUnits(asset.ID, asset.Decimals)
		fee := new(big.Int).SetUint64(state.FeeLamports)
		rent := new(big.Int).SetUint64(state.RentExemptionLamports)
		native := state.nativeLamports()

		if tokenAmount.Cmp(available) > 0 {
			return fieldError("Insufficient %s balance", asset.Symbol)
		}
		if native.Sign() == 0 {
			return insufficientFee()
		}

		if asset.Native {
			if tokenAmount.Cmp(rent) < 0 {
				return fieldError("Amount must be at least %s %s",
					codec.FromBaseUnits(state.RentExemptionLamports, consts.SolDecimals), consts.SolSymbol)
			}
			total := new(big.Int).Add(tokenAmount, fee)
			total.Add(total, rent)
			if total.Cmp(available) > 0 {
				return insufficientFee()
			}
			return nil
		}

		if new(big.Int).Add(fee, rent).Cmp(native) > 0 {
			return insufficientFee()
		}
		return nil
	}
}

// MaxSendable “最大金额”派生计算：
//   - 原生 SOL：余额 - 手续费 - 免租金
//   - SPL Token：全部 token 余额，但 SOL 需能覆盖手续费 + 免租金
//
// 结果为负时返回 ErrInsufficientFunds，只中止这一次派生操作
func MaxSendable(asset domain.Asset, state CrossFieldState) (decimal.Decimal, error) {
	fee := new(big.Int).SetUint64(state.FeeLamports)
	rent := new(big.Int).SetUint64(state.RentExemptionLamports)
	reserve := new(big.Int).Add(fee, rent)

	if asset.Native {
		maxRaw := new(big.Int).Sub(state.baseUnits(asset.ID, asset.Decimals), reserve)
		if maxRaw.Sign() < 0 {
			return decimal.Zero, fmt.Errorf("%w: %s balance below fee + rent reserve", domain.ErrInsufficientFunds, asset.Symbol)
		}
		return decimal.NewFromBigInt(maxRaw, -int32(asset.Decimals)), nil
	}

	if state.nativeLamports().Cmp(reserve) < 0 {
		return decimal.Zero, fmt.Errorf("%w: %s balance cannot cover fee", domain.ErrInsufficientFunds, consts.SolSymbol)
	}
	return decimal.NewFromBigInt(state.baseUnits(asset.ID, asset.Decimals), -int32(asset.Decimals)), nil
}

// ConvertFiatToToken 法币金额换算为资产数量，向下截断到资产最小单位，
// 保证换算结果不会超过用户输入的法币价值
func ConvertFiatToToken(fiat, price decimal.Decimal, decimals uint8) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid price %s", price)
	}
	q, _ := fiat.QuoRem(price, int32(decimals))
	return q, nil
}

// FormatFiat 法币展示统一保留 2 位小数（银行家舍入），仅用于显示
func FormatFiat(amount decimal.Decimal) string {
	return amount.StringFixedBank(2)
}
