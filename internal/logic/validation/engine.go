package validation

import (
	"send-preview-sol/internal/logic/domain"
)

// Engine 表单校验引擎，规则都是纯函数，字段之间互不依赖（跨字段状态通过 CrossFieldState 传入）
type Engine struct {
	assets *domain.AssetRegistry
}

func NewEngine(assets *domain.AssetRegistry) *Engine {
	return &Engine{assets: assets}
}

func fieldValue(intent domain.TransferIntent, field domain.Field) string {
	switch field {
	case domain.FieldFromAccount:
		return intent.FromAccountID
	case domain.FieldToAddress:
		return intent.ToAddress
	case domain.FieldAsset:
		return string(intent.AssetID)
	case domain.FieldAmount:
		return intent.Amount
	}
	return ""
}

// rules 按当前 intent 与跨字段状态生成每个字段的规则列表
func (e *Engine) rules(intent domain.TransferIntent, state CrossFieldState) map[domain.Field][]Rule {
	amountRules := []Rule{Required(""), ValidDecimal()}
	if asset, ok := e.assets.Get(intent.AssetID); ok {
		amountRules = append(amountRules, MaxPrecision(asset.Decimals), AmountAdmissible(asset, state))
	}

	return map[domain.Field][]Rule{
		domain.FieldFromAccount: {Required("Select an account")},
		domain.FieldToAddress:   {Required(""), ValidAddress()},
		domain.FieldAsset:       {Required("Select an asset"), KnownAsset(e.assets)},
		domain.FieldAmount:      amountRules,
	}
}

// Validate 生成完整的校验结果（所有字段都有条目，nil 表示通过）
func (e *Engine) Validate(intent domain.TransferIntent, state CrossFieldState) domain.ValidationResult {
	rules := e.rules(intent, state)
	result := make(domain.ValidationResult, len(domain.AllFields))
	for _, field := range domain.AllFields {
		result[field] = ValidateField(field, fieldValue(intent, field), rules[field])
	}
	return result
}

func (e *Engine) AllFieldsValid(intent domain.TransferIntent, state CrossFieldState) bool {
	return e.Validate(intent, state).Valid()
}
