package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"send-preview-sol/internal/logic/codec"
	"send-preview-sol/internal/logic/domain"
	"send-preview-sol/internal/pkg/types"
)

// Rule 单字段校验规则，纯函数；返回 nil 表示通过
type Rule func(value string) *domain.FieldError

// 只接受普通十进制写法，拒绝科学计数法、符号与千分位
var decimalPattern = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)$`)

func fieldError(format string, args ...interface{}) *domain.FieldError {
	return &domain.FieldError{Message: fmt.Sprintf(format, args...)}
}

// silent 阻止提交但不显示文字
func silent() *domain.FieldError {
	return &domain.FieldError{}
}

// ValidateField 按顺序执行规则，返回第一个错误
func ValidateField(_ domain.Field, value string, rules []Rule) *domain.FieldError {
	for _, rule := range rules {
		if err := rule(value); err != nil {
			return err
		}
	}
	return nil
}

// ParseAmount 解析用户输入的金额，兼容输入过程中的 "1." 与 ".5"
func ParseAmount(value string) (decimal.Decimal, error) {
	v := strings.TrimSpace(value)
	if !decimalPattern.MatchString(v) {
		return decimal.Zero, fmt.Errorf("invalid amount %q", value)
	}
	v = strings.TrimSuffix(v, ".")
	if strings.HasPrefix(v, ".") {
		v = "0" + v
	}
	return decimal.NewFromString(v)
}

// Required 空值校验；message 为空时是静默错误（例如弹窗刚打开时的空金额）
func Required(message string) Rule {
	return func(value string) *domain.FieldError {
		if strings.TrimSpace(value) != "" {
			return nil
		}
		if message == "" {
			return silent()
		}
		return fieldError("%s", message)
	}
}

// ValidAddress 收款地址必须是合法的 base58 32 字节公钥
func ValidAddress() Rule {
	return func(value string) *domain.FieldError {
		if _, err := types.TryPubkeyFromBase58(strings.TrimSpace(value)); err != nil {
			return fieldError("Invalid Solana address")
		}
		return nil
	}
}

// KnownAsset 资产必须已在资产表中注册
func KnownAsset(assets *domain.AssetRegistry) Rule {
	return func(value string) *domain.FieldError {
		if _, ok := assets.Get(domain.AssetID(value)); !ok {
			return fieldError("Unsupported asset")
		}
		return nil
	}
}

// ValidDecimal 十进制格式校验
func ValidDecimal() Rule {
	return func(value string) *domain.FieldError {
		v := strings.TrimSpace(value)
		if strings.HasPrefix(v, "-") {
			return fieldError("Amount must not be negative")
		}
		if !decimalPattern.MatchString(v) {
			return fieldError("Invalid amount")
		}
		return nil
	}
}

// MaxPrecision 小数位不能超过资产精度。
// 超出部分不做舍入，避免把用户输入悄悄截成更小（甚至为 0）的金额
func MaxPrecision(decimals uint8) Rule {
	return func(value string) *domain.FieldError {
		amount, err := ParseAmount(value)
		if err != nil {
			return fieldError("Invalid amount")
		}
		if _, exact := codec.ToBaseUnits(amount, decimals); !exact {
			return fieldError("Amount supports at most %d decimal places", decimals)
		}
		return nil
	}
}
