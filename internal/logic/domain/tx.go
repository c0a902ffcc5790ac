package domain

// Currency 用户输入金额的计价方式
type Currency string

const (
	CurrencyToken Currency = "token" // 按资产数量输入
	CurrencyFiat  Currency = "fiat"  // 按法币金额输入，需要换算
)

// TransferIntent 用户在发送弹窗中填写的转账参数。
// 值类型，每次构建都会拷贝一份快照；Version 由会话在每次修改时单调递增。
type TransferIntent struct {
	Version       uint64
	Network       Network
	FromAccountID string
	ToAddress     string
	AssetID       AssetID
	Amount        string   // 十进制字符串，任何时候都不转成 float
	Currency      Currency // 为空视为 CurrencyToken
}

// TransactionPreview 一次成功构建的结果
type TransactionPreview struct {
	EncodedMessage         string // base64 编码的未签名 message，用于展示与后续签名
	MessageBytes           []byte
	FeeLamports            uint64 // 预估手续费（lamports）
	BuiltFromIntentVersion uint64
}

// Field 表单字段名
type Field string

const (
	FieldFromAccount Field = "from_account_id"
	FieldToAddress   Field = "to_address"
	FieldAsset       Field = "asset_id"
	FieldAmount      Field = "amount"
)

// AllFields 校验结果中始终包含的字段，顺序固定
var AllFields = []Field{FieldFromAccount, FieldToAddress, FieldAsset, FieldAmount}

// FieldError 字段错误。Message 为空表示“静默无效”：阻止提交但不展示错误文字
type FieldError struct {
	Message string
}

func (e *FieldError) Silent() bool {
	return e != nil && e.Message == ""
}

// ValidationResult 字段 -> 错误（nil 表示通过），每次都整体替换，不做局部合并
type ValidationResult map[Field]*FieldError

func (r ValidationResult) Valid() bool {
	for _, e := range r {
		if e != nil {
			return false
		}
	}
	return true
}

// Errors 只返回非 nil 的字段错误
func (r ValidationResult) Errors() map[Field]*FieldError {
	out := make(map[Field]*FieldError)
	for f, e := range r {
		if e != nil {
			out[f] = e
		}
	}
	return out
}
