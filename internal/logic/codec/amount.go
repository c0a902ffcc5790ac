package codec

import (
	"math/big"

	sdktoken "github.com/blocto/solana-go-sdk/program/token"
	"github.com/near/borsh-go"
	"github.com/shopspring/decimal"

	"send-preview-sol/internal/consts"
	"send-preview-sol/internal/pkg/logger"
)

// 合约源代码:
// SplToken: https://github.com/solana-program/token/blob/main/program/src/instruction.rs
//
// Transfer:        [0]=instr, [1:9]=amount (u64 LE)
// TransferChecked: [0]=instr, [1:9]=amount (u64 LE), [9]=decimals

const (
	transferPayloadLen        = 9
	transferCheckedPayloadLen = 10
)

var (
	OpcodeTransfer        = uint8(sdktoken.InstructionTransfer)
	OpcodeTransferChecked = uint8(sdktoken.InstructionTransferChecked)
)

// transferLayout borsh 布局，字段顺序即字节顺序
type transferLayout struct {
	Opcode uint8
	Amount uint64
}

// TransferPayload 解码后的转账指令数据
type TransferPayload struct {
	Opcode   uint8
	Raw      uint64 // 最小单位数量
	Decimals *uint8 // 仅 TransferChecked 携带
}

// DecodeTransfer 解析转账指令数据。
// 对畸形数据保持宽容：缺失字节按 0 处理，多余字节忽略，永远不返回错误。
func DecodeTransfer(data []byte) (payload TransferPayload) {
	var buf [transferPayloadLen]byte
	copy(buf[:], data)

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[codec][panic] borsh.Deserialize panic: %v, len=%d", r, len(data))
			payload = TransferPayload{}
		}
	}()

	var layout transferLayout
	if err := borsh.Deserialize(&layout, buf[:]); err != nil {
		logger.Errorf("[codec] failed to deserialize transfer payload: %v, len=%d", err, len(data))
		return TransferPayload{}
	}

	payload = TransferPayload{Opcode: layout.Opcode, Raw: layout.Amount}
	if layout.Opcode == OpcodeTransferChecked && len(data) >= transferCheckedPayloadLen {
		d := data[transferCheckedPayloadLen-1]
		payload.Decimals = &d
	}
	return payload
}

// EncodeTransfer 编码 9 字节的 Transfer 指令数据，DecodeTransfer 的逆操作
func EncodeTransfer(opcode uint8, raw uint64) []byte {
	data, err := borsh.Serialize(transferLayout{Opcode: opcode, Amount: raw})
	if err != nil {
		// 定长结构体，不会失败
		panic(err)
	}
	return data
}

// DecodeTransferAmount 按固定精度 1e6 把指令数据中的 raw amount 换算为十进制金额
func DecodeTransferAmount(data []byte) decimal.Decimal {
	return DecodeTransferAmountWithDecimals(data, consts.DecodeAmountDecimals)
}

// DecodeTransferAmountWithDecimals raw / 10^decimals，通过调整指数实现精确除法，不经过 float
func DecodeTransferAmountWithDecimals(data []byte, decimals uint8) decimal.Decimal {
	payload := DecodeTransfer(data)
	return FromBaseUnits(payload.Raw, decimals)
}

// FromBaseUnits 最小单位 -> UI 金额
func FromBaseUnits(raw uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(decimals))
}

// ToBaseUnits UI 金额 -> 最小单位。
// 超出精度的部分不做舍入，exact=false 交给调用方决定如何提示。
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (raw *big.Int, exact bool) {
	scaled := amount.Shift(int32(decimals))
	truncated := scaled.Truncate(0)
	return truncated.BigInt(), truncated.Equal(scaled)
}
