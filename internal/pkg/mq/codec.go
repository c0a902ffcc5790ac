package mq

import (
	"encoding/binary"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// 事件类型，写在消息体前 4 字节
const (
	EventPreviewBuilt      uint32 = 1
	EventBalanceReconciled uint32 = 2
)

// EncodeEvent 前 4 字节为事件类型（uint32 小端），后续为 protobuf 序列化数据
func EncodeEvent(eventType uint32, msg proto.Message) ([]byte, error) {
	const extraBuffer = 32

	size := proto.Size(msg)
	buf := make([]byte, 4, 4+size+extraBuffer)
	binary.LittleEndian.PutUint32(buf[:4], eventType)

	opts := proto.MarshalOptions{Deterministic: true}
	result, err := opts.MarshalAppend(buf, msg)
	if err != nil {
		return nil, fmt.Errorf("EncodeEvent: marshal %T: %w", msg, err)
	}
	return result, nil
}

// DecodeEvent EncodeEvent 的逆操作，消息体为 structpb.Struct
func DecodeEvent(data []byte) (uint32, *structpb.Struct, error) {
	if len(data) < 4 {
		return 0, nil, errors.New("event too short")
	}
	payload := &structpb.Struct{}
	if err := proto.Unmarshal(data[4:], payload); err != nil {
		return 0, nil, fmt.Errorf("DecodeEvent: %w", err)
	}
	return binary.LittleEndian.Uint32(data[:4]), payload, nil
}
