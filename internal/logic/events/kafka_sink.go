package events

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"send-preview-sol/internal/logic/domain"
	"send-preview-sol/internal/pkg/logger"
	"send-preview-sol/internal/pkg/mq"
	"send-preview-sol/internal/pkg/types"
	"send-preview-sol/internal/pkg/utils"
)

const defaultSendTimeout = 5 * time.Second

type KafkaSinkOption struct {
	PreviewTopic      string
	PreviewPartitions int
	BalanceTopic      string
	BalancePartitions int
	SendTimeout       time.Duration
}

// KafkaSink 把预览构建、余额对账结果发布到 Kafka。
// 按付款地址分区，同一账户的事件保持有序。
type KafkaSink struct {
	producer mq.Producer
	opt      KafkaSinkOption
}

func NewKafkaSink(producer mq.Producer, opt KafkaSinkOption) *KafkaSink {
	if opt.SendTimeout <= 0 {
		opt.SendTimeout = defaultSendTimeout
	}
	return &KafkaSink{producer: producer, opt: opt}
}

func (s *KafkaSink) PublishPreview(ctx context.Context, sessionID string, intent domain.TransferIntent, fromAddress string, preview domain.TransactionPreview) error {
	payload, err := structpb.NewStruct(map[string]interface{}{
		"session_id":      sessionID,
		"network":         string(intent.Network),
		"from_account_id": intent.FromAccountID,
		"from_address":    fromAddress,
		"to_address":      intent.ToAddress,
		"asset_id":        string(intent.AssetID),
		"amount":          intent.Amount,
		"intent_version":  fmt.Sprintf("%d", preview.BuiltFromIntentVersion),
		"fee_lamports":    fmt.Sprintf("%d", preview.FeeLamports),
		"message":         preview.EncodedMessage,
	})
	if err != nil {
		return fmt.Errorf("build preview event: %w", err)
	}
	return s.publish(ctx, s.opt.PreviewTopic, s.opt.PreviewPartitions, fromAddress, mq.EventPreviewBuilt, payload)
}

func (s *KafkaSink) PublishReconcile(ctx context.Context, sessionID string, transfer domain.CompletedTransfer, applied, skipped int) error {
	legs := make([]interface{}, 0, len(transfer.From)+len(transfer.To))
	for _, leg := range transfer.From {
		legs = append(legs, legMap("from", leg))
	}
	for _, leg := range transfer.To {
		legs = append(legs, legMap("to", leg))
	}
	fees := make([]interface{}, 0, len(transfer.Fees))
	for _, fee := range transfer.Fees {
		fees = append(fees, map[string]interface{}{
			"payer":  fee.Payer,
			"asset":  string(fee.Asset),
			"amount": fee.Amount.String(),
		})
	}

	payload, err := structpb.NewStruct(map[string]interface{}{
		"session_id": sessionID,
		"signature":  transfer.Signature,
		"legs":       legs,
		"fees":       fees,
		"applied":    applied,
		"skipped":    skipped,
	})
	if err != nil {
		return fmt.Errorf("build reconcile event: %w", err)
	}

	var payer string
	if len(transfer.Fees) > 0 {
		payer = transfer.Fees[0].Payer
	} else if len(transfer.From) > 0 {
		payer = transfer.From[0].Address
	}
	return s.publish(ctx, s.opt.BalanceTopic, s.opt.BalancePartitions, payer, mq.EventBalanceReconciled, payload)
}

func legMap(side string, leg domain.TransferLeg) map[string]interface{} {
	return map[string]interface{}{
		"side":     side,
		"address":  leg.Address,
		"asset":    string(leg.Asset),
		"amount":   leg.Amount.String(),
		"fungible": leg.Fungible,
	}
}

func (s *KafkaSink) publish(ctx context.Context, topic string, partitions int, address string, eventType uint32, payload *structpb.Struct) error {
	if topic == "" {
		return nil
	}
	value, err := mq.EncodeEvent(eventType, payload)
	if err != nil {
		return err
	}

	var partition int32
	if pk, err := types.TryPubkeyFromBase58(address); err == nil && partitions > 1 {
		partition = int32(utils.PartitionHashBytes(pk[:], uint32(partitions)))
	}

	job := &mq.KafkaJob{Topic: topic, Partition: partition, Key: []byte(address), Value: value}
	if err := mq.SendKafkaJob(ctx, s.producer, job, s.opt.SendTimeout); err != nil {
		logger.Warnf("[mq] 事件发送失败: topic=%s type=%d err=%v", topic, eventType, err)
		return err
	}
	return nil
}
