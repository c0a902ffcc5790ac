package events

import (
	"context"

	"send-preview-sol/internal/logic/domain"
)

// Nop 未配置 Kafka 时使用
type Nop struct{}

func (Nop) PublishPreview(context.Context, string, domain.TransferIntent, string, domain.TransactionPreview) error {
	return nil
}

func (Nop) PublishReconcile(context.Context, string, domain.CompletedTransfer, int, int) error {
	return nil
}
