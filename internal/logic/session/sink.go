package session

import (
	"context"
	"strings"

	"send-preview-sol/internal/logic/domain"
	"send-preview-sol/internal/pkg/logger"
)

// Sink 接收会话产出的界面状态，渲染在核心之外
type Sink interface {
	OnPreview(preview domain.TransactionPreview)
	OnValidation(result domain.ValidationResult)
	// OnReset 预览被清空，err 是展示给用户的通用错误
	OnReset(err error)
}

// Publisher 构建与对账事件的外部发布（Kafka），失败只记日志
type Publisher interface {
	PublishPreview(ctx context.Context, sessionID string, intent domain.TransferIntent, fromAddress string, preview domain.TransactionPreview) error
	PublishReconcile(ctx context.Context, sessionID string, transfer domain.CompletedTransfer, applied, skipped int) error
}

// BalanceMirror 余额缓存的外部镜像（Redis），按会话隔离
type BalanceMirror interface {
	Save(ctx context.Context, sessionID string, snapshot domain.BalanceSnapshot) error
	Load(ctx context.Context, sessionID string) (domain.BalanceSnapshot, error)
	Delete(ctx context.Context, sessionID string) error
}

// LogSink 把结果写日志，用于命令行驱动
type LogSink struct {
	SessionID string
}

func (s LogSink) OnPreview(p domain.TransactionPreview) {
	logger.Infof("[session][%s] preview: version=%d fee=%d message=%s",
		s.SessionID, p.BuiltFromIntentVersion, p.FeeLamports, p.EncodedMessage)
}

func (s LogSink) OnValidation(r domain.ValidationResult) {
	var parts []string
	for _, f := range domain.AllFields {
		if e := r[f]; e != nil {
			if e.Silent() {
				parts = append(parts, string(f)+"=<blocked>")
			} else {
				parts = append(parts, string(f)+"="+e.Message)
			}
		}
	}
	if len(parts) == 0 {
		logger.Infof("[session][%s] validation: ok", s.SessionID)
		return
	}
	logger.Infof("[session][%s] validation: %s", s.SessionID, strings.Join(parts, ", "))
}

func (s LogSink) OnReset(err error) {
	logger.Warnf("[session][%s] preview reset: %v", s.SessionID, err)
}
