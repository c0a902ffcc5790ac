package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"send-preview-sol/internal/logic/domain"
	"send-preview-sol/internal/logic/session"
	"send-preview-sol/internal/pkg/logger"
)

const maxCommandBytes = 1 << 20

// 命令类型，每行一个 JSON 对象
const (
	OpIntent    = "intent"    // 输入变化，走防抖
	OpBuild     = "build"     // 同步构建当前输入
	OpFlush     = "flush"     // 跳过防抖立即构建
	OpCancel    = "cancel"    // 取消待执行与进行中的构建
	OpReconcile = "reconcile" // 应用一笔已完成的转账
	OpMax       = "max"       // 当前输入的最大可转金额
	OpDecode    = "decode"    // 解析 SPL 转账指令数据（base58）
	OpFiat      = "fiat"      // 当前输入的美元估值
	OpMirror    = "mirror"    // 读回 Redis 中的余额镜像
	OpReset     = "reset"     // 关闭弹窗并开启新会话
)

type intentWire struct {
	FromAccountID string `json:"from_account_id"`
	ToAddress     string `json:"to_address"`
	AssetID       string `json:"asset_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency,omitempty"`
	Network       string `json:"network,omitempty"`
}

type legWire struct {
	Address  string          `json:"address"`
	Asset    string          `json:"asset"`
	Amount   decimal.Decimal `json:"amount"`
	Fungible *bool           `json:"fungible,omitempty"` // 缺省视为 true
}

type feeWire struct {
	Payer  string          `json:"payer"`
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

type transferWire struct {
	Signature string    `json:"signature"`
	From      []legWire `json:"from"`
	To        []legWire `json:"to"`
	Fees      []feeWire `json:"fees"`
}

// Command 一行输入
type Command struct {
	Op       string        `json:"op"`
	Intent   *intentWire   `json:"intent,omitempty"`
	Transfer *transferWire `json:"transfer,omitempty"`
	Data     string        `json:"data,omitempty"`
}

// Reply 一行输出，同步命令的结果与异步的会话事件共用
type Reply struct {
	Op        string            `json:"op,omitempty"`
	Event     string            `json:"event,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Version   uint64            `json:"version,omitempty"`
	Message   string            `json:"message,omitempty"`
	Fee       uint64            `json:"fee_lamports,omitempty"`
	Value     string            `json:"value,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	Balances  map[string]string `json:"balances,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// SessionFactory 由 ServiceContext.NewSession 提供
type SessionFactory func(sink session.Sink) *session.Session

// IntentReaderService 从输入流逐行读取命令驱动一个发送会话，结果以 JSON 行写到输出流
type IntentReaderService struct {
	newSession SessionFactory
	in         io.Reader
	out        *replyWriter

	mu      sync.Mutex
	session *session.Session

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func NewIntentReaderService(factory SessionFactory, in io.Reader, out io.Writer) *IntentReaderService {
	ctx, cancel := context.WithCancelCause(context.Background())
	s := &IntentReaderService{
		newSession: factory,
		in:         in,
		out:        &replyWriter{w: out},
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.session = s.open()
	return s
}

// Done 输入流读完后关闭
func (s *IntentReaderService) Done() <-chan struct{} {
	return s.done
}

func (s *IntentReaderService) Start() {
	defer close(s.done)

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxCommandBytes)
	for scanner.Scan() {
		if s.ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			s.out.write(Reply{Error: fmt.Sprintf("invalid command: %v", err)})
			continue
		}
		s.out.write(s.Handle(s.ctx, cmd))
	}
	if err := scanner.Err(); err != nil {
		logger.Errorf("[IntentReaderService] 读取输入失败: %v", err)
	}
	// 输入结束前把待执行的构建跑完
	s.current().Flush()
}

// Stop 不等待 Start 返回，阻塞中的读无法被打断
func (s *IntentReaderService) Stop() {
	s.cancel(errors.New("IntentReaderService stop"))
	s.current().Close()
}

func (s *IntentReaderService) open() *session.Session {
	sink := &replySink{out: s.out}
	sess := s.newSession(sink)
	sink.sessionID = sess.ID()
	sink.log = session.LogSink{SessionID: sess.ID()}
	logger.Infof("[IntentReaderService] 新会话: %s", sess.ID())
	return sess
}

func (s *IntentReaderService) current() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Handle 执行一条命令并返回同步结果
func (s *IntentReaderService) Handle(ctx context.Context, cmd Command) Reply {
	sess := s.current()
	reply := Reply{Op: cmd.Op, SessionID: sess.ID()}

	switch cmd.Op {
	case OpIntent:
		if cmd.Intent == nil {
			reply.Error = "missing intent"
			return reply
		}
		reply.Version = sess.OnIntentChanged(cmd.Intent.toDomain())

	case OpBuild:
		out, err := sess.BuildTransactionPreview(ctx, sess.Intent())
		if err != nil {
			reply.Error = err.Error()
			return reply
		}
		if out.Preview != nil {
			reply.Version = out.Preview.BuiltFromIntentVersion
			reply.Message = out.Preview.EncodedMessage
			reply.Fee = out.Preview.FeeLamports
		} else {
			reply.Errors = fieldErrors(out.Validation)
		}

	case OpFlush:
		sess.Flush()

	case OpCancel:
		sess.CancelPendingBuild()

	case OpReconcile:
		if cmd.Transfer == nil {
			reply.Error = "missing transfer"
			return reply
		}
		next, err := sess.ReconcileBalances(ctx, cmd.Transfer.toDomain())
		if err != nil {
			reply.Error = err.Error()
			return reply
		}
		reply.Balances = flattenSnapshot(next)

	case OpMax:
		amount, err := sess.MaxAmount(ctx)
		if err != nil {
			reply.Error = err.Error()
			return reply
		}
		reply.Value = amount.String()

	case OpDecode:
		data, err := base58.Decode(cmd.Data)
		if err != nil {
			reply.Error = fmt.Sprintf("invalid base58 data: %v", err)
			return reply
		}
		reply.Value = sess.DecodeTransferAmount(data).String()

	case OpFiat:
		value, ok := sess.FiatValue(sess.Intent())
		if !ok {
			reply.Error = "price unavailable"
			return reply
		}
		reply.Value = value

	case OpMirror:
		snapshot, err := sess.MirroredBalances(ctx)
		if err != nil {
			reply.Error = err.Error()
			return reply
		}
		reply.Balances = flattenSnapshot(snapshot)

	case OpReset:
		s.mu.Lock()
		s.session.Close()
		s.session = s.open()
		reply.SessionID = s.session.ID()
		s.mu.Unlock()

	default:
		reply.Error = fmt.Sprintf("unknown op %q", cmd.Op)
	}
	return reply
}

func (w *intentWire) toDomain() domain.TransferIntent {
	return domain.TransferIntent{
		Network:       domain.Network(w.Network),
		FromAccountID: w.FromAccountID,
		ToAddress:     w.ToAddress,
		AssetID:       domain.AssetID(w.AssetID),
		Amount:        w.Amount,
		Currency:      domain.Currency(w.Currency),
	}
}

func (w *transferWire) toDomain() domain.CompletedTransfer {
	legs := func(in []legWire) []domain.TransferLeg {
		out := make([]domain.TransferLeg, 0, len(in))
		for _, l := range in {
			out = append(out, domain.TransferLeg{
				Address:  l.Address,
				Asset:    domain.AssetID(l.Asset),
				Amount:   l.Amount,
				Fungible: l.Fungible == nil || *l.Fungible,
			})
		}
		return out
	}
	fees := make([]domain.FeeLeg, 0, len(w.Fees))
	for _, f := range w.Fees {
		fees = append(fees, domain.FeeLeg{Payer: f.Payer, Asset: domain.AssetID(f.Asset), Amount: f.Amount})
	}
	return domain.CompletedTransfer{
		Signature: w.Signature,
		From:      legs(w.From),
		To:        legs(w.To),
		Fees:      fees,
	}
}

func fieldErrors(r domain.ValidationResult) map[string]string {
	out := make(map[string]string)
	for f, e := range r.Errors() {
		out[string(f)] = e.Message
	}
	return out
}

// flattenSnapshot account|asset -> amount
func flattenSnapshot(s domain.BalanceSnapshot) map[string]string {
	out := make(map[string]string)
	for account, assets := range s {
		for id, b := range assets {
			out[account+"|"+string(id)] = b.Amount.String()
		}
	}
	return out
}

type replyWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *replyWriter) write(r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		logger.Errorf("[IntentReaderService] 序列化输出失败: %v", err)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(append(data, '\n')); err != nil {
		logger.Warnf("[IntentReaderService] 写输出失败: %v", err)
	}
}

// replySink 把会话的异步事件写成 JSON 行
type replySink struct {
	out       *replyWriter
	sessionID string
	log       session.LogSink
}

func (s *replySink) OnPreview(p domain.TransactionPreview) {
	s.log.OnPreview(p)
	s.out.write(Reply{
		Event:     "preview",
		SessionID: s.sessionID,
		Version:   p.BuiltFromIntentVersion,
		Message:   p.EncodedMessage,
		Fee:       p.FeeLamports,
	})
}

func (s *replySink) OnValidation(r domain.ValidationResult) {
	s.log.OnValidation(r)
	s.out.write(Reply{Event: "validation", SessionID: s.sessionID, Errors: fieldErrors(r)})
}

func (s *replySink) OnReset(err error) {
	s.log.OnReset(err)
	s.out.write(Reply{Event: "reset", SessionID: s.sessionID, Error: err.Error()})
}
