package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"

	"send-preview-sol/internal/cache"
	"send-preview-sol/internal/consts"
	"send-preview-sol/internal/logic/builder"
	"send-preview-sol/internal/logic/codec"
	"send-preview-sol/internal/logic/domain"
	"send-preview-sol/internal/logic/reconcile"
	"send-preview-sol/internal/logic/task"
	"send-preview-sol/internal/logic/validation"
	"send-preview-sol/internal/pkg/logger"
	"send-preview-sol/internal/pkg/metrics"
)

const publishTimeout = 5 * time.Second

var errNoMirror = errors.New("balance mirror not configured")

// RentSource 免租金最低余额
type RentSource interface {
	MinimumBalance(ctx context.Context) uint64
}

// PriceSource 资产美元价格，法币输入时使用
type PriceSource interface {
	PriceUSD(asset domain.Asset) (decimal.Decimal, bool)
}

type Options struct {
	Network            domain.Network
	Debounce           time.Duration
	DefaultFeeLamports uint64
}

type Deps struct {
	Services  builder.Services
	Balances  *cache.BalanceCache
	Rent      RentSource
	Prices    PriceSource   // 可选
	Mirror    BalanceMirror // 可选
	Publisher Publisher     // 可选
	Metrics   *metrics.PreviewMetrics
	Sink      Sink
}

// Outcome BuildTransactionPreview 的结果：Preview 为 nil 表示校验未通过
type Outcome struct {
	Preview    *domain.TransactionPreview
	Validation domain.ValidationResult
}

// Session 一个发送弹窗的生命周期：
// 输入变化 -> 防抖 -> 校验门禁 -> 单飞构建 -> 推送给 Sink；
// 转账完成后独立对账更新余额缓存。
type Session struct {
	id   string
	opt  Options
	deps Deps
	log  *zap.SugaredLogger

	builder    *builder.Builder
	reconciler *reconcile.Reconciler
	supervisor *task.Supervisor[builder.Result]
	gate       *task.Gate[domain.TransferIntent]

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	version uint64
	live    domain.TransferIntent
	lastFee uint64

	// startMu 保证版本检查与 supervisor.Start 原子执行
	startMu   sync.Mutex
	started   uint64 // 已启动构建的最大 intent 版本
	committed uint64 // 已提交到 Sink 的最大 intent 版本
}

func New(deps Deps, opt Options) *Session {
	if opt.DefaultFeeLamports == 0 {
		opt.DefaultFeeLamports = consts.DefaultFeeLamports
	}
	if deps.Balances == nil {
		deps.Balances = cache.NewBalanceCache()
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		opt:        opt,
		deps:       deps,
		log:        logger.With("session", id),
		builder:    builder.New(deps.Services),
		reconciler: reconcile.New(deps.Services.Accounts),
		supervisor: task.NewSupervisor[builder.Result](),
		ctx:        ctx,
		cancel:     cancel,
		lastFee:    opt.DefaultFeeLamports,
	}
	s.gate = task.NewGate(opt.Debounce, func(intent domain.TransferIntent) {
		_, _ = s.BuildTransactionPreview(s.ctx, intent)
	})
	s.gate.OnCoalesced(deps.Metrics.ObserveCoalesced)
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Intent 当前输入的拷贝
func (s *Session) Intent() domain.TransferIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// OnIntentChanged 记录最新输入并触发防抖构建，返回分配的版本号
func (s *Session) OnIntentChanged(intent domain.TransferIntent) uint64 {
	s.mu.Lock()
	s.version++
	intent.Version = s.version
	if intent.Network == "" {
		intent.Network = s.opt.Network
	}
	s.live = intent
	s.mu.Unlock()

	s.gate.Trigger(intent)
	return intent.Version
}

// Flush 跳过防抖窗口立即构建（例如用户直接点击下一步）
func (s *Session) Flush() {
	s.gate.Flush()
}

// CancelPendingBuild 丢弃尚未触发的输入与正在进行的构建
func (s *Session) CancelPendingBuild() {
	s.gate.Cancel()
	s.supervisor.Cancel()
}

// Close 关闭弹窗：取消一切进行中的工作
func (s *Session) Close() {
	s.CancelPendingBuild()
	s.cancel()
	if s.deps.Mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.deps.Mirror.Delete(ctx, s.id); err != nil {
			s.log.Warnf("[session] drop mirrored balances failed: %v", err)
		}
	}
}

// BuildTransactionPreview 校验并构建预览。
// 被更新的构建取代或被取消时返回 task.ErrSuperseded / task.ErrCancelled，且不会通知 Sink；
// 构建失败时 Sink 收到 OnReset(domain.ErrSimulationFailed)，返回的错误同时包装了具体原因。
// intent.Version 低于已启动的版本时直接返回 task.ErrSuperseded，版本为 0 时由会话分配。
func (s *Session) BuildTransactionPreview(ctx context.Context, intent domain.TransferIntent) (Outcome, error) {
	start := time.Now()
	intent = s.stamp(intent)

	asset, known := s.deps.Services.Assets.Get(intent.AssetID)
	kind := "token"
	if known && asset.Native {
		kind = "native"
	}

	// 任何可能阻塞的查询（租金、价格）都在启动之后执行，先到的新版本不会被旧版本取代
	var resolved domain.TransferIntent
	gen, h, ok := s.startVersion(ctx, intent.Version, func(ctx context.Context) (builder.Result, error) {
		tokenIntent, fiatErr := s.resolveAmount(intent, asset, known)
		resolved = tokenIntent
		state := s.crossFieldState(ctx, intent.FromAccountID, intent.Network)
		if ctx.Err() != nil {
			return builder.Result{}, context.Cause(ctx)
		}
		if fiatErr != nil {
			result := s.builder.Engine().Validate(tokenIntent, state)
			result[domain.FieldAmount] = fiatErr
			return builder.Result{Validation: result}, nil
		}
		return s.builder.Build(ctx, tokenIntent, state)
	})
	if !ok {
		s.deps.Metrics.ObserveBuild(metrics.OutcomeCancelled, kind, time.Since(start))
		s.log.Debugf("[session] build v%d dropped: stale version", intent.Version)
		return Outcome{}, task.ErrSuperseded
	}
	res, err := h.Wait()

	switch {
	case task.IsCancellation(err):
		s.deps.Metrics.ObserveBuild(metrics.OutcomeCancelled, kind, time.Since(start))
		s.log.Debugf("[session] build v%d dropped: %v", intent.Version, err)
		return Outcome{}, err

	case err != nil:
		s.log.Errorf("[session] build v%d failed: %v", intent.Version, err)
		if !s.commit(gen, intent.Version, func() { s.notifyReset(domain.ErrSimulationFailed) }) {
			return Outcome{}, task.ErrSuperseded
		}
		s.deps.Metrics.ObserveBuild(metrics.OutcomeFailed, kind, time.Since(start))
		return Outcome{}, fmt.Errorf("%w: %w", domain.ErrSimulationFailed, err)
	}

	out := Outcome{Preview: res.Preview, Validation: res.Validation}
	if !s.commit(gen, intent.Version, func() { s.apply(out) }) {
		s.deps.Metrics.ObserveBuild(metrics.OutcomeCancelled, kind, time.Since(start))
		return Outcome{}, task.ErrSuperseded
	}

	if out.Preview == nil {
		s.deps.Metrics.ObserveBuild(metrics.OutcomeInvalid, kind, time.Since(start))
		return out, nil
	}
	s.deps.Metrics.ObserveBuild(metrics.OutcomeBuilt, kind, time.Since(start))
	s.publishPreview(resolved, *out.Preview)
	return out, nil
}

// stamp 补全网络与版本号；外部传入的版本号推高会话计数，保证后续输入的版本更大
func (s *Session) stamp(intent domain.TransferIntent) domain.TransferIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if intent.Network == "" {
		intent.Network = s.opt.Network
	}
	if intent.Version == 0 {
		s.version++
		intent.Version = s.version
	} else if intent.Version > s.version {
		s.version = intent.Version
	}
	return intent
}

// startVersion 版本不低于已启动的最大版本时才启动，检查与启动在同一把锁内
func (s *Session) startVersion(ctx context.Context, version uint64, fn func(ctx context.Context) (builder.Result, error)) (uint64, *task.Handle[builder.Result], bool) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if version < s.started {
		return 0, nil, false
	}
	s.started = version
	gen, h := s.supervisor.Start(ctx, fn)
	return gen, h, true
}

// commit 代号仍为当前且版本不低于已提交的版本时执行 apply
func (s *Session) commit(gen, version uint64, apply func()) bool {
	applied := false
	ok := s.supervisor.Commit(gen, func() {
		s.mu.Lock()
		if version < s.committed {
			s.mu.Unlock()
			return
		}
		s.committed = version
		s.mu.Unlock()
		apply()
		applied = true
	})
	return ok && applied
}

// apply 在单飞提交锁内执行，只有最新一次构建能走到这里
func (s *Session) apply(out Outcome) {
	if out.Preview != nil {
		s.mu.Lock()
		s.lastFee = out.Preview.FeeLamports
		s.mu.Unlock()
	}
	if s.deps.Sink == nil {
		return
	}
	s.deps.Sink.OnValidation(out.Validation)
	if out.Preview != nil {
		s.deps.Sink.OnPreview(*out.Preview)
	}
}

func (s *Session) notifyReset(err error) {
	if s.deps.Sink != nil {
		s.deps.Sink.OnReset(err)
	}
}

// resolveAmount 法币输入换算为资产数量，失败时返回金额字段错误
func (s *Session) resolveAmount(intent domain.TransferIntent, asset domain.Asset, known bool) (domain.TransferIntent, *domain.FieldError) {
	if intent.Currency != domain.CurrencyFiat || !known || intent.Amount == "" {
		return intent, nil
	}
	fiat, err := validation.ParseAmount(intent.Amount)
	if err != nil {
		return intent, nil // 交给金额格式校验
	}
	if s.deps.Prices == nil {
		return intent, &domain.FieldError{Message: "Price unavailable"}
	}
	price, ok := s.deps.Prices.PriceUSD(asset)
	if !ok {
		return intent, &domain.FieldError{Message: "Price unavailable"}
	}
	amount, err := validation.ConvertFiatToToken(fiat, price, asset.Decimals)
	if err != nil {
		return intent, &domain.FieldError{Message: "Price unavailable"}
	}
	intent.Amount = amount.String()
	intent.Currency = domain.CurrencyToken
	return intent, nil
}

func (s *Session) crossFieldState(ctx context.Context, accountID string, network domain.Network) validation.CrossFieldState {
	s.mu.Lock()
	fee := s.lastFee
	s.mu.Unlock()

	rent := consts.DefaultRentExemptionLamports
	if s.deps.Rent != nil {
		rent = s.deps.Rent.MinimumBalance(ctx)
	}
	if network == "" {
		network = s.opt.Network
	}
	return validation.CrossFieldState{
		Balances:              s.deps.Balances.Account(accountID),
		NativeAssetID:         network.NativeAssetID(),
		FeeLamports:           fee,
		RentExemptionLamports: rent,
	}
}

func (s *Session) publishPreview(intent domain.TransferIntent, preview domain.TransactionPreview) {
	if s.deps.Publisher == nil {
		return
	}
	threading.GoSafe(func() {
		ctx, cancel := context.WithTimeout(s.ctx, publishTimeout)
		defer cancel()
		var from string
		if account, err := s.deps.Services.Accounts.GetAccount(ctx, intent.FromAccountID); err == nil {
			from = account.Address
		}
		if err := s.deps.Publisher.PublishPreview(ctx, s.id, intent, from, preview); err != nil {
			s.log.Warnf("[session] publish preview failed: %v", err)
		}
	})
}

// ReconcileBalances 转账完成后更新余额缓存，对账之间串行执行
func (s *Session) ReconcileBalances(ctx context.Context, completed domain.CompletedTransfer) (domain.BalanceSnapshot, error) {
	var stats reconcile.Stats
	next, err := s.deps.Balances.Update(func(current domain.BalanceSnapshot) (domain.BalanceSnapshot, error) {
		updated, st, err := s.reconciler.Reconcile(ctx, current, completed)
		stats = st
		return updated, err
	})
	s.deps.Metrics.ObserveReconcile(err == nil)
	if err != nil {
		s.log.Errorf("[session] reconcile %s failed: %v", completed.Signature, err)
		return nil, err
	}
	s.log.Infof("[session] reconciled %s: applied=%d skipped=%d", completed.Signature, stats.Applied, stats.Skipped)

	if s.deps.Mirror != nil {
		if err := s.deps.Mirror.Save(ctx, s.id, next); err != nil {
			s.log.Warnf("[session] mirror balances failed: %v", err)
		}
	}
	if s.deps.Publisher != nil {
		snapshot := completed
		threading.GoSafe(func() {
			pctx, cancel := context.WithTimeout(s.ctx, publishTimeout)
			defer cancel()
			if err := s.deps.Publisher.PublishReconcile(pctx, s.id, snapshot, stats.Applied, stats.Skipped); err != nil {
				s.log.Warnf("[session] publish reconcile failed: %v", err)
			}
		})
	}
	return next, nil
}

// DecodeTransferAmount 解析 SPL 转账指令数据中的金额（固定 1e6 精度）
func (s *Session) DecodeTransferAmount(data []byte) decimal.Decimal {
	return codec.DecodeTransferAmount(data)
}

// MaxAmount 当前账户、资产下可转出的最大金额
func (s *Session) MaxAmount(ctx context.Context) (decimal.Decimal, error) {
	intent := s.Intent()
	asset, err := s.deps.Services.Assets.MustGet(intent.AssetID)
	if err != nil {
		return decimal.Zero, err
	}
	return validation.MaxSendable(asset, s.crossFieldState(ctx, intent.FromAccountID, intent.Network))
}

// FiatValue 当前输入金额的美元估值（两位小数），价格不可用时 ok=false
func (s *Session) FiatValue(intent domain.TransferIntent) (string, bool) {
	if s.deps.Prices == nil || intent.Currency == domain.CurrencyFiat {
		return "", false
	}
	asset, ok := s.deps.Services.Assets.Get(intent.AssetID)
	if !ok {
		return "", false
	}
	amount, err := validation.ParseAmount(intent.Amount)
	if err != nil {
		return "", false
	}
	price, ok := s.deps.Prices.PriceUSD(asset)
	if !ok {
		return "", false
	}
	return validation.FormatFiat(amount.Mul(price)), true
}

// MirroredBalances 读回本会话写入 Redis 的余额镜像
func (s *Session) MirroredBalances(ctx context.Context) (domain.BalanceSnapshot, error) {
	if s.deps.Mirror == nil {
		return nil, errNoMirror
	}
	return s.deps.Mirror.Load(ctx, s.id)
}

// ApplyBalances 全量刷新某账户余额（与对账互斥）
func (s *Session) ApplyBalances(accountID string, balances map[domain.AssetID]domain.Balance) {
	s.deps.Balances.ReplaceAccount(accountID, balances)
}
