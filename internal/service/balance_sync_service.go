package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"send-preview-sol/internal/logic/domain"
	"send-preview-sol/internal/pkg/logger"
	"send-preview-sol/internal/pkg/metrics"
)

type accountLister interface {
	ListAccounts(ctx context.Context) ([]domain.Account, error)
}

type balanceFetcher interface {
	Fetch(ctx context.Context, account domain.Account, assets []domain.Asset) (map[domain.AssetID]domain.Balance, error)
}

type balanceWriter interface {
	ReplaceAccount(accountID string, balances map[domain.AssetID]domain.Balance)
}

type BalanceSyncOption struct {
	Interval    time.Duration
	Timeout     time.Duration // 单次全量刷新的超时
	Concurrency int
}

// BalanceSyncService 定时从链上全量刷新账户余额，覆盖对账产生的乐观值
type BalanceSyncService struct {
	accounts accountLister
	assets   *domain.AssetRegistry
	fetcher  balanceFetcher
	balances balanceWriter
	metrics  *metrics.PreviewMetrics
	opt      BalanceSyncOption

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func NewBalanceSyncService(
	accounts accountLister,
	assets *domain.AssetRegistry,
	fetcher balanceFetcher,
	balances balanceWriter,
	m *metrics.PreviewMetrics,
	opt BalanceSyncOption,
) *BalanceSyncService {
	if opt.Concurrency <= 0 {
		opt.Concurrency = 4
	}
	if opt.Interval <= 0 {
		opt.Interval = 30 * time.Second
	}
	if opt.Timeout <= 0 {
		opt.Timeout = opt.Interval
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &BalanceSyncService{
		accounts: accounts,
		assets:   assets,
		fetcher:  fetcher,
		balances: balances,
		metrics:  m,
		opt:      opt,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (s *BalanceSyncService) Start() {
	defer close(s.done)

	if err := s.Refresh(s.ctx); err != nil {
		logger.Warnf("[BalanceSyncService] 初始余额同步失败: %v", err)
	}

	ticker := time.NewTicker(s.opt.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Refresh(s.ctx); err != nil {
				logger.Warnf("[BalanceSyncService] 周期性刷新失败: %v", err)
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *BalanceSyncService) Stop() {
	s.cancel(errors.New("BalanceSyncService stop"))
	<-s.done
}

// Refresh 并发拉取所有账户余额；单个账户失败不影响其它账户，返回合并后的错误
func (s *BalanceSyncService) Refresh(parent context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[BalanceSyncService] refresh panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("refresh panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(parent, s.opt.Timeout)
	defer cancel()

	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	assets := s.assets.All()

	start := time.Now()
	errs := make([]error, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opt.Concurrency)
	for i, account := range accounts {
		i, account := i, account
		g.Go(func() error {
			balances, err := s.fetcher.Fetch(gctx, account, assets)
			s.metrics.ObserveBalanceRefresh(err == nil)
			if err != nil {
				errs[i] = fmt.Errorf("account %s: %w", account.ID, err)
				return nil
			}
			s.balances.ReplaceAccount(account.ID, balances)
			return nil
		})
	}
	_ = g.Wait()

	logger.Debugf("[BalanceSyncService] 刷新完成: accounts=%d, 耗时=%v", len(accounts), time.Since(start))
	return errors.Join(errs...)
}
