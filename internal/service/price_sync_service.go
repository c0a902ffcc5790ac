package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"runtime/debug"
	"time"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/shopspring/decimal"

	"send-preview-sol/internal/cache"
	"send-preview-sol/internal/consts"
	"send-preview-sol/internal/pkg/logger"
	"send-preview-sol/internal/pkg/types"
)

const maxPriceAgeS = 120

// accountReader *client.Client 中用到的方法
type accountReader interface {
	GetMultipleAccounts(ctx context.Context, base58Addrs []string) ([]client.AccountInfo, error)
}

// PriceSyncService 定时读取 Pyth 价格账户，写入 PriceCache（法币输入换算用）
type PriceSyncService struct {
	priceCache *cache.PriceCache
	client     accountReader
	interval   time.Duration
	timeout    time.Duration
	accounts   []string
	tokens     []types.Pubkey
	ctx        context.Context
	cancel     context.CancelCauseFunc
	done       chan struct{}
}

func NewPriceSyncService(endpoint string, interval, timeout time.Duration, priceCache *cache.PriceCache) *PriceSyncService {
	return newPriceSyncService(client.NewClient(endpoint), interval, timeout, priceCache)
}

func newPriceSyncService(reader accountReader, interval, timeout time.Duration, priceCache *cache.PriceCache) *PriceSyncService {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &PriceSyncService{
		priceCache: priceCache,
		client:     reader,
		interval:   interval,
		timeout:    timeout,
		accounts: []string{
			consts.PythSOLAccount,
			consts.PythUSDCAccount,
			consts.PythUSDTAccount,
		},
		tokens: []types.Pubkey{
			consts.WSOLMint,
			consts.USDCMint,
			consts.USDTMint,
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *PriceSyncService) Start() {
	defer close(s.done)

	// 价格只影响法币输入，初始化失败不阻塞启动
	if err := s.update(); err != nil {
		logger.Warnf("[PriceSyncService] 初始价格同步失败: %v", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.update(); err != nil {
				logger.Warnf("[PriceSyncService] 周期性更新失败: %v", err)
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *PriceSyncService) Stop() {
	s.cancel(errors.New("PriceSyncService stop"))
	<-s.done
}

func (s *PriceSyncService) update() (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[PriceSyncService] update panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("update panic: %v", r)
		}
	}()

	prices, err := s.fetchPriceAccounts()
	if err != nil {
		return err
	}
	s.priceCache.Insert(prices)
	return nil
}

func (s *PriceSyncService) fetchPriceAccounts() (map[types.Pubkey]cache.TokenPricePoint, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	infos, err := s.client.GetMultipleAccounts(ctx, s.accounts)
	if err != nil {
		return nil, fmt.Errorf("GetMultipleAccounts failed: %w", err)
	}
	logger.Debugf("[PriceSyncService] GetMultipleAccounts 成功, 账户数: %d, 耗时: %v", len(s.accounts), time.Since(start))

	if len(infos) != len(s.accounts) {
		return nil, fmt.Errorf("返回账户数与请求不一致: got=%d want=%d", len(infos), len(s.accounts))
	}

	now := time.Now().Unix()
	result := make(map[types.Pubkey]cache.TokenPricePoint, len(infos))
	for i, info := range infos {
		token := s.tokens[i]
		if len(info.Data) == 0 {
			logger.Warnf("[PriceSyncService] 账户数据为空: token=%s account=%s", token, s.accounts[i])
			continue
		}
		point, err := parsePythPriceAccount(token, info.Data, now)
		if err != nil {
			logger.Warnf("[PriceSyncService] 解析失败: token=%s account=%s err=%v", token, s.accounts[i], err)
			continue
		}
		result[token] = point
	}
	return result, nil
}

// 参考: https://github.com/pyth-network/pyth-client-js/blob/main/src/index.ts - parsePriceData
//
//	[20:24]  exponent (i32)
//	[96:104] publish timestamp
//	[208:240] aggregate: price i64 | conf u64 | status u32 | corp_act u32 | pub_slot u64
func parsePythPriceAccount(token types.Pubkey, data []byte, now int64) (cache.TokenPricePoint, error) {
	if len(data) < 240 {
		return cache.TokenPricePoint{}, errors.New("price account data too short")
	}

	exponent := int32(binary.LittleEndian.Uint32(data[20:24]))
	publishTs := int64(binary.LittleEndian.Uint64(data[96:104]))

	agg := data[208:240]
	price := decimal.New(int64(binary.LittleEndian.Uint64(agg[0:8])), exponent)
	conf := decimal.NewFromBigInt(new(big.Int).SetUint64(binary.LittleEndian.Uint64(agg[8:16])), exponent)
	status := binary.LittleEndian.Uint32(agg[16:20])

	if status != 1 {
		return cache.TokenPricePoint{}, fmt.Errorf("price status not trading: token=%s", token)
	}
	if !price.IsPositive() {
		return cache.TokenPricePoint{}, fmt.Errorf("non-positive price: token=%s", token)
	}
	if conf.GreaterThan(price.Mul(maxConfidenceRatio(token))) {
		return cache.TokenPricePoint{}, fmt.Errorf("confidence too low: token=%s, price=%s, conf=%s", token, price, conf)
	}
	if now-publishTs > maxPriceAgeS {
		return cache.TokenPricePoint{}, fmt.Errorf("price too old: token=%s, ts=%d", token, publishTs)
	}
	return cache.TokenPricePoint{PriceUsd: price, Timestamp: publishTs}, nil
}

func maxConfidenceRatio(token types.Pubkey) decimal.Decimal {
	switch token {
	case consts.USDTMint, consts.USDCMint:
		return decimal.RequireFromString("0.005") // 稳定币 0.5%
	case consts.WSOLMint:
		return decimal.RequireFromString("0.02") // SOL 2%
	default:
		return decimal.RequireFromString("0.05")
	}
}
