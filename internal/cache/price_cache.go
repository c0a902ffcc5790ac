package cache

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"send-preview-sol/internal/consts"
	"send-preview-sol/internal/logic/domain"
	"send-preview-sol/internal/pkg/types"
)

type TokenPricePoint struct {
	Timestamp int64
	PriceUsd  decimal.Decimal
}

// PriceCache mint -> 按时间升序的价格点，原生 SOL 使用 WSOL mint
type PriceCache struct {
	mu      sync.RWMutex
	history map[types.Pubkey][]TokenPricePoint
}

func NewPriceCache() *PriceCache {
	return &PriceCache{
		history: make(map[types.Pubkey][]TokenPricePoint),
	}
}

func (pc *PriceCache) Insert(newPoints map[types.Pubkey]TokenPricePoint) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	const maxCapacity = 400
	const retainCount = 300

	for token, point := range newPoints {
		points, ok := pc.history[token]
		if !ok {
			points = make([]TokenPricePoint, 0, maxCapacity)
			pc.history[token] = append(points, point)
			continue
		}

		if len(points) >= maxCapacity {
			// 后半段挪到前面，截断为 retainCount
			copy(points[:retainCount], points[len(points)-retainCount:])
			points = points[:retainCount]
		}

		last := points[len(points)-1]
		if point.Timestamp > last.Timestamp {
			pc.history[token] = append(points, point)
			continue
		}

		idx := sort.Search(len(points), func(i int) bool {
			return points[i].Timestamp >= point.Timestamp
		})
		if idx < len(points) && points[idx].Timestamp == point.Timestamp {
			pc.history[token] = points
			continue
		}
		points = append(points, TokenPricePoint{})
		copy(points[idx+1:], points[idx:])
		points[idx] = point
		pc.history[token] = points
	}
}

// PriceAt 取 ts 时刻（含）之前最近的价格；ts 早于所有点时取最早的点
func (pc *PriceCache) PriceAt(token types.Pubkey, ts int64) (decimal.Decimal, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	points := pc.history[token]
	if len(points) == 0 {
		return decimal.Zero, false
	}
	idx := sort.Search(len(points), func(i int) bool {
		return points[i].Timestamp > ts
	})
	if idx > 0 {
		idx--
	}
	return points[idx].PriceUsd, true
}

// Latest 最新价格
func (pc *PriceCache) Latest(token types.Pubkey) (decimal.Decimal, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	points := pc.history[token]
	if len(points) == 0 {
		return decimal.Zero, false
	}
	return points[len(points)-1].PriceUsd, true
}

// PriceUSD 资产的最新美元价格，用于法币输入换算
func (pc *PriceCache) PriceUSD(asset domain.Asset) (decimal.Decimal, bool) {
	mint := asset.Mint
	if asset.Native {
		mint = consts.WSOLMint
	}
	return pc.Latest(mint)
}
