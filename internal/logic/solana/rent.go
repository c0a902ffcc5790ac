package solana

import (
	"context"
	"sync"
	"time"

	"send-preview-sol/internal/pkg/logger"
)

const rentCacheTTL = 10 * time.Minute

// RentOracle 0 字节系统账户的免租金最低余额。
// 该值几乎不变，缓存一段时间；RPC 失败时回退到上一次的值或配置默认值。
type RentOracle struct {
	rpc      RPC
	fallback uint64

	mu        sync.Mutex
	value     uint64
	fetchedAt time.Time
}

func NewRentOracle(rpc RPC, fallback uint64) *RentOracle {
	return &RentOracle{rpc: rpc, fallback: fallback}
}

func (o *RentOracle) MinimumBalance(ctx context.Context) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.value > 0 && time.Since(o.fetchedAt) < rentCacheTTL {
		return o.value
	}

	v, err := o.rpc.GetMinimumBalanceForRentExemption(ctx, 0)
	if err != nil || v == 0 {
		logger.Warnf("[RentOracle] GetMinimumBalanceForRentExemption 失败, 使用缓存/默认值: %v", err)
		if o.value > 0 {
			return o.value
		}
		return o.fallback
	}
	o.value = v
	o.fetchedAt = time.Now()
	return v
}
