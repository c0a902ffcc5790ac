package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"send-preview-sol/internal/logic/domain"
)

const (
	balancePrefix     = "send-preview:balances"
	defaultBalanceTTL = 30 * time.Minute
	fieldSep          = "|"
)

// RedisBalanceStore 会话余额缓存在 Redis 中的镜像，便于外部查看与会话重建。
// 一个会话一个 hash：field = account|asset，value = amount|unit
type RedisBalanceStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisBalanceStore(rdb *redis.Client, ttl time.Duration) *RedisBalanceStore {
	if ttl <= 0 {
		ttl = defaultBalanceTTL
	}
	return &RedisBalanceStore{rdb: rdb, ttl: ttl}
}

func (r *RedisBalanceStore) getKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", balancePrefix, sessionID)
}

// Save 整体覆盖会话的余额镜像
func (r *RedisBalanceStore) Save(ctx context.Context, sessionID string, snapshot domain.BalanceSnapshot) error {
	key := r.getKey(sessionID)
	fields := encodeSnapshot(snapshot)

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save balances: %w", err)
	}
	return nil
}

// Load 读取会话的余额镜像，不存在时返回空快照
func (r *RedisBalanceStore) Load(ctx context.Context, sessionID string) (domain.BalanceSnapshot, error) {
	vals, err := r.rdb.HGetAll(ctx, r.getKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load balances: %w", err)
	}
	return decodeSnapshot(vals)
}

func (r *RedisBalanceStore) Delete(ctx context.Context, sessionID string) error {
	return r.rdb.Del(ctx, r.getKey(sessionID)).Err()
}

func encodeSnapshot(snapshot domain.BalanceSnapshot) map[string]interface{} {
	fields := make(map[string]interface{})
	for account, assets := range snapshot {
		for asset, b := range assets {
			fields[account+fieldSep+string(asset)] = b.Amount.String() + fieldSep + b.Unit
		}
	}
	return fields
}

func decodeSnapshot(vals map[string]string) (domain.BalanceSnapshot, error) {
	out := make(domain.BalanceSnapshot)
	for field, val := range vals {
		account, asset, ok := strings.Cut(field, fieldSep)
		if !ok {
			return nil, fmt.Errorf("malformed balance field %q", field)
		}
		amount, unit, _ := strings.Cut(val, fieldSep)
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("malformed balance %q: %w", val, err)
		}
		out.Set(account, domain.AssetID(asset), domain.Balance{Amount: d, Unit: unit})
	}
	return out, nil
}
