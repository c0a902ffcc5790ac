package cache

import (
	"sync"

	"send-preview-sol/internal/logic/domain"
)

// BalanceCache 会话级余额缓存。
// 读取返回深拷贝；写入只能通过 Update，保证对账与全量刷新互斥执行。
type BalanceCache struct {
	writeMu sync.Mutex // 串行化 Update
	mu      sync.RWMutex
	data    domain.BalanceSnapshot
}

func NewBalanceCache() *BalanceCache {
	return &BalanceCache{data: make(domain.BalanceSnapshot)}
}

// Snapshot 返回当前余额的拷贝
func (c *BalanceCache) Snapshot() domain.BalanceSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Clone()
}

// Account 返回单个账户余额的拷贝，账户不存在时返回空 map
func (c *BalanceCache) Account(accountID string) map[domain.AssetID]domain.Balance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[domain.AssetID]domain.Balance, len(c.data[accountID]))
	for id, b := range c.data[accountID] {
		out[id] = b
	}
	return out
}

// Update 以当前快照为输入计算新快照并整体替换；fn 返回 error 时缓存保持不变
func (c *BalanceCache) Update(fn func(current domain.BalanceSnapshot) (domain.BalanceSnapshot, error)) (domain.BalanceSnapshot, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next, err := fn(c.Snapshot())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.data = next
	c.mu.Unlock()
	return next.Clone(), nil
}

// ReplaceAccount 全量刷新某账户的余额
func (c *BalanceCache) ReplaceAccount(accountID string, balances map[domain.AssetID]domain.Balance) {
	_, _ = c.Update(func(current domain.BalanceSnapshot) (domain.BalanceSnapshot, error) {
		delete(current, accountID)
		for id, b := range balances {
			current.Set(accountID, id, b)
		}
		return current, nil
	})
}
