package cache

import (
	"context"
	"fmt"
	"sync"

	"send-preview-sol/internal/logic/domain"
	"send-preview-sol/internal/pkg/types"
)

// AccountCache 本地账户目录，来自配置（钱包 keyring 的只读替身）
type AccountCache struct {
	mu       sync.RWMutex
	accounts []domain.Account
}

// NewAccountCache 地址非法或 id 重复时返回错误
func NewAccountCache(accounts []domain.Account) (*AccountCache, error) {
	seen := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		if _, err := types.TryPubkeyFromBase58(a.Address); err != nil {
			return nil, fmt.Errorf("account %s: %w", a.ID, err)
		}
		if _, ok := seen[a.ID]; ok {
			return nil, fmt.Errorf("duplicate account id %s", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return &AccountCache{accounts: append([]domain.Account(nil), accounts...)}, nil
}

func (c *AccountCache) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Account(nil), c.accounts...), nil
}

func (c *AccountCache) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Account{}, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
}
