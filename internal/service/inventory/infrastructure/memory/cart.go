package memory

import (
	"context"
	"sort"
	"sync"

	"marketplace/internal/service/inventory/domain"
)

// CartStore 是 port.CartStore 的进程内实现，未配置 Redis 时使用
type CartStore struct {
	mu    sync.RWMutex
	carts map[string]map[string]int64
}

func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string]map[string]int64)}
}

func (c *CartStore) Put(_ context.Context, entry domain.CartEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.carts[entry.MemberID]
	if !ok {
		cart = make(map[string]int64)
		c.carts[entry.MemberID] = cart
	}
	cart[entry.OptionID] = entry.Quantity
	return nil
}

func (c *CartStore) Remove(_ context.Context, memberID, optionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts[memberID], optionID)
	return nil
}

func (c *CartStore) Clear(_ context.Context, memberID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, memberID)
	return nil
}

func (c *CartStore) List(_ context.Context, memberID string) ([]domain.CartEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := make([]domain.CartEntry, 0, len(c.carts[memberID]))
	for optionID, qty := range c.carts[memberID] {
		entries = append(entries, domain.CartEntry{MemberID: memberID, OptionID: optionID, Quantity: qty})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].OptionID < entries[j].OptionID })
	return entries, nil
}
