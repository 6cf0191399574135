package adapter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"marketplace/internal/service/inventory/domain"
)

// KEYS[1]: 购物车 hash，例如 cart:{member-1}
// ARGV[1]: 规格值 ID   ARGV[2]: 数量   ARGV[3]: 过期毫秒数
// 写入与续期在一个脚本里完成
var putCartEntryScript = redis.NewScript(`
redis.call('hset', KEYS[1], ARGV[1], ARGV[2])
redis.call('pexpire', KEYS[1], ARGV[3])
return 1
`)

// CartRedisAdapter 是 port.CartStore 的 Redis 实现：每个会员一个 hash
type CartRedisAdapter struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewCartRedisAdapter(client redis.UniversalClient, ttl time.Duration) *CartRedisAdapter {
	return &CartRedisAdapter{client: client, ttl: ttl}
}

func cartKey(memberID string) string {
	return fmt.Sprintf("cart:{%s}", memberID)
}

// Put 覆盖写入并刷新购物车过期时间
func (a *CartRedisAdapter) Put(ctx context.Context, entry domain.CartEntry) error {
	err := putCartEntryScript.Run(ctx, a.client,
		[]string{cartKey(entry.MemberID)},
		entry.OptionID, entry.Quantity, a.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("cart adapter failed to put entry: %w", err)
	}
	return nil
}

func (a *CartRedisAdapter) Remove(ctx context.Context, memberID, optionID string) error {
	if err := a.client.HDel(ctx, cartKey(memberID), optionID).Err(); err != nil {
		return fmt.Errorf("cart adapter failed to remove entry: %w", err)
	}
	return nil
}

func (a *CartRedisAdapter) Clear(ctx context.Context, memberID string) error {
	if err := a.client.Del(ctx, cartKey(memberID)).Err(); err != nil {
		return fmt.Errorf("cart adapter failed to clear cart: %w", err)
	}
	return nil
}

// List 返回按 OptionID 排序的购物车行；无法解析的数量会被跳过
func (a *CartRedisAdapter) List(ctx context.Context, memberID string) ([]domain.CartEntry, error) {
	fields, err := a.client.HGetAll(ctx, cartKey(memberID)).Result()
	if err != nil {
		return nil, fmt.Errorf("cart adapter failed to load cart: %w", err)
	}
	entries := make([]domain.CartEntry, 0, len(fields))
	for optionID, raw := range fields {
		qty, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || qty < 1 {
			continue
		}
		entries = append(entries, domain.CartEntry{MemberID: memberID, OptionID: optionID, Quantity: qty})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].OptionID < entries[j].OptionID })
	return entries, nil
}
