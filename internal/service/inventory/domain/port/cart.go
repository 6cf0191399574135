package port

import (
	"context"

	"marketplace/internal/service/inventory/domain"
)

// CartStore 保存会员购物车的临时状态。
type CartStore interface {
	// Put 覆盖写入，后写者生效
	Put(ctx context.Context, entry domain.CartEntry) error
	Remove(ctx context.Context, memberID, optionID string) error
	Clear(ctx context.Context, memberID string) error
	// List 按 OptionID 升序返回
	List(ctx context.Context, memberID string) ([]domain.CartEntry, error)
}
