package port

import (
	"context"

	"marketplace/internal/service/inventory/domain"
)

// CatalogService 是商品目录服务的出站端口，全部为纯查询。
type CatalogService interface {
	// GetProductByOption 返回规格值所属商品的完整快照，Option 字段为该规格值。
	GetProductByOption(ctx context.Context, optionID string) (*domain.ProductSnapshot, error)
	GetStore(ctx context.Context, storeID string) (*domain.StoreSnapshot, error)
}
