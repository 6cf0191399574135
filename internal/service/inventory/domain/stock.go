// internal/service/inventory/domain/stock.go
package domain

import (
	"sort"
	"time"

	"github.com/pkg/errors"
)

// StockRecord 是单个规格值的库存计数，只能由 StockLedger 修改
type StockRecord struct {
	OptionID          string
	StoreID           string
	AvailableQuantity int64
	Version           int64 // 乐观锁版本号，每次修改 +1
	UpdatedAt         time.Time
}

// StockItem 是一次请求中的 (规格值, 数量)
type StockItem struct {
	OptionID string `json:"option_value_id"`
	Quantity int64  `json:"quantity"`
}

// NormalizeItems 校验数量并合并重复的规格值，返回按 OptionID 排序的新切片
func NormalizeItems(items []StockItem) ([]StockItem, error) {
	if len(items) == 0 {
		return nil, errors.Wrap(ErrInvalidRequest, "items must not be empty")
	}
	merged := make(map[string]int64, len(items))
	for _, it := range items {
		if it.OptionID == "" {
			return nil, errors.Wrap(ErrInvalidRequest, "option_value_id is required")
		}
		if it.Quantity <= 0 {
			return nil, NewOptionError(ErrInvalidQuantity, it.OptionID, it.Quantity, 0)
		}
		merged[it.OptionID] += it.Quantity
	}
	out := make([]StockItem, 0, len(merged))
	for id, qty := range merged {
		out = append(out, StockItem{OptionID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OptionID < out[j].OptionID })
	return out, nil
}

// SameItems 判断两组条目在合并后是否一致
func SameItems(a, b []StockItem) bool {
	na, errA := NormalizeItems(a)
	nb, errB := NormalizeItems(b)
	if errA != nil || errB != nil || len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

// CheckDecrement 校验一条库存记录能否扣减 qty
func (r *StockRecord) CheckDecrement(storeID string, qty int64) error {
	if r.StoreID != storeID {
		return NewOptionError(ErrStoreMismatch, r.OptionID, qty, r.AvailableQuantity)
	}
	if r.AvailableQuantity < qty {
		return NewOptionError(ErrOutOfStock, r.OptionID, qty, r.AvailableQuantity)
	}
	return nil
}
