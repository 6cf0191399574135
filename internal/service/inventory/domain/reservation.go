// internal/service/inventory/domain/reservation.go
package domain

import "time"

// State 定义了预占单的生命周期状态
type State string

const (
	StatePending    State = "PENDING"     // 已扣减库存，等待确认或回滚
	StateConfirmed  State = "CONFIRMED"   // 订单已确认，库存正式消耗
	StateFailed     State = "FAILED"      // 超时被对账任务判定失败，库存已释放
	StateRolledBack State = "ROLLED_BACK" // 调用方主动回滚，库存已释放
)

// IsTerminal 终态不可再迁移
func (s State) IsTerminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StateRolledBack:
		return true
	}
	return false
}

// ReleasesStock 进入该状态时需要把库存加回去
func (s State) ReleasesStock() bool {
	return s == StateFailed || s == StateRolledBack
}

// Reservation 记录一次进行中的库存预占，ID 即上游订单号
type Reservation struct {
	ID        string
	StoreID   string
	Items     []StockItem
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewReservation 创建一个 PENDING 状态的预占单
func NewReservation(id, storeID string, items []StockItem, now time.Time) *Reservation {
	copied := make([]StockItem, len(items))
	copy(copied, items)
	return &Reservation{
		ID:        id,
		StoreID:   storeID,
		Items:     copied,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsStale 判断预占单是否已超过 window 仍未结束
func (r *Reservation) IsStale(now time.Time, window time.Duration) bool {
	return r.State == StatePending && r.CreatedAt.Before(now.Add(-window))
}
