// internal/service/inventory/domain/event.go
package domain

import "time"

// ReservationEvent 在预占单状态变化时发布
type ReservationEvent struct {
	EventID       string      `json:"event_id"`
	ReservationID string      `json:"reservation_id"`
	StoreID       string      `json:"store_id"`
	State         State       `json:"state"`
	Items         []StockItem `json:"items"`
	Reason        string      `json:"reason,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

// StoreDeletedEvent 店铺删除事件，由店铺服务发出
type StoreDeletedEvent struct {
	StoreID   string    `json:"store_id"`
	DeletedBy string    `json:"deleted_by"`
	DeletedAt time.Time `json:"deleted_at"`
}
