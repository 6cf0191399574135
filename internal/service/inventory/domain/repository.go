// internal/service/inventory/domain/repository.go
package domain

import (
	"context"
	"time"
)

// StockRepository 库存记录的持久化接口，只被 StockLedger 使用
type StockRepository interface {
	// FindByOptionIDs 返回存在的记录，缺失的 ID 不报错
	FindByOptionIDs(ctx context.Context, optionIDs []string) (map[string]*StockRecord, error)
	// DecrementIfVersion 在版本号匹配时扣减，不匹配返回 ErrVersionConflict
	DecrementIfVersion(ctx context.Context, optionID string, qty, expectedVersion int64) error
	// Increment 原子加回库存，记录不存在返回 ErrOptionNotFound
	Increment(ctx context.Context, optionID string, qty int64) error
	Save(ctx context.Context, record *StockRecord) error
}

// ReservationRepository 预占单的持久化接口
type ReservationRepository interface {
	// Create 主键冲突时返回 ErrReservationExists
	Create(ctx context.Context, r *Reservation) error
	FindByID(ctx context.Context, id string) (*Reservation, error)
	// CompareAndSetState 单条件更新，是唯一的状态迁移原语
	CompareAndSetState(ctx context.Context, id string, from, to State, at time.Time) (bool, error)
	// FindStale 返回 created_at < before 的 PENDING 预占单，按创建时间升序
	FindStale(ctx context.Context, before time.Time, limit int) ([]*Reservation, error)
	FindPendingByStore(ctx context.Context, storeID string) ([]*Reservation, error)
}

// DeliveryPolicyRepository 运费策略仓储
type DeliveryPolicyRepository interface {
	FindByStore(ctx context.Context, storeID string) (*DeliveryPolicy, error)
	Save(ctx context.Context, policy *DeliveryPolicy) error
	DeleteByStore(ctx context.Context, storeID, deletedBy string) error
}

// Transactor 在同一个数据库事务中执行 fn；fn 返回错误时整体回滚
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
