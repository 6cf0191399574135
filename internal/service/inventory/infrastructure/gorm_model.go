package infrastructure

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"marketplace/internal/service/inventory/domain"
)

// OptionStockModel 对应数据库中的 option_stock 表
type OptionStockModel struct {
	OptionID          string `gorm:"primaryKey;type:varchar(64)"`
	StoreID           string `gorm:"type:varchar(64);index"`
	AvailableQuantity int64  `gorm:"not null;check:available_quantity >= 0"`
	Version           int64  `gorm:"not null;default:0"` // 乐观锁
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TableName 指定 GORM 应该使用的表名
func (OptionStockModel) TableName() string {
	return "option_stock"
}

// StockItemList 以 JSON 存储预占明细
type StockItemList []domain.StockItem

func (l StockItemList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *StockItemList) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	case nil:
		*l = nil
		return nil
	default:
		return fmt.Errorf("unsupported type %T for StockItemList", value)
	}
}

// StockReservationModel 对应 stock_reservation 表，主键为上游订单号
type StockReservationModel struct {
	ID        string        `gorm:"primaryKey;type:varchar(64)"`
	StoreID   string        `gorm:"type:varchar(64);index"`
	Items     StockItemList `gorm:"type:json"`
	State     domain.State  `gorm:"type:varchar(16);index:idx_state_created,priority:1"`
	CreatedAt time.Time     `gorm:"index:idx_state_created,priority:2"`
	UpdatedAt time.Time
}

func (StockReservationModel) TableName() string {
	return "stock_reservation"
}

// DeliveryPolicyModel 对应 delivery_policy 表，审计字段显式声明
type DeliveryPolicyModel struct {
	ID                   uint   `gorm:"primaryKey"`
	StoreID              string `gorm:"type:varchar(64);uniqueIndex"`
	DefaultFee           int64
	MinQuantityThreshold int64
	MinAmountThreshold   int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
	DeletedAt            gorm.DeletedAt `gorm:"index"`
	DeletedBy            string         `gorm:"type:varchar(64)"`
}

func (DeliveryPolicyModel) TableName() string {
	return "delivery_policy"
}

// AllModels 用于 AutoMigrate
func AllModels() []interface{} {
	return []interface{}{&OptionStockModel{}, &StockReservationModel{}, &DeliveryPolicyModel{}}
}
