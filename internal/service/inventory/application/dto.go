package application

import "marketplace/internal/service/inventory/domain"

// ReserveCommand 是 UpdateStock 的入参，ReservationID 由上游订单号充当幂等键
type ReserveCommand struct {
	ReservationID string             `json:"order_id"`
	StoreID       string             `json:"store_id"`
	Items         []domain.StockItem `json:"items"`
}

// RollbackCommand 是 RollbackStock 的入参
type RollbackCommand struct {
	ReservationID string             `json:"order_id"`
	Items         []domain.StockItem `json:"items"`
}

// ConfirmCommand 是 ConfirmStock 的入参
type ConfirmCommand struct {
	ReservationID string `json:"order_id"`
}

// StockLevel 扣减后的库存快照
type StockLevel struct {
	OptionID          string `json:"option_value_id"`
	AvailableQuantity int64  `json:"available_quantity"`
	Version           int64  `json:"version"`
}

// UpdateStockResult 预占成功后的聚合快照
type UpdateStockResult struct {
	ReservationID  string                `json:"reservation_id"`
	State          domain.State          `json:"state"`
	UpdatedOptions []StockLevel          `json:"updated_options"`
	DeliveryPolicy domain.DeliveryPolicy `json:"delivery_policy"`
	// Replayed 为 true 表示同一订单号的重复请求，未再次扣减
	Replayed bool `json:"replayed"`
}

// TransitionResult 回滚/确认的结果。Applied=false 表示预占单已处于终态，本次是空操作
type TransitionResult struct {
	ReservationID string       `json:"reservation_id"`
	State         domain.State `json:"state"`
	Applied       bool         `json:"applied"`
}

// CartLine 是购物车列表中的一行
type CartLine struct {
	OptionID    string               `json:"option_value_id"`
	OptionName  string               `json:"option_name"`
	ProductID   string               `json:"product_id"`
	ProductName string               `json:"product_name"`
	StoreID     string               `json:"store_id"`
	Image       *domain.ProductImage `json:"image,omitempty"`
	Quote       domain.PriceQuote    `json:"quote"`
}

// StoreCheckout 单个店铺的结算预览
type StoreCheckout struct {
	StoreID       string     `json:"store_id"`
	StoreName     string     `json:"store_name"`
	Lines         []CartLine `json:"lines"`
	TotalQuantity int64      `json:"total_quantity"`
	TotalAmount   int64      `json:"total_amount"`
	DeliveryFee   int64      `json:"delivery_fee"`
	PayAmount     int64      `json:"pay_amount"`
}

// CheckoutPreview 按店铺拆分的结算预览
type CheckoutPreview struct {
	MemberID   string          `json:"member_id"`
	Stores     []StoreCheckout `json:"stores"`
	GrandTotal int64           `json:"grand_total"`
}

// SweepReport 一次对账的统计
type SweepReport struct {
	Scanned int `json:"scanned"`
	Failed  int `json:"failed"`  // 成功迁移为 FAILED 并释放库存
	Skipped int `json:"skipped"` // CAS 失败，由并发的 confirm/rollback 决定结果
	Errors  int `json:"errors"`
}

func toStockLevels(records []domain.StockRecord) []StockLevel {
	levels := make([]StockLevel, 0, len(records))
	for _, r := range records {
		levels = append(levels, StockLevel{
			OptionID:          r.OptionID,
			AvailableQuantity: r.AvailableQuantity,
			Version:           r.Version,
		})
	}
	return levels
}
