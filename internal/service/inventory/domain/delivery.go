// internal/service/inventory/domain/delivery.go
package domain

// DeliveryPolicy 店铺运费策略，与店铺一一对应
type DeliveryPolicy struct {
	StoreID              string `json:"store_id"`
	DefaultFee           int64  `json:"default_fee"`
	MinQuantityThreshold int64  `json:"min_quantity_threshold"`
	MinAmountThreshold   int64  `json:"min_amount_threshold"`
}

// ResolveFee 件数或金额任一达到门槛即包邮，否则收取默认运费
func ResolveFee(policy DeliveryPolicy, totalQuantity, totalAmount int64) int64 {
	if totalQuantity >= policy.MinQuantityThreshold || totalAmount >= policy.MinAmountThreshold {
		return 0
	}
	return policy.DefaultFee
}
