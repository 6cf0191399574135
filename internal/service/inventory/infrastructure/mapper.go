package infrastructure

import "marketplace/internal/service/inventory/domain"

// ToDomainStockRecord 将数据库模型转换为领域模型
func ToDomainStockRecord(model *OptionStockModel) *domain.StockRecord {
	if model == nil {
		return nil
	}
	return &domain.StockRecord{
		OptionID:          model.OptionID,
		StoreID:           model.StoreID,
		AvailableQuantity: model.AvailableQuantity,
		Version:           model.Version,
		UpdatedAt:         model.UpdatedAt,
	}
}

func FromDomainStockRecord(rec *domain.StockRecord) *OptionStockModel {
	return &OptionStockModel{
		OptionID:          rec.OptionID,
		StoreID:           rec.StoreID,
		AvailableQuantity: rec.AvailableQuantity,
		Version:           rec.Version,
	}
}

func ToDomainReservation(model *StockReservationModel) *domain.Reservation {
	if model == nil {
		return nil
	}
	return &domain.Reservation{
		ID:        model.ID,
		StoreID:   model.StoreID,
		Items:     append([]domain.StockItem(nil), model.Items...),
		State:     model.State,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

func FromDomainReservation(res *domain.Reservation) *StockReservationModel {
	return &StockReservationModel{
		ID:        res.ID,
		StoreID:   res.StoreID,
		Items:     StockItemList(res.Items),
		State:     res.State,
		CreatedAt: res.CreatedAt,
		UpdatedAt: res.UpdatedAt,
	}
}

func ToDomainDeliveryPolicy(model *DeliveryPolicyModel) *domain.DeliveryPolicy {
	if model == nil {
		return nil
	}
	return &domain.DeliveryPolicy{
		StoreID:              model.StoreID,
		DefaultFee:           model.DefaultFee,
		MinQuantityThreshold: model.MinQuantityThreshold,
		MinAmountThreshold:   model.MinAmountThreshold,
	}
}
