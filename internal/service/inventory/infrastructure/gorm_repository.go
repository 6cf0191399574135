package infrastructure

import (
	"context"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace/internal/service/inventory/domain"
)

// mysqlDuplicateEntry 是 MySQL 主键/唯一键冲突的错误号
const mysqlDuplicateEntry = 1062

// GormStockRepository 是 StockRepository 的 GORM 实现
type GormStockRepository struct {
	db *gorm.DB
}

func NewGormStockRepository(db *gorm.DB) *GormStockRepository {
	return &GormStockRepository{db: db}
}

func (r *GormStockRepository) FindByOptionIDs(ctx context.Context, optionIDs []string) (map[string]*domain.StockRecord, error) {
	var models []OptionStockModel
	if err := dbFrom(ctx, r.db).Where("option_id IN ?", optionIDs).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "query option stock")
	}
	out := make(map[string]*domain.StockRecord, len(models))
	for i := range models {
		out[models[i].OptionID] = ToDomainStockRecord(&models[i])
	}
	return out, nil
}

// DecrementIfVersion 带版本条件的扣减，影响行数为 0 即版本冲突
func (r *GormStockRepository) DecrementIfVersion(ctx context.Context, optionID string, qty, expectedVersion int64) error {
	result := dbFrom(ctx, r.db).Model(&OptionStockModel{}).
		Where("option_id = ? AND version = ? AND available_quantity >= ?", optionID, expectedVersion, qty).
		Updates(map[string]interface{}{
			"available_quantity": gorm.Expr("available_quantity - ?", qty),
			"version":            gorm.Expr("version + 1"),
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "decrement option %s", optionID)
	}
	if result.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *GormStockRepository) Increment(ctx context.Context, optionID string, qty int64) error {
	result := dbFrom(ctx, r.db).Model(&OptionStockModel{}).
		Where("option_id = ?", optionID).
		Updates(map[string]interface{}{
			"available_quantity": gorm.Expr("available_quantity + ?", qty),
			"version":            gorm.Expr("version + 1"),
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "increment option %s", optionID)
	}
	if result.RowsAffected == 0 {
		return domain.ErrOptionNotFound
	}
	return nil
}

// Save 按主键 upsert
func (r *GormStockRepository) Save(ctx context.Context, record *domain.StockRecord) error {
	model := FromDomainStockRecord(record)
	err := dbFrom(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "option_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"store_id", "available_quantity", "version", "updated_at"}),
	}).Create(model).Error
	return errors.Wrapf(err, "save option %s", record.OptionID)
}

// GormReservationRepository 是 ReservationRepository 的 GORM 实现
type GormReservationRepository struct {
	db *gorm.DB
}

func NewGormReservationRepository(db *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: db}
}

func (r *GormReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	err := dbFrom(ctx, r.db).Create(FromDomainReservation(res)).Error
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return domain.ErrReservationExists
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrReservationExists
	}
	return errors.Wrapf(err, "insert reservation %s", res.ID)
}

func (r *GormReservationRepository) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	var model StockReservationModel
	err := dbFrom(ctx, r.db).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, errors.Wrapf(err, "query reservation %s", id)
	}
	return ToDomainReservation(&model), nil
}

// CompareAndSetState 单条 UPDATE ... WHERE state = from，影响行数决定 CAS 成败
func (r *GormReservationRepository) CompareAndSetState(ctx context.Context, id string, from, to domain.State, at time.Time) (bool, error) {
	result := dbFrom(ctx, r.db).Model(&StockReservationModel{}).
		Where("id = ? AND state = ?", id, from).
		Updates(map[string]interface{}{"state": to, "updated_at": at})
	if result.Error != nil {
		return false, errors.Wrapf(result.Error, "update reservation %s state", id)
	}
	return result.RowsAffected == 1, nil
}

func (r *GormReservationRepository) FindStale(ctx context.Context, before time.Time, limit int) ([]*domain.Reservation, error) {
	var models []StockReservationModel
	err := dbFrom(ctx, r.db).
		Where("state = ? AND created_at < ?", domain.StatePending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "query stale reservations")
	}
	return toDomainReservations(models), nil
}

func (r *GormReservationRepository) FindPendingByStore(ctx context.Context, storeID string) ([]*domain.Reservation, error) {
	var models []StockReservationModel
	err := dbFrom(ctx, r.db).
		Where("store_id = ? AND state = ?", storeID, domain.StatePending).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "query pending reservations of store %s", storeID)
	}
	return toDomainReservations(models), nil
}

func toDomainReservations(models []StockReservationModel) []*domain.Reservation {
	out := make([]*domain.Reservation, 0, len(models))
	for i := range models {
		out = append(out, ToDomainReservation(&models[i]))
	}
	return out
}

// GormDeliveryPolicyRepository 是 DeliveryPolicyRepository 的 GORM 实现
type GormDeliveryPolicyRepository struct {
	db *gorm.DB
}

func NewGormDeliveryPolicyRepository(db *gorm.DB) *GormDeliveryPolicyRepository {
	return &GormDeliveryPolicyRepository{db: db}
}

func (r *GormDeliveryPolicyRepository) FindByStore(ctx context.Context, storeID string) (*domain.DeliveryPolicy, error) {
	var model DeliveryPolicyModel
	err := dbFrom(ctx, r.db).Where("store_id = ?", storeID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPolicyNotFound
		}
		return nil, errors.Wrapf(err, "query delivery policy of store %s", storeID)
	}
	return ToDomainDeliveryPolicy(&model), nil
}

// Save 按 store_id upsert；已软删除的策略会被恢复
func (r *GormDeliveryPolicyRepository) Save(ctx context.Context, policy *domain.DeliveryPolicy) error {
	model := &DeliveryPolicyModel{
		StoreID:              policy.StoreID,
		DefaultFee:           policy.DefaultFee,
		MinQuantityThreshold: policy.MinQuantityThreshold,
		MinAmountThreshold:   policy.MinAmountThreshold,
	}
	err := dbFrom(ctx, r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "store_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"default_fee":            policy.DefaultFee,
			"min_quantity_threshold": policy.MinQuantityThreshold,
			"min_amount_threshold":   policy.MinAmountThreshold,
			"deleted_at":             nil,
			"deleted_by":             "",
			"updated_at":             time.Now(),
		}),
	}).Create(model).Error
	return errors.Wrapf(err, "save delivery policy of store %s", policy.StoreID)
}

// DeleteByStore 软删除，记录删除人
func (r *GormDeliveryPolicyRepository) DeleteByStore(ctx context.Context, storeID, deletedBy string) error {
	result := dbFrom(ctx, r.db).Model(&DeliveryPolicyModel{}).
		Where("store_id = ?", storeID).
		Updates(map[string]interface{}{
			"deleted_at": time.Now(),
			"deleted_by": deletedBy,
		})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "delete delivery policy of store %s", storeID)
	}
	if result.RowsAffected == 0 {
		return domain.ErrPolicyNotFound
	}
	return nil
}
