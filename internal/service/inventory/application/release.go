package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"marketplace/internal/pkg/logger"
	"marketplace/internal/pkg/metrics"
	"marketplace/internal/service/inventory/domain"
	"marketplace/internal/service/inventory/domain/port"
)

// stockReleaser 把 PENDING 预占单迁移到释放型终态并加回库存。
// CAS 与加回库存在同一事务中：CAS 成功是加回库存的唯一入口，事务失败时预占单保持 PENDING。
type stockReleaser struct {
	tx           domain.Transactor
	reservations domain.ReservationRepository
	ledger       *StockLedger
	publisher    port.ReservationEventPublisher
	clock        func() time.Time
}

func (r *stockReleaser) release(ctx context.Context, res *domain.Reservation, to domain.State) (bool, error) {
	if !to.ReleasesStock() {
		return false, errors.Errorf("state %s does not release stock", to)
	}

	var applied bool
	err := r.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		applied = false
		ok, err := r.reservations.CompareAndSetState(txCtx, res.ID, domain.StatePending, to, r.clock())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := r.ledger.Restore(txCtx, res.StoreID, res.Items); err != nil {
			if !errors.Is(err, domain.ErrOptionNotFound) {
				return err
			}
			// 规格值已被删除，重试也无法恢复；状态照常提交，其余规格值已加回
			logger.Ctx(ctx).Error().Err(err).
				Str("reservation_id", res.ID).
				Msg("released reservation with missing options")
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "release reservation %s", res.ID)
	}
	return applied, nil
}

// publish 发布状态变更事件；发布失败只记日志，不影响主流程
func (r *stockReleaser) publish(ctx context.Context, res *domain.Reservation, state domain.State, reason string) {
	event := &domain.ReservationEvent{
		EventID:       uuid.NewString(),
		ReservationID: res.ID,
		StoreID:       res.StoreID,
		State:         state,
		Items:         res.Items,
		Reason:        reason,
		OccurredAt:    r.clock(),
	}
	if err := r.publisher.PublishReservationEvent(ctx, event); err != nil {
		metrics.EventPublishFailures.Inc()
		logger.Ctx(ctx).Warn().Err(err).
			Str("reservation_id", res.ID).
			Str("state", string(state)).
			Msg("failed to publish reservation event")
	}
}
