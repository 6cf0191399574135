package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"marketplace/internal/pkg/logger"
	"marketplace/internal/pkg/metrics"
	"marketplace/internal/pkg/tracing"
	"marketplace/internal/service/inventory/domain"
	"marketplace/internal/service/inventory/domain/port"
)

// ReservationCoordinator 编排预占/回滚/确认三个同步入口
type ReservationCoordinator struct {
	ledger       *StockLedger
	reservations domain.ReservationRepository
	policies     *DeliveryPolicyResolver
	releaser     *stockReleaser
	tracer       trace.Tracer
	clock        func() time.Time
}

// NewReservationCoordinator 创建协调器
func NewReservationCoordinator(
	ledger *StockLedger,
	reservations domain.ReservationRepository,
	policies *DeliveryPolicyResolver,
	tx domain.Transactor,
	publisher port.ReservationEventPublisher,
	tracer trace.Tracer,
) *ReservationCoordinator {
	if publisher == nil {
		publisher = port.NopPublisher{}
	}
	c := &ReservationCoordinator{
		ledger:       ledger,
		reservations: reservations,
		policies:     policies,
		tracer:       tracer,
		clock:        time.Now,
	}
	c.releaser = &stockReleaser{
		tx:           tx,
		reservations: reservations,
		ledger:       ledger,
		publisher:    publisher,
		clock:        func() time.Time { return c.clock() },
	}
	return c
}

// Reserve 扣减库存并记录 PENDING 预占单。同一订单号重复请求时返回首次结果
func (c *ReservationCoordinator) Reserve(ctx context.Context, cmd *ReserveCommand) (result *UpdateStockResult, err error) {
	ctx, span := c.tracer.Start(ctx, "service.Reserve")
	defer span.End()
	defer func() { metrics.ReservationOutcomes.WithLabelValues("reserve", outcomeCode(err)).Inc() }()

	span.SetAttributes(
		attribute.String("reservation.id", cmd.ReservationID),
		attribute.String("store.id", cmd.StoreID),
	)

	if cmd.ReservationID == "" || cmd.StoreID == "" {
		return nil, tracing.Fail(span, errors.Wrap(domain.ErrInvalidRequest, "order_id and store_id are required"))
	}
	items, err := domain.NormalizeItems(cmd.Items)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}

	// 1. 幂等：订单号已存在时不再扣减
	existing, err := c.reservations.FindByID(ctx, cmd.ReservationID)
	switch {
	case err == nil:
		return c.replay(ctx, existing, cmd.StoreID, items)
	case !errors.Is(err, domain.ErrReservationNotFound):
		return nil, tracing.Fail(span, err)
	}

	// 2. 店铺必须有运费策略，否则是配置缺陷，不做任何写入
	policy, err := c.policies.PolicyFor(ctx, cmd.StoreID)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}

	// 3. 整批扣减与记录预占单在同一事务里，任一步失败（包括请求被取消）都不留下扣减
	res := domain.NewReservation(cmd.ReservationID, cmd.StoreID, items, c.clock())
	records, err := c.ledger.DecrementThen(ctx, cmd.StoreID, items, func(txCtx context.Context) error {
		if err := c.reservations.Create(txCtx, res); err != nil {
			return errors.Wrap(err, "failed to record reservation")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrReservationExists) {
			// 并发的同号请求先落库了
			winner, findErr := c.reservations.FindByID(ctx, cmd.ReservationID)
			if findErr != nil {
				return nil, tracing.Fail(span, findErr)
			}
			return c.replay(ctx, winner, cmd.StoreID, items)
		}
		return nil, tracing.Fail(span, err)
	}

	c.releaser.publish(ctx, res, domain.StatePending, "reserved")
	logger.Ctx(ctx).Info().
		Str("reservation_id", res.ID).
		Str("store_id", res.StoreID).
		Int("options", len(items)).
		Msg("stock reserved")

	return &UpdateStockResult{
		ReservationID:  res.ID,
		State:          res.State,
		UpdatedOptions: toStockLevels(records),
		DeliveryPolicy: *policy,
	}, nil
}

func (c *ReservationCoordinator) replay(ctx context.Context, res *domain.Reservation, storeID string, items []domain.StockItem) (*UpdateStockResult, error) {
	if res.StoreID != storeID || !domain.SameItems(res.Items, items) {
		return nil, errors.Wrapf(domain.ErrIdempotencyConflict, "reservation %s", res.ID)
	}
	policy, err := c.policies.PolicyFor(ctx, res.StoreID)
	if err != nil {
		return nil, err
	}
	levels, err := c.ledger.Levels(ctx, optionIDs(res.Items))
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("reservation_id", res.ID).Msg("duplicate reserve request replayed")
	return &UpdateStockResult{
		ReservationID:  res.ID,
		State:          res.State,
		UpdatedOptions: toStockLevels(levels),
		DeliveryPolicy: *policy,
		Replayed:       true,
	}, nil
}

// Rollback 回滚预占单并加回库存；终态预占单直接返回成功，可重复调用
func (c *ReservationCoordinator) Rollback(ctx context.Context, cmd *RollbackCommand) (result *TransitionResult, err error) {
	ctx, span := c.tracer.Start(ctx, "service.Rollback (Compensation)")
	defer span.End()
	defer func() { metrics.ReservationOutcomes.WithLabelValues("rollback", outcomeCode(err)).Inc() }()
	span.SetAttributes(attribute.String("reservation.id", cmd.ReservationID))

	res, err := c.reservations.FindByID(ctx, cmd.ReservationID)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}
	if res.State.IsTerminal() {
		span.AddEvent("reservation already terminal, rollback is a no-op")
		return &TransitionResult{ReservationID: res.ID, State: res.State}, nil
	}
	if len(cmd.Items) > 0 && !domain.SameItems(cmd.Items, res.Items) {
		// 始终按记录的条目加回，请求里的条目只做核对
		logger.Ctx(ctx).Warn().
			Str("reservation_id", res.ID).
			Interface("requested", cmd.Items).
			Interface("recorded", res.Items).
			Msg("rollback items differ from reservation, using recorded items")
	}

	applied, err := c.releaser.release(ctx, res, domain.StateRolledBack)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}
	if !applied {
		return c.currentState(ctx, res.ID)
	}

	c.releaser.publish(ctx, res, domain.StateRolledBack, "rollback")
	logger.Ctx(ctx).Info().Str("reservation_id", res.ID).Msg("Compensation: reservation rolled back, stock restored")
	return &TransitionResult{ReservationID: res.ID, State: domain.StateRolledBack, Applied: true}, nil
}

// Confirm 把预占单置为 CONFIRMED，不改动库存
func (c *ReservationCoordinator) Confirm(ctx context.Context, cmd *ConfirmCommand) (result *TransitionResult, err error) {
	ctx, span := c.tracer.Start(ctx, "service.Confirm")
	defer span.End()
	defer func() { metrics.ReservationOutcomes.WithLabelValues("confirm", outcomeCode(err)).Inc() }()
	span.SetAttributes(attribute.String("reservation.id", cmd.ReservationID))

	res, err := c.reservations.FindByID(ctx, cmd.ReservationID)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}
	if res.State.IsTerminal() {
		return &TransitionResult{ReservationID: res.ID, State: res.State}, nil
	}

	ok, err := c.reservations.CompareAndSetState(ctx, res.ID, domain.StatePending, domain.StateConfirmed, c.clock())
	if err != nil {
		return nil, tracing.Fail(span, err)
	}
	if !ok {
		return c.currentState(ctx, res.ID)
	}

	c.releaser.publish(ctx, res, domain.StateConfirmed, "confirm")
	return &TransitionResult{ReservationID: res.ID, State: domain.StateConfirmed, Applied: true}, nil
}

// currentState 在 CAS 失败后读取胜出方写入的状态
func (c *ReservationCoordinator) currentState(ctx context.Context, id string) (*TransitionResult, error) {
	res, err := c.reservations.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TransitionResult{ReservationID: res.ID, State: res.State}, nil
}

func outcomeCode(err error) string {
	if err == nil {
		return "OK"
	}
	return domain.Code(err)
}
