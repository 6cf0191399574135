package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"marketplace/internal/pkg/logger"
	"marketplace/internal/pkg/tracing"
	"marketplace/internal/service/inventory/domain"
	"marketplace/internal/service/inventory/domain/port"
)

// StoreLifecycleService 是店铺删除事件在本服务内的具名消费者
type StoreLifecycleService struct {
	policies     domain.DeliveryPolicyRepository
	reservations domain.ReservationRepository
	releaser     *stockReleaser
	tracer       trace.Tracer
}

func NewStoreLifecycleService(
	ledger *StockLedger,
	policies domain.DeliveryPolicyRepository,
	reservations domain.ReservationRepository,
	tx domain.Transactor,
	publisher port.ReservationEventPublisher,
	tracer trace.Tracer,
) *StoreLifecycleService {
	if publisher == nil {
		publisher = port.NopPublisher{}
	}
	return &StoreLifecycleService{
		policies:     policies,
		reservations: reservations,
		releaser: &stockReleaser{
			tx:           tx,
			reservations: reservations,
			ledger:       ledger,
			publisher:    publisher,
			clock:        time.Now,
		},
		tracer: tracer,
	}
}

// HandleStoreDeleted 删除店铺运费策略，并把店铺所有 PENDING 预占单置为 FAILED、释放库存。
// 重复投递是安全的：策略已删除时忽略，预占单由 CAS 保证只释放一次。
func (s *StoreLifecycleService) HandleStoreDeleted(ctx context.Context, event *domain.StoreDeletedEvent) error {
	ctx, span := s.tracer.Start(ctx, "service.HandleStoreDeleted")
	defer span.End()
	span.SetAttributes(attribute.String("store.id", event.StoreID))

	if event.StoreID == "" {
		return tracing.Fail(span, errors.Wrap(domain.ErrInvalidRequest, "store_id is required"))
	}

	if err := s.policies.DeleteByStore(ctx, event.StoreID, event.DeletedBy); err != nil && !errors.Is(err, domain.ErrPolicyNotFound) {
		return tracing.Fail(span, errors.Wrap(err, "delete delivery policy"))
	}

	pending, err := s.reservations.FindPendingByStore(ctx, event.StoreID)
	if err != nil {
		return tracing.Fail(span, errors.Wrap(err, "find pending reservations"))
	}

	var failures int
	for _, res := range pending {
		applied, err := s.releaser.release(ctx, res, domain.StateFailed)
		if err != nil {
			failures++
			logger.Ctx(ctx).Error().Err(err).Str("reservation_id", res.ID).Msg("failed to release reservation of deleted store")
			continue
		}
		if applied {
			s.releaser.publish(ctx, res, domain.StateFailed, "store_deleted")
		}
	}

	logger.Ctx(ctx).Info().
		Str("store_id", event.StoreID).
		Int("pending", len(pending)).
		Int("failures", failures).
		Msg("store deletion handled")
	if failures > 0 {
		return tracing.Fail(span, errors.Errorf("%d reservations of store %s could not be released", failures, event.StoreID))
	}
	return nil
}
