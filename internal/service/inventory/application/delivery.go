package application

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"marketplace/internal/pkg/tracing"
	"marketplace/internal/service/inventory/domain"
)

// DeliveryPolicyResolver 查询店铺运费策略并计算运费
type DeliveryPolicyResolver struct {
	policies domain.DeliveryPolicyRepository
	tracer   trace.Tracer
}

func NewDeliveryPolicyResolver(policies domain.DeliveryPolicyRepository, tracer trace.Tracer) *DeliveryPolicyResolver {
	return &DeliveryPolicyResolver{policies: policies, tracer: tracer}
}

// PolicyFor 返回店铺的运费策略，不存在时返回 ErrPolicyNotFound
func (r *DeliveryPolicyResolver) PolicyFor(ctx context.Context, storeID string) (*domain.DeliveryPolicy, error) {
	policy, err := r.policies.FindByStore(ctx, storeID)
	if err != nil {
		if errors.Is(err, domain.ErrPolicyNotFound) {
			return nil, errors.Wrapf(err, "store %s", storeID)
		}
		return nil, err
	}
	return policy, nil
}

// Resolve 计算店铺订单的运费
func (r *DeliveryPolicyResolver) Resolve(ctx context.Context, storeID string, totalQuantity, totalAmount int64) (int64, *domain.DeliveryPolicy, error) {
	ctx, span := r.tracer.Start(ctx, "service.ResolveDeliveryFee")
	defer span.End()
	span.SetAttributes(
		attribute.String("store.id", storeID),
		attribute.Int64("order.quantity", totalQuantity),
		attribute.Int64("order.amount", totalAmount),
	)

	policy, err := r.PolicyFor(ctx, storeID)
	if err != nil {
		return 0, nil, tracing.Fail(span, err)
	}
	fee := domain.ResolveFee(*policy, totalQuantity, totalAmount)
	span.SetAttributes(attribute.Int64("delivery.fee", fee))
	return fee, policy, nil
}

// SavePolicy 新建或覆盖店铺运费策略
func (r *DeliveryPolicyResolver) SavePolicy(ctx context.Context, policy *domain.DeliveryPolicy) error {
	if policy.StoreID == "" {
		return errors.Wrap(domain.ErrInvalidRequest, "store_id is required")
	}
	if policy.DefaultFee < 0 || policy.MinQuantityThreshold < 0 || policy.MinAmountThreshold < 0 {
		return errors.Wrap(domain.ErrInvalidRequest, "delivery policy values must not be negative")
	}
	return r.policies.Save(ctx, policy)
}
