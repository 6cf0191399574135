package port

import (
	"context"

	"marketplace/internal/service/inventory/domain"
)

// ReservationEventPublisher 是预占单事件的出站端口。
type ReservationEventPublisher interface {
	PublishReservationEvent(ctx context.Context, event *domain.ReservationEvent) error
}

// NopPublisher 丢弃所有事件，未配置 Kafka 时使用。
type NopPublisher struct{}

func (NopPublisher) PublishReservationEvent(context.Context, *domain.ReservationEvent) error {
	return nil
}
