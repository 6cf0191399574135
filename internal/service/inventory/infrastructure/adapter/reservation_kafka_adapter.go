package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"marketplace/internal/pkg/mq"
	"marketplace/internal/service/inventory/domain"
)

// ReservationKafkaAdapter 实现了 port.ReservationEventPublisher
type ReservationKafkaAdapter struct {
	writer *kafka.Writer
}

func NewReservationKafkaAdapter(writer *kafka.Writer) *ReservationKafkaAdapter {
	return &ReservationKafkaAdapter{writer: writer}
}

// PublishReservationEvent 以预占单 ID 作为 key，保证同一预占单的事件有序
func (a *ReservationKafkaAdapter) PublishReservationEvent(ctx context.Context, event *domain.ReservationEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal reservation event: %w", err)
	}
	// mq.ProduceMessage 会自动注入追踪上下文
	return mq.ProduceMessage(ctx, a.writer, []byte(event.ReservationID), eventBytes)
}

// Close 关闭底层的Kafka writer。
func (a *ReservationKafkaAdapter) Close() error {
	return a.writer.Close()
}
