package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"marketplace/internal/pkg/logger"
	"marketplace/internal/pkg/mq"
	"marketplace/internal/service/inventory/domain"
)

const eventTypeStoreDeleted = "StoreDeleted"

// StoreDeletedHandler 是店铺删除事件的处理方
type StoreDeletedHandler interface {
	HandleStoreDeleted(ctx context.Context, event *domain.StoreDeletedEvent) error
}

// MessageReader 是消费者用到的 kafka.Reader 方法子集
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// storeEventEnvelope 是 store-events 主题的消息格式
type storeEventEnvelope struct {
	Type    string                   `json:"type"`
	Payload domain.StoreDeletedEvent `json:"payload"`
}

// StoreEventConsumerAdapter 是一个驱动适配器，监听店铺事件并驱动应用服务
type StoreEventConsumerAdapter struct {
	reader  MessageReader
	handler StoreDeletedHandler
	topic   string
	// maxRetries 单条消息处理失败后的重试次数
	maxRetries uint64
	// dlt 为 nil 时重试耗尽的消息只记日志
	dlt     mq.MessageWriter
	wg      sync.WaitGroup
	stopped atomic.Bool
}

func NewStoreEventConsumerAdapter(reader MessageReader, handler StoreDeletedHandler, topic string) *StoreEventConsumerAdapter {
	return &StoreEventConsumerAdapter{reader: reader, handler: handler, topic: topic, maxRetries: 3}
}

// WithDeadLetter 设置死信队列的 writer
func (a *StoreEventConsumerAdapter) WithDeadLetter(w mq.MessageWriter) *StoreEventConsumerAdapter {
	a.dlt = w
	return a
}

// Start 开始监听 Kafka 主题，直到 ctx 结束或调用 Stop
func (a *StoreEventConsumerAdapter) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Msgf("✅ Kafka Consumer Adapter started for topic '%s'.", a.topic)
		for {
			if a.stopped.Load() {
				return
			}
			// 使用 FetchMessage 手动提交 offset
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || a.stopped.Load() {
					logger.Ctx(ctx).Info().Msg("🛑 Kafka Consumer Adapter shutting down.")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read message, retrying")
				time.Sleep(time.Second)
				continue
			}

			msgCtx := mq.ExtractContext(ctx, msg)
			policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), a.maxRetries), ctx)
			if err := backoff.Retry(func() error { return a.processMessage(msgCtx, msg) }, policy); err != nil {
				// 重试耗尽后转入死信队列，不阻塞分区
				a.deadLetter(msgCtx, msg, err)
			}
			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit messages")
			}
		}
	}()
}

// Stop 优雅地停止消费者
func (a *StoreEventConsumerAdapter) Stop(ctx context.Context) {
	a.stopped.Store(true)
	_ = a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Msg("✅ Kafka Consumer Adapter stopped.")
}

// processMessage 反序列化消息并调用应用服务；返回错误表示可以重试
func (a *StoreEventConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) error {
	var envelope storeEventEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		// 格式错误的消息重试也无法处理
		return backoff.Permanent(fmt.Errorf("failed to unmarshal store event: %w", err))
	}
	if envelope.Type != eventTypeStoreDeleted {
		return nil
	}

	if err := a.handler.HandleStoreDeleted(ctx, &envelope.Payload); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("store_id", envelope.Payload.StoreID).Msg("failed to handle store deleted event")
		return err
	}
	return nil
}

func (a *StoreEventConsumerAdapter) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if a.dlt == nil {
		logger.Ctx(ctx).Error().Err(cause).
			Int64("offset", msg.Offset).
			Msg("store event dropped, no dead letter topic configured")
		return
	}
	if err := a.dlt.WriteMessages(ctx, mq.DeadLetter(msg, cause)); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Int64("offset", msg.Offset).
			Msg("failed to forward store event to dead letter topic")
		return
	}
	logger.Ctx(ctx).Warn().Err(cause).
		Int64("offset", msg.Offset).
		Msg("🚨 store event moved to dead letter topic")
}
