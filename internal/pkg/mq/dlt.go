package mq

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// 死信消息头，记录原始位置和失败原因
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionMessage  = "x-exception-message"
)

// MessageWriter 是 *kafka.Writer 的写入子集
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// DeadLetter 基于原消息构造一条死信：保留 key、value 和原有头（含 trace context），追加来源与错误信息
func DeadLetter(msg kafka.Message, cause error) kafka.Message {
	headers := make(KafkaHeaderCarrier, 0, len(msg.Headers)+4)
	headers = append(headers, msg.Headers...)
	headers.Set(HeaderOriginalTopic, msg.Topic)
	headers.Set(HeaderOriginalPartition, strconv.Itoa(msg.Partition))
	headers.Set(HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	if cause != nil {
		headers.Set(HeaderExceptionMessage, cause.Error())
	}
	return kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}
