package service

import (
	"context"
	"fmt"
	"strconv"

	"bot_fleet/internal/models"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
)

// Writer is the subset of kafka.Writer the publisher needs; tests swap in
// a recording fake.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes fills to one topic, keyed by bot id so one bot's trades
// stay ordered within a partition.
type Kafka struct {
	writer Writer
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
		},
	}
}

// NewKafkaWithWriter wires a custom writer, for tests.
func NewKafkaWithWriter(w Writer) *Kafka {
	return &Kafka{writer: w}
}

func (k *Kafka) PublishTrade(ctx context.Context, rec models.TradeRecord) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("kafka.PublishTrade: %w", err)
		}
	}()

	value, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(rec.BotID, 10)),
		Value: value,
	})
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
