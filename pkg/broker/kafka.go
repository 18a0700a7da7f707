// Package broker forwards committed engine events to Kafka for indexers
// and other off-process observers.
package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/uhyunpark/zklite/pkg/app/core/events"
	"go.uber.org/zap"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each event record as one message. Messages of a
// pair share a key, so a partition sees that pair's events in order.
type KafkaSink struct {
	writer messageWriter
	topic  string
	log    *zap.SugaredLogger
}

// NewKafkaSink writes asynchronously so a slow broker never stalls the
// engine; delivery failures are logged from the completion callback.
func NewKafkaSink(brokers []string, topic string, log *zap.SugaredLogger) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
	}
	k := newKafkaSink(w, topic, log)
	w.Completion = func(msgs []kafka.Message, err error) {
		if err != nil {
			k.log.Errorw("kafka_publish_failed", "topic", topic, "count", len(msgs), "err", err)
		}
	}
	return k
}

func newKafkaSink(w messageWriter, topic string, log *zap.SugaredLogger) *KafkaSink {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &KafkaSink{writer: w, topic: topic, log: log}
}

// Publish implements events.Sink.
func (k *KafkaSink) Publish(ctx context.Context, records []events.Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(records))
	for _, rec := range records {
		msg, err := message(rec)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		k.log.Errorw("kafka_publish_failed", "topic", k.topic, "first_seq", records[0].Seq, "count", len(records), "err", err)
		return fmt.Errorf("failed to publish %d events: %w", len(records), err)
	}
	return nil
}

func (k *KafkaSink) Close() error { return k.writer.Close() }

func message(rec events.Record) (kafka.Message, error) {
	value, err := rec.MarshalJSON()
	if err != nil {
		return kafka.Message{}, err
	}
	kind := string(rec.Event.Kind())
	return kafka.Message{
		Key:   []byte(partitionKey(rec.Event)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(kind)},
			{Key: "seq", Value: []byte(strconv.FormatUint(rec.Seq, 10))},
		},
	}, nil
}

// partitionKey is the event's pair topic; every event kind has one first.
func partitionKey(ev events.Event) string {
	if topics := ev.Topics(); len(topics) > 0 {
		return topics[0]
	}
	return string(ev.Kind())
}

var _ events.Sink = (*KafkaSink)(nil)
