package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/safety-core/internal/models"
)

// ShareProducer fans live-share telemetry out to Kafka, where the share-link
// viewer backend keeps its per-session view current. Events are keyed by
// session so positions and the final ended marker stay ordered.
type ShareProducer struct {
	writer *kafka.Writer
}

func NewShareProducer(brokers []string, topic string) *ShareProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &ShareProducer{writer: w}
}

func (p *ShareProducer) Publish(e models.ShareEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(e)
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.SessionID), Value: b})
}

func (p *ShareProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
