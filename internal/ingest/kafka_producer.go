// Package ingest publishes live ride location samples to Kafka. The
// consumer binary turns them into Redis GEO updates and websocket fan-out.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/carpool/internal/models"
)

// LocationPublisher is what the services see; nil-safe no-op when Kafka
// is not configured.
type LocationPublisher interface {
	PublishLocation(u models.LocationUpdate) error
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) PublishLocation(u models.LocationUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(u.RideID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// NopPublisher drops location updates; rides still work without the
// realtime pipeline.
type NopPublisher struct{}

func (NopPublisher) PublishLocation(models.LocationUpdate) error { return nil }
