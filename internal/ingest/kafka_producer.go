package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ambulance-dispatch/internal/models"
)

// EventProducer appends dispatch lifecycle events and driver presence
// toggles to their kafka topics. Both streams are append-only audit feeds;
// the consumer binary applies the status stream to the redis mirror.
type EventProducer struct {
	dispatch *kafka.Writer
	status   *kafka.Writer
}

func NewEventProducer(brokers []string, dispatchTopic, statusTopic string) *EventProducer {
	return &EventProducer{
		dispatch: kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: dispatchTopic, Balancer: &kafka.LeastBytes{}}),
		status:   kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: statusTopic, Balancer: &kafka.LeastBytes{}}),
	}
}

func (p *EventProducer) PublishEvent(e models.DispatchEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(e)
	return p.dispatch.WriteMessages(ctx, kafka.Message{Key: []byte(e.RequestID), Value: b})
}

func (p *EventProducer) PublishDriverStatus(e models.DriverStatusEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(e)
	return p.status.WriteMessages(ctx, kafka.Message{Key: []byte(e.DriverID), Value: b})
}

func (p *EventProducer) Close() error {
	var first error
	for _, w := range []*kafka.Writer{p.dispatch, p.status} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
