package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"pop-reconciliation-backend/internal/telemetry"
)

const TopicStatusChanged = "payment.status.changed"

type StatusChanged struct {
	PaymentID     string    `json:"payment_id"`
	State         string    `json:"state"`
	PreviousState string    `json:"previous_state"`
	Timestamp     time.Time `json:"timestamp"`
}

type Publisher interface {
	PublishStatusChanged(ctx context.Context, ev StatusChanged) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *KafkaPublisher) PublishStatusChanged(ctx context.Context, ev StatusChanged) error {
	eventJSON, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.PaymentID),
		Value: eventJSON,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes events to the structured log only. Used when no
// brokers are configured.
type LogPublisher struct{}

func (LogPublisher) PublishStatusChanged(_ context.Context, ev StatusChanged) error {
	telemetry.Logger.Info("Payment status changed",
		zap.String("payment_id", ev.PaymentID),
		zap.String("from_state", ev.PreviousState),
		zap.String("to_state", ev.State),
	)
	return nil
}

func (LogPublisher) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []StatusChanged
}

func (r *Recorder) PublishStatusChanged(_ context.Context, ev StatusChanged) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []StatusChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusChanged(nil), r.events...)
}

func (r *Recorder) Close() error { return nil }
