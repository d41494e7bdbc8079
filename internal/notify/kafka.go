package notify

import (
	"context"
	"encoding/json"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig configures the optional Kafka fan-out, mirroring
// internal/config.EventBusKafkaConfig.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	ClientID     string
	RequiredAcks int
}

// KafkaBus wraps a LocalBus (for in-process subscribers, e.g. the
// WebSocket hub) and additionally writes every published event to a Kafka
// topic for external consumers, adapted from the teacher's
// pkg/eventbus/kafka_eventbus.go adapter-over-local-bus shape. A publish
// failure to Kafka is logged and otherwise ignored — per spec.md §11 this
// bus is a best-effort observer, never a verification-blocking sink.
type KafkaBus struct {
	local  *LocalBus
	writer *kafka.Writer
	logger *zap.Logger
}

var _ Bus = (*KafkaBus)(nil)

// NewKafkaBus constructs a KafkaBus. The underlying kafka.Writer dials
// lazily on first WriteMessages call, so construction never blocks on
// broker connectivity.
func NewKafkaBus(cfg KafkaConfig, logger *zap.Logger) *KafkaBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	acks := kafka.RequireOne
	switch cfg.RequiredAcks {
	case 0:
		acks = kafka.RequireNone
	case -1:
		acks = kafka.RequireAll
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: acks,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaBus{local: NewLocalBus(), writer: writer, logger: logger}
}

// Publish implements Bus: delivers to local subscribers synchronously and
// enqueues a best-effort Kafka write.
func (b *KafkaBus) Publish(event Event) {
	b.local.Publish(event)

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("notify: failed to marshal event for kafka", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.writer.WriteMessages(ctx, kafka.Message{Key: []byte(event.JobID), Value: payload}); err != nil {
		b.logger.Warn("notify: kafka publish failed", zap.String("job_id", event.JobID), zap.Error(err))
	}
}

// Subscribe implements Bus by delegating to the local bus.
func (b *KafkaBus) Subscribe(bufferSize int) (<-chan Event, func()) {
	return b.local.Subscribe(bufferSize)
}

// SubscriberCount implements Bus.
func (b *KafkaBus) SubscriberCount() int { return b.local.SubscriberCount() }

// Close implements Bus, closing the underlying Kafka writer.
func (b *KafkaBus) Close() error {
	return b.writer.Close()
}
