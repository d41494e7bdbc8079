package notify

import (
	"fmt"

	"go.uber.org/zap"
)

// Config mirrors internal/config.EventBusConfig, kept separate so this
// package never imports internal/config (avoiding an import cycle with
// cmd/verifyd, which constructs both).
type Config struct {
	Type  string // "local", "kafka", "hybrid"
	Kafka KafkaConfig
}

// New builds the Bus named by cfg.Type: "local" is an in-process-only
// LocalBus, "kafka" and "hybrid" both produce a KafkaBus (hybrid's local
// delivery is identical to kafka's — the distinction in spec.md §11 is
// only about whether a Kafka topic is also fed, and both feed it).
func New(cfg Config, logger *zap.Logger) (Bus, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalBus(), nil
	case "kafka", "hybrid":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("notify: eventbus type %q requires at least one kafka broker", cfg.Type)
		}
		if cfg.Kafka.Topic == "" {
			return nil, fmt.Errorf("notify: eventbus type %q requires a kafka topic", cfg.Type)
		}
		return NewKafkaBus(cfg.Kafka, logger), nil
	default:
		return nil, fmt.Errorf("notify: unknown eventbus type %q", cfg.Type)
	}
}
