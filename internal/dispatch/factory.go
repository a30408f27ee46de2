package dispatch

import (
	"fmt"

	"github.com/xelth-com/odoopricesync/internal/config"
)

const memoryQueueSize = 256

// New builds the queue selected by cfg.Driver
func New(cfg config.DispatchConfig) (Queue, error) {
	policy := DefaultRetryPolicy()

	switch cfg.Driver {
	case "", "memory":
		return NewMemoryQueue(memoryQueueSize, policy), nil
	case "inline":
		return NewInline(), nil
	case "redis":
		return NewRedisQueue(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key, policy)
	case "kafka":
		return NewKafkaQueue(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, policy)
	default:
		return nil, fmt.Errorf("unknown dispatch driver %q", cfg.Driver)
	}
}
