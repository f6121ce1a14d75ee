package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewWriter is the producer behind the outbox dispatcher. Topic comes from
// each message.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}
