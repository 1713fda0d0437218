package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"supportchat-ws/internal/domain"

	"github.com/segmentio/kafka-go"
)

const writeTimeout = 5 * time.Second

// KafkaProducer relays committed events to other instances. Events are keyed
// by conversation so one partition, and one relay goroutine, carries each
// conversation's events in order.
type KafkaProducer struct {
	Writer *kafka.Writer
	queue  chan domain.Event
}

func NewKafkaProducer(brokers []string, topic string, buffer int) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		// Optimize for low latency
		BatchSize:    1,
		BatchTimeout: time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &KafkaProducer{Writer: writer, queue: make(chan domain.Event, buffer)}
}

// Publish queues the event without blocking the caller. A full queue drops
// the event; remote peers then catch up through the REST history.
func (k *KafkaProducer) Publish(event domain.Event) {
	select {
	case k.queue <- event:
	default:
		log.Printf("Kafka relay queue full, dropping %s for conversation %s", event.Type, event.ConversationID)
	}
}

// Run drains the queue until ctx is done.
func (k *KafkaProducer) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Kafka relay recovered from panic: %v", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-k.queue:
			if err := k.SendEvent(ctx, event); err != nil {
				log.Printf("Failed to relay %s for conversation %s: %v", event.Type, event.ConversationID, err)
			}
		}
	}
}

func (k *KafkaProducer) SendEvent(ctx context.Context, event domain.Event) error {
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return k.Writer.WriteMessages(ctx, msg)
}

func encodeEvent(event domain.Event) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(event.ConversationID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "origin", Value: []byte(event.Origin)},
		},
	}, nil
}

func (k *KafkaProducer) Close() error {
	return k.Writer.Close()
}
