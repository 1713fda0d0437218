package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"supportchat-ws/internal/domain"

	"github.com/segmentio/kafka-go"
)

type EventHandler interface {
	HandleRemoteEvent(event domain.Event)
}

type KafkaConsumer struct {
	reader  *kafka.Reader
	handler EventHandler
}

// NewKafkaConsumer reads the relay topic. Each instance uses its own group so
// every instance sees every event.
func NewKafkaConsumer(brokers []string, groupID, topic string, handler EventHandler) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,    // Read immediately, don't wait for batches
		MaxBytes:       10e6, // 10MB max
		CommitInterval: 100 * time.Millisecond,
		StartOffset:    kafka.LastOffset,
		MaxWait:        100 * time.Millisecond,
	})
	return &KafkaConsumer{reader: reader, handler: handler}
}

// Start consumes until ctx is done.
func (k *KafkaConsumer) Start(ctx context.Context) error {
	for {
		m, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("Kafka consumer stopping...")
				return nil
			}
			if errors.Is(err, kafka.RebalanceInProgress) || errors.Is(err, kafka.LeaderNotAvailable) {
				log.Printf("Kafka group not ready (%v), continuing...", err)
				continue
			}
			log.Printf("Error reading Kafka message: %v", err)
			time.Sleep(time.Second)
			continue
		}
		k.handleMessage(m.Value)
	}
}

func (k *KafkaConsumer) handleMessage(value []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in handleMessage: %v", r)
		}
	}()

	event, err := decodeEvent(value)
	if err != nil {
		log.Printf("Error unmarshaling chat event: %v", err)
		return
	}
	if k.handler != nil {
		k.handler.HandleRemoteEvent(event)
	}
}

func decodeEvent(value []byte) (domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return domain.Event{}, err
	}
	if event.ConversationID == "" || event.Type == "" {
		return domain.Event{}, errors.New("event is missing type or conversation_id")
	}
	return event, nil
}

func (k *KafkaConsumer) Close() error {
	return k.reader.Close()
}
