package api

import (
	"context"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"possales/server/internal/services"

	"github.com/segmentio/kafka-go"
)

// KafkaRunPublisher отправляет события о запусках обучения в Kafka (google.protobuf.Struct)
type KafkaRunPublisher struct {
	writer *kafka.Writer
	topic  string
	sent   int64
}

// NewKafkaRunPublisher возвращает nil, если брокеры не заданы
func NewKafkaRunPublisher(brokers, topic, username, password, caCert string) *KafkaRunPublisher {
	brokerList := ParseKafkaBrokers(brokers)
	if len(brokerList) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokerList...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // события одного товара в одну партицию
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
		Transport:              CreateKafkaTransport(username, password, caCert),
	}
	log.Printf("✅ Kafka producer событий обучения: topic=%s, brokers=%v", topic, brokerList)
	return &KafkaRunPublisher{writer: writer, topic: topic}
}

func runEventKey(event services.RunEvent) []byte {
	if event.ProductID != nil {
		return []byte("product-" + strconv.FormatUint(uint64(*event.ProductID), 10))
	}
	return []byte("total")
}

// PublishRun синхронно пишет событие
func (p *KafkaRunPublisher) PublishRun(ctx context.Context, event services.RunEvent) error {
	value, err := encodeStruct(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   runEventKey(event),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "content-type", Value: []byte("application/x-protobuf; type=google.protobuf.Struct")},
		},
	})
	if err != nil {
		return err
	}
	if n := atomic.AddInt64(&p.sent, 1); n%100 == 0 {
		log.Printf("📊 Kafka: отправлено событий обучения: %d", n)
	}
	return nil
}

// Close закрывает Kafka writer
func (p *KafkaRunPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
