package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"possales/server/internal/models"
	"possales/server/internal/services"

	"github.com/segmentio/kafka-go"
)

// SaleRecorder проводит продажу в журнале
type SaleRecorder interface {
	RecordSale(input services.SaleInput) (*models.Sale, error)
}

// decodeSaleMessage разбирает продажу с кассы (Protobuf Struct или JSON)
func decodeSaleMessage(value []byte) (services.SaleInput, error) {
	var input services.SaleInput
	if err := decodePayload(value, &input); err != nil {
		return services.SaleInput{}, err
	}
	if len(input.Items) == 0 {
		return services.SaleInput{}, services.ErrEmptySale
	}
	return input, nil
}

// KafkaSalesConsumer читает продажи касс из Kafka и проводит их через журнал продаж
type KafkaSalesConsumer struct {
	topic     string
	groupID   string
	reader    *kafka.Reader
	recorder  SaleRecorder
	ctx       context.Context
	cancel    context.CancelFunc
	processed int64
	skipped   int64
	lastLog   int64
}

// NewKafkaSalesConsumer создает consumer; чтение начинается после Start
func NewKafkaSalesConsumer(brokers, topic string, recorder SaleRecorder, username, password, caCert string) *KafkaSalesConsumer {
	const groupID = "possales-ledger-v1"
	ctx, cancel := context.WithCancel(context.Background())
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     ParseKafkaBrokers(brokers),
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     1 * time.Second,
		Dialer:      CreateKafkaDialer(username, password, caCert),
	})
	return &KafkaSalesConsumer{
		topic:    topic,
		groupID:  groupID,
		reader:   reader,
		recorder: recorder,
		ctx:      ctx,
		cancel:   cancel,
		lastLog:  time.Now().Unix(),
	}
}

// Start запускает чтение в отдельной горутине.
// Offset фиксируется после обработки; повторная доставка чека отсекается по номеру чека.
func (kc *KafkaSalesConsumer) Start() {
	log.Printf("📡 Kafka Sales Consumer запущен: topic=%s, groupID=%s", kc.topic, kc.groupID)

	go func() {
		for {
			msg, err := kc.reader.FetchMessage(kc.ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || kc.ctx.Err() != nil {
					return
				}
				log.Printf("⚠️ Kafka Sales Consumer ошибка чтения: %v", err)
				time.Sleep(1 * time.Second)
				continue
			}

			if err := kc.handle(msg.Value); err != nil {
				atomic.AddInt64(&kc.skipped, 1)
				log.Printf("⚠️ Продажа offset=%d partition=%d пропущена: %v", msg.Offset, msg.Partition, err)
			}
			if err := kc.reader.CommitMessages(kc.ctx, msg); err != nil && kc.ctx.Err() == nil {
				log.Printf("⚠️ Kafka Sales Consumer ошибка фиксации offset=%d: %v", msg.Offset, err)
			}

			processed := atomic.AddInt64(&kc.processed, 1)
			now := time.Now().Unix()
			if now-atomic.LoadInt64(&kc.lastLog) >= 5 {
				atomic.StoreInt64(&kc.lastLog, now)
				log.Printf("📊 Kafka Sales Consumer: обработано %d сообщений, пропущено %d", processed, atomic.LoadInt64(&kc.skipped))
			}
		}
	}()
}

// handle: дубликаты чеков не считаются ошибкой
func (kc *KafkaSalesConsumer) handle(value []byte) error {
	input, err := decodeSaleMessage(value)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if _, err := kc.recorder.RecordSale(input); err != nil {
		if errors.Is(err, services.ErrDuplicateReceipt) {
			return nil
		}
		return err
	}
	return nil
}

// Stop останавливает consumer
func (kc *KafkaSalesConsumer) Stop() {
	kc.cancel()
	if kc.reader != nil {
		kc.reader.Close()
	}
	log.Println("🛑 Kafka Sales Consumer остановлен")
}
