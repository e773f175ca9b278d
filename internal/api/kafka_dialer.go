package api

import (
	"crypto/tls"
	"crypto/x509"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// kafkaSecurity: SASL/PLAIN при наличии логина и пароля, TLS при SASL или заданном CA (Aiven)
func kafkaSecurity(username, password, caCert string) (sasl.Mechanism, *tls.Config) {
	var mechanism sasl.Mechanism
	if username != "" && password != "" {
		mechanism = plain.Mechanism{Username: username, Password: password}
		log.Printf("🔐 Kafka: SASL/PLAIN аутентификация включена (username: %s)", username)
	}
	if mechanism == nil && caCert == "" {
		return nil, nil
	}

	// RootCAs == nil - системные сертификаты
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if caCert != "" {
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM([]byte(caCert)) {
			tlsConfig.RootCAs = pool
			log.Printf("🔒 Kafka: TLS с CA сертификатом включен")
		} else {
			log.Printf("⚠️ Kafka: не удалось распарсить CA сертификат, используем системные сертификаты")
		}
	} else {
		log.Printf("🔒 Kafka: TLS включен (системные сертификаты)")
	}
	return mechanism, tlsConfig
}

// CreateKafkaDialer создает dialer для consumer'ов
func CreateKafkaDialer(username, password, caCert string) *kafka.Dialer {
	mechanism, tlsConfig := kafkaSecurity(username, password, caCert)
	return &kafka.Dialer{
		Timeout:       10 * time.Second,
		DualStack:     true,
		SASLMechanism: mechanism,
		TLS:           tlsConfig,
	}
}

// CreateKafkaTransport создает транспорт для producer'ов (kafka.Writer)
func CreateKafkaTransport(username, password, caCert string) *kafka.Transport {
	mechanism, tlsConfig := kafkaSecurity(username, password, caCert)
	return &kafka.Transport{
		DialTimeout: 10 * time.Second,
		ClientID:    "possales-server",
		SASL:        mechanism,
		TLS:         tlsConfig,
	}
}

// ParseKafkaBrokers парсит строку с брокерами через запятую
func ParseKafkaBrokers(brokers string) []string {
	result := []string{}
	for _, broker := range strings.Split(strings.ReplaceAll(brokers, " ", ""), ",") {
		if broker != "" {
			result = append(result, broker)
		}
	}
	return result
}
