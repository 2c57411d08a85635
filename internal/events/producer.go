package events

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"
)

const (
	DriverKafka = "kafka"
	DriverStdio = "stdio"
)

// ErrMissingBrokers is returned when the kafka driver is selected without
// broker addresses.
var ErrMissingBrokers = errors.New("events: kafka driver requires brokers")

// tlsEnvVar enables TLS on kafka connections when set to 1/true.
const tlsEnvVar = "CUSTODY_EVENTS_KAFKA_TLS"

// Producer publishes lifecycle events.
type Producer interface {
	Publish(ctx context.Context, evs ...Event) error
	Close() error
}

// NewProducer selects a producer driver. Kafka keys messages by event id so
// all changes for one record land on the same partition; stdio writes JSON
// lines and mainly serves local runs and tests.
func NewProducer(driver string, brokers []string, topic string) (Producer, error) {
	switch normalizeDriver(driver) {
	case DriverKafka:
		if len(brokers) == 0 {
			return nil, ErrMissingBrokers
		}
		w := &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
		if useTLS() {
			w.Transport = &kafka.Transport{TLS: &tls.Config{MinVersion: tls.VersionTLS12}}
		}
		return &kafkaProducer{writer: w}, nil
	case DriverStdio:
		return NewWriterProducer(os.Stdout), nil
	default:
		return nil, fmt.Errorf("events: unknown producer driver %q", driver)
	}
}

type kafkaProducer struct {
	writer *kafka.Writer
}

func (p *kafkaProducer) Publish(ctx context.Context, evs ...Event) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		body, err := ev.Encode()
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.ID),
			Value: body,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("events: write kafka messages: %w", err)
	}
	return nil
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}

// NewWriterProducer publishes events as JSON lines on w.
func NewWriterProducer(w io.Writer) Producer {
	return &writerProducer{w: w}
}

type writerProducer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *writerProducer) Publish(_ context.Context, evs ...Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range evs {
		body, err := ev.Encode()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(p.w, "%s\n", body); err != nil {
			return fmt.Errorf("events: write event: %w", err)
		}
	}
	return nil
}

func (p *writerProducer) Close() error { return nil }

func normalizeDriver(driver string) string {
	return strings.ToLower(strings.TrimSpace(driver))
}

func useTLS() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(tlsEnvVar))) {
	case "1", "true", "yes":
		return true
	}
	return false
}
