// Package queue publishes upload ids for the processing worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/pixelriver/internal/logging"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// brokerConn is the subset of *kafka.Conn used to check a broker at start-up.
type brokerConn interface {
	Brokers() ([]kafka.Broker, error)
	Close() error
}

var dialBroker = func(ctx context.Context, addr string) (brokerConn, error) {
	return kafka.DialContext(ctx, "tcp", addr)
}

// KafkaPublisher sends bare string payloads to a Kafka topic. The payload is
// also used as the message key so redeliveries of one upload stay on one
// partition.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher checks that at least one of brokers answers a metadata
// request before returning. The writer itself connects lazily.
func NewKafkaPublisher(ctx context.Context, brokers []string, writeTimeout time.Duration) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers")
	}
	if err := checkBrokers(ctx, brokers); err != nil {
		return nil, err
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           writeTimeout,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &KafkaPublisher{w: w}, nil
}

func checkBrokers(ctx context.Context, brokers []string) error {
	var errs []error
	for _, addr := range brokers {
		conn, err := dialBroker(ctx, addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("dial %s: %w", addr, err))
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("metadata from %s: %w", addr, err))
			continue
		}
		return nil
	}
	return fmt.Errorf("kafka unreachable: %w", errors.Join(errs...))
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, payload string) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(payload),
		Value: []byte(payload),
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// DisabledPublisher drops every message. It stands in for Kafka in local
// setups without a broker.
type DisabledPublisher struct {
	log logging.Logger
}

func NewDisabledPublisher(l logging.Logger) *DisabledPublisher {
	return &DisabledPublisher{log: l.With("module", "queue")}
}

func (p *DisabledPublisher) Publish(ctx context.Context, topic, payload string) error {
	p.log.Warn(ctx, "queue disabled, message dropped", "topic", topic, "payload", payload)
	return nil
}

func (p *DisabledPublisher) Close() error { return nil }
