// Package kafka publishes submission events to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/DeeparthGupta/dharaniDairyWeb/internal/correlation"
)

// Config configures the producer.
type Config struct {
	Brokers      []string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes JSON payloads to Kafka, keyed by correlation id.
type Publisher struct {
	writer messageWriter
	logger *zap.Logger
	seq    atomic.Int64
}

// New creates a Publisher. Writes are synchronous so that failures surface to the caller.
func New(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		WriteTimeout:           writeTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error("kafka writer error", zap.String("detail", fmt.Sprintf(msg, args...)))
		}),
	}
	logger.Info("kafka publisher created", zap.Strings("brokers", cfg.Brokers))
	return newWithWriter(w, logger), nil
}

func newWithWriter(w messageWriter, logger *zap.Logger) *Publisher {
	return &Publisher{writer: w, logger: logger}
}

// Publish marshals payload and writes it to topic. The returned id is the correlation id
// when present, otherwise a local sequence number.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("kafka topic is required")
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	key := correlation.FromContext(ctx)
	msg := kafka.Message{Topic: topic, Value: value}
	if key != "" {
		msg.Key = []byte(key)
		msg.Headers = []kafka.Header{{Key: "X-Request-ID", Value: []byte(key)}}
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	seq := p.seq.Add(1)
	if key != "" {
		return key, nil
	}
	return fmt.Sprintf("%s-%d", topic, seq), nil
}

// Close flushes buffered messages and closes the writer.
func (p *Publisher) Close() error {
	p.logger.Info("closing kafka publisher")
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
