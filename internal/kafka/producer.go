package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"hostwatch/internal/config"
	"hostwatch/internal/logger"
	"hostwatch/internal/metrics"
)

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize message")
)

// Record is one message to publish.
type Record struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
	Time    time.Time
}

// NewJSONRecord serializes v as the record value.
func NewJSONRecord(key string, v any, headers map[string]string, t time.Time) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}
	return Record{Key: []byte(key), Value: data, Headers: headers, Time: t}, nil
}

func (r Record) message() kafka.Message {
	msg := kafka.Message{Key: r.Key, Value: r.Value, Time: r.Time}
	for k, v := range r.Headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return msg
}

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.WriterStats
	Close() error
}

// Producer is a Kafka producer with a writer pool, retry and compression.
type Producer struct {
	cfg     config.ProducerConfig
	topic   string
	writers []messageWriter
	pool    chan messageWriter
	closed  atomic.Bool

	// Metrics
	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
	bytesWritten   atomic.Uint64
}

// ProducerOption is a functional option for configuring the producer
type ProducerOption func(*Producer)

// withWriterFactory replaces the kafka writers, used in tests.
func withWriterFactory(fn func() messageWriter) ProducerOption {
	return func(p *Producer) {
		for i := range p.writers {
			_ = p.writers[i].Close()
			p.writers[i] = fn()
		}
	}
}

// NewProducer creates a new Kafka producer for topic.
func NewProducer(brokers []string, topic string, cfg config.ProducerConfig, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}

	if topic == "" {
		return nil, errors.New("topic is required")
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 2
	}

	p := &Producer{
		cfg:     cfg,
		topic:   topic,
		writers: make([]messageWriter, cfg.PoolSize),
		pool:    make(chan messageWriter, cfg.PoolSize),
	}

	compression := getCompression(cfg.Compression)
	for i := 0; i < cfg.PoolSize; i++ {
		p.writers[i] = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // Partition by key
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:  compression,
			MaxAttempts:  1, // retries are handled by publishWithRetry
		}
	}

	// Apply options
	for _, opt := range opts {
		opt(p)
	}

	for _, w := range p.writers {
		p.pool <- w
	}

	return p, nil
}

// getCompression returns the kafka compression codec
func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// Topic returns the topic this producer writes to.
func (p *Producer) Topic() string { return p.topic }

// Publish sends a single record.
func (p *Producer) Publish(ctx context.Context, rec Record) error {
	return p.PublishBatch(ctx, []Record{rec})
}

// PublishBatch sends records in a single write.
func (p *Producer) PublishBatch(ctx context.Context, recs []Record) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	if len(recs) == 0 {
		return nil
	}

	log := logger.WithComponent("kafka_producer")
	start := time.Now()

	messages := make([]kafka.Message, len(recs))
	var bytesTotal uint64
	for i, rec := range recs {
		messages[i] = rec.message()
		bytesTotal += uint64(len(rec.Value))
	}

	// Get writer from pool
	var writer messageWriter
	select {
	case writer = <-p.pool:
		defer func() { p.pool <- writer }()
	case <-ctx.Done():
		p.messagesFailed.Add(uint64(len(messages)))
		return ctx.Err()
	}

	err := p.publishWithRetry(ctx, writer, messages)
	duration := time.Since(start)

	metrics.KafkaPublishDuration.Observe(duration.Seconds())

	if err != nil {
		log.Error().
			Err(err).
			Str("topic", p.topic).
			Int("batch_size", len(messages)).
			Dur("duration", duration).
			Msg("failed to publish to kafka")
		p.messagesFailed.Add(uint64(len(messages)))
		metrics.KafkaPublishTotal.WithLabelValues("failed").Add(float64(len(messages)))
		return err
	}

	log.Debug().
		Str("topic", p.topic).
		Int("batch_size", len(messages)).
		Dur("duration", duration).
		Msg("published to kafka")

	p.messagesSent.Add(uint64(len(messages)))
	p.bytesWritten.Add(bytesTotal)
	metrics.KafkaPublishTotal.WithLabelValues("success").Add(float64(len(messages)))
	metrics.KafkaBytesWritten.Add(float64(bytesTotal))

	return nil
}

// publishWithRetry writes messages with exponential backoff retry
func (p *Producer) publishWithRetry(ctx context.Context, writer messageWriter, messages []kafka.Message) error {
	log := logger.WithComponent("kafka_producer")
	var lastErr error
	backoff := p.cfg.RetryBackoff

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt).
				Int("batch_size", len(messages)).
				Dur("backoff", backoff).
				Msg("retrying kafka publish")

			metrics.KafkaPublishRetries.Inc()

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := writer.WriteMessages(ctx, messages...)
		if err == nil {
			return nil
		}

		lastErr = err

		// Check for non-retryable errors
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// Close closes all writers in the pool
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil // Already closed
	}

	var errs []error
	for _, writer := range p.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
		BytesWritten:   p.bytesWritten.Load(),
	}
}

// ProducerStats holds producer metrics
type ProducerStats struct {
	MessagesSent   uint64 `json:"messages_sent"`
	MessagesFailed uint64 `json:"messages_failed"`
	BytesWritten   uint64 `json:"bytes_written"`
}

// HealthCheck verifies a writer is available.
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	var writer messageWriter
	select {
	case writer = <-p.pool:
		defer func() { p.pool <- writer }()
	case <-ctx.Done():
		return ctx.Err()
	}

	_ = writer.Stats()
	return nil
}
