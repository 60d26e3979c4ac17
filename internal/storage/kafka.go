package storage

import (
	"context"

	"hostwatch/internal/kafka"
	"hostwatch/internal/models"
)

// BatchPublisher is the part of the kafka producer the sink needs.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, recs []kafka.Record) error
}

// KafkaSink publishes each sample as a JSON envelope keyed by host.
type KafkaSink struct {
	publisher BatchPublisher
	host      string
}

// NewKafkaSink creates a sink tagging samples with host.
func NewKafkaSink(p BatchPublisher, host string) *KafkaSink {
	return &KafkaSink{publisher: p, host: host}
}

func (k *KafkaSink) Backend() string { return "kafka" }

func (k *KafkaSink) Store(ctx context.Context, s models.Sample) error {
	return k.StoreBatch(ctx, []models.Sample{s})
}

func (k *KafkaSink) StoreBatch(ctx context.Context, samples []models.Sample) error {
	recs := make([]kafka.Record, 0, len(samples))
	for i := range samples {
		env := models.NewEnvelope(&samples[i], k.host)
		rec, err := kafka.NewJSONRecord(env.PartitionKey, env, map[string]string{
			"host": env.Host,
		}, samples[i].Timestamp)
		if err != nil {
			return &PersistenceError{Backend: "kafka", Err: err}
		}
		recs = append(recs, rec)
	}

	if err := k.publisher.PublishBatch(ctx, recs); err != nil {
		return &PersistenceError{Backend: "kafka", Err: err}
	}
	return nil
}

// Close is a no-op; the producer is owned and closed by the caller.
func (k *KafkaSink) Close() error { return nil }
