// Package loop drives the periodic collect, store, evaluate and persist cycle.
package loop

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"hostwatch/internal/alerts"
	"hostwatch/internal/logger"
	"hostwatch/internal/metrics"
	"hostwatch/internal/models"
	"hostwatch/internal/sampler"
)

// Collector produces one sample per call.
type Collector interface {
	Collect(ctx context.Context) (models.Sample, error)
}

// Store is the writer side of the shared state.
type Store interface {
	Update(s models.Sample) error
}

// Evaluator runs alert rules against a sample.
type Evaluator interface {
	Evaluate(ctx context.Context, s models.Sample) []alerts.Alert
}

// Sink accepts samples for persistence without blocking.
type Sink interface {
	Enqueue(s models.Sample) bool
}

// Result describes the outcome of one tick.
type Result string

const (
	ResultOK      Result = "ok"
	ResultPartial Result = "partial"
	ResultFailed  Result = "failed"
	ResultPanic   Result = "panic"
)

// Config wires the loop's collaborators. Engine and Sink are optional.
type Config struct {
	Sampler  Collector
	Store    Store
	Engine   Evaluator
	Sink     Sink
	Interval time.Duration
}

// Loop is the single writer of the shared state.
type Loop struct {
	cfg Config
}

// New creates a loop. A non-positive interval means one second.
func New(cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Loop{cfg: cfg}
}

// Run ticks immediately and then once per interval until ctx is cancelled.
// Ticks never overlap; a slow tick delays the next one.
func (l *Loop) Run(ctx context.Context) error {
	log := logger.WithComponent("loop")
	log.Info().Dur("interval", l.cfg.Interval).Msg("distribution loop starting")

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		l.Tick(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("distribution loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one collect, update, evaluate, enqueue cycle.
func (l *Loop) Tick(ctx context.Context) (result Result) {
	log := logger.WithComponent("loop")

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("tick panicked")
			metrics.PanicsRecovered.WithLabelValues("loop").Inc()
			result = ResultPanic
		}
		metrics.TicksTotal.WithLabelValues(string(result)).Inc()
	}()

	collectCtx, cancel := context.WithTimeout(ctx, l.cfg.Interval)
	sample, err := l.cfg.Sampler.Collect(collectCtx)
	cancel()

	result = ResultOK
	if err != nil {
		var cerr *sampler.CollectionError
		if !errors.As(err, &cerr) || cerr.Total {
			log.Warn().Err(err).Msg("collection failed, keeping previous sample")
			return ResultFailed
		}
		log.Warn().Err(err).Strs("failed", cerr.Failed).Msg("partial collection")
		result = ResultPartial
	}

	if err := l.cfg.Store.Update(sample); err != nil {
		log.Error().Err(err).Msg("state update failed")
		return ResultFailed
	}

	if l.cfg.Engine != nil {
		l.cfg.Engine.Evaluate(ctx, sample)
	}

	if l.cfg.Sink != nil && !l.cfg.Sink.Enqueue(sample) {
		log.Warn().Msg("persistence queue full, sample dropped")
	}

	metrics.HostCPUUsage.Set(sample.CPUUsage)
	metrics.HostMemoryUsage.Set(sample.MemoryUsagePercent())

	return result
}
