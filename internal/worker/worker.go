package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"hostwatch/internal/logger"
	"hostwatch/internal/metrics"
	"hostwatch/internal/models"
	"hostwatch/internal/storage"
)

// Pool manages workers that drain a sample queue into a Persister in batches.
// Enqueue never blocks; a full queue drops the sample.
type Pool struct {
	persister    storage.Persister
	backend      string
	queue        chan models.Sample
	workers      int
	batchSize    int
	batchTimeout time.Duration

	mu     sync.RWMutex
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Persister    storage.Persister
	QueueSize    int
	Workers      int
	BatchSize    int
	BatchTimeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	metrics.SinkQueueCapacity.Set(float64(cfg.QueueSize))

	return &Pool{
		persister:    cfg.Persister,
		backend:      storage.BackendName(cfg.Persister),
		queue:        make(chan models.Sample, cfg.QueueSize),
		workers:      cfg.Workers,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing samples
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().
		Str("backend", p.backend).
		Int("workers", p.workers).
		Int("batch_size", p.batchSize).
		Dur("batch_timeout", p.batchTimeout).
		Msg("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Enqueue hands s to the workers without blocking. It reports whether the
// sample was accepted.
func (p *Pool) Enqueue(s models.Sample) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.drop()
		return false
	}

	select {
	case p.queue <- s:
		metrics.SinkQueueSize.Set(float64(len(p.queue)))
		return true
	default:
		p.drop()
		return false
	}
}

func (p *Pool) drop() {
	p.dropped.Add(1)
	metrics.SinkDroppedTotal.Inc()
}

// Shutdown stops accepting samples and waits for the queue to drain. If ctx
// expires first, in-flight writes are cancelled and ctx.Err() is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	log := logger.WithComponent("worker_pool")
	log.Info().Int("queued", len(p.queue)).Msg("draining worker pool")

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		log.Info().Msg("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		log.Warn().Msg("worker pool drain timed out")
		return ctx.Err()
	}
}

// worker processes samples from the queue
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
		}
	}()

	log.Debug().Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	batch := make([]models.Sample, 0, p.batchSize)
	timer := time.NewTimer(p.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case s, ok := <-p.queue:
			if !ok {
				// Queue closed, flush and exit
				p.persistBatch(batch)
				return
			}

			batch = append(batch, s)
			metrics.SinkQueueSize.Set(float64(len(p.queue)))

			if len(batch) >= p.batchSize {
				p.persistBatch(batch)
				batch = batch[:0]
				timer.Reset(p.batchTimeout)
			}

		case <-timer.C:
			p.persistBatch(batch)
			batch = batch[:0]
			timer.Reset(p.batchTimeout)
		}
	}
}

// persistBatch writes a batch, falling back to one-by-one writes on failure.
func (p *Pool) persistBatch(batch []models.Sample) {
	if len(batch) == 0 {
		return
	}

	log := logger.WithComponent("worker")
	start := time.Now()

	ctx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
	defer cancel()

	err := p.persister.StoreBatch(ctx, batch)
	duration := time.Since(start)

	metrics.PersistDuration.WithLabelValues(p.backend).Observe(duration.Seconds())

	if err != nil {
		log.Error().
			Err(err).
			Str("backend", p.backend).
			Int("batch_size", len(batch)).
			Dur("duration", duration).
			Msg("failed to persist batch")

		p.persistIndividually(batch)
		return
	}

	log.Debug().
		Int("batch_size", len(batch)).
		Dur("duration", duration).
		Msg("batch persisted")

	p.processed.Add(uint64(len(batch)))
	metrics.PersistTotal.WithLabelValues(p.backend, "success").Add(float64(len(batch)))
}

// persistIndividually retries each sample of a failed batch on its own.
func (p *Pool) persistIndividually(batch []models.Sample) {
	log := logger.WithComponent("worker")

	for _, s := range batch {
		ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
		err := p.persister.Store(ctx, s)
		cancel()

		if err != nil {
			log.Error().
				Err(err).
				Time("sample_time", s.Timestamp).
				Msg("failed to persist sample")
			p.failed.Add(1)
			metrics.PersistTotal.WithLabelValues(p.backend, "failed").Inc()
			continue
		}
		p.processed.Add(1)
		metrics.PersistTotal.WithLabelValues(p.backend, "success").Inc()
	}
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Queued:    len(p.queue),
		Capacity:  cap(p.queue),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
	Capacity  int    `json:"capacity"`
}
