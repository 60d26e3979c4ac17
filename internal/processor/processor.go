// Package processor wires the sampler, state store, alert engine, persistence
// pipeline and HTTP surface together and owns their lifecycle.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hostwatch/internal/alerts"
	"hostwatch/internal/config"
	"hostwatch/internal/handlers"
	"hostwatch/internal/kafka"
	"hostwatch/internal/logger"
	"hostwatch/internal/loop"
	"hostwatch/internal/metrics"
	"hostwatch/internal/middleware"
	"hostwatch/internal/sampler"
	"hostwatch/internal/state"
	"hostwatch/internal/storage"
	"hostwatch/internal/worker"
)

const (
	httpShutdownTimeout = 10 * time.Second
	sinkDrainTimeout    = 15 * time.Second
	statsInterval       = 30 * time.Second
)

// Option customizes a Processor.
type Option func(*Processor)

// WithProvider replaces the gopsutil metrics provider.
func WithProvider(p sampler.Provider) Option {
	return func(pr *Processor) { pr.provider = p }
}

// WithPersister replaces the configured persistence backend.
func WithPersister(p storage.Persister) Option {
	return func(pr *Processor) { pr.persister = p }
}

// Processor is the high-level coordinator for sampling, alerting and
// distribution.
type Processor struct {
	cfg  *config.Config
	host string

	provider  sampler.Provider
	store     *state.Store
	engine    *alerts.Engine
	loop      *loop.Loop
	persister storage.Persister
	pool      *worker.Pool

	// producer backs the kafka storage backend, alertProducer the kafka
	// notifier. Either may be nil.
	producer      *kafka.Producer
	alertProducer *kafka.Producer

	handler    http.Handler
	httpServer *http.Server
	closers    []io.Closer
	wg         sync.WaitGroup
}

// New constructs a Processor from a validated config.
func New(cfg *config.Config, opts ...Option) (*Processor, error) {
	p := &Processor{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}

	p.host, _ = os.Hostname()
	if p.host == "" {
		p.host = "unknown"
	}

	if p.provider == nil {
		p.provider = sampler.NewGopsutilProvider(sampler.GopsutilOptions{
			Temperatures: cfg.Sampler.Temperatures,
			Connections:  cfg.Sampler.Connections,
		})
	}

	p.store = state.New(cfg.History.Capacity)

	if err := p.initEngine(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("failed to initialize alert engine: %w", err)
	}

	if err := p.initPersister(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("failed to initialize persister: %w", err)
	}
	p.initWorkerPool()

	interval, err := cfg.Interval()
	if err != nil {
		p.closeAll()
		return nil, fmt.Errorf("invalid sampler interval: %w", err)
	}
	p.loop = loop.New(loop.Config{
		Sampler:  sampler.New(p.provider, sampler.Options{MaxProcesses: cfg.Sampler.MaxProcesses}),
		Store:    p.store,
		Engine:   p.engine,
		Sink:     p.pool,
		Interval: interval,
	})

	p.initHTTP()
	return p, nil
}

// Store returns the shared state store. The dashboard reads from it.
func (p *Processor) Store() *state.Store { return p.store }

// Handler returns the HTTP handler serving the API, health, stats and
// prometheus endpoints.
func (p *Processor) Handler() http.Handler { return p.handler }

func (p *Processor) initEngine() error {
	log := logger.WithComponent("processor")

	timeout, err := p.cfg.NotifyTimeout()
	if err != nil {
		return err
	}
	p.engine = alerts.NewEngine(alerts.Options{NotifyTimeout: timeout})

	for _, r := range alerts.DefaultRules(p.cfg.Alerts.MemoryWarning, p.cfg.Alerts.MemoryCritical) {
		p.engine.AddRule(r)
	}
	for _, rc := range p.cfg.Alerts.Rules {
		rule, err := alerts.NewThresholdRule(rc.Name, rc.Metric, rc.Op, rc.Threshold, alerts.ParseSeverity(rc.Severity))
		if err != nil {
			return fmt.Errorf("rule %q: %w", rc.Name, err)
		}
		p.engine.AddRule(rule)
		log.Debug().
			Str("rule", rule.Name()).
			Str("severity", string(rule.Severity())).
			Float64("threshold", rule.Threshold()).
			Msg("custom alert rule added")
	}

	n := p.cfg.Alerts.Notifiers
	if n.Log {
		p.engine.AddNotifier(alerts.NewLogNotifier(logger.WithComponent("alerts")))
	}
	if n.File != "" {
		if dir := filepath.Dir(n.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating alert file dir: %w", err)
			}
		}
		f, err := os.OpenFile(n.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening alert file: %w", err)
		}
		p.closers = append(p.closers, f)
		p.engine.AddNotifier(alerts.NewWriterNotifier("file", f))
	}
	if n.WebhookURL != "" {
		p.engine.AddNotifier(alerts.NewWebhookNotifier(n.WebhookURL, timeout))
	}
	if n.Kafka {
		producer, err := kafka.NewProducer(p.cfg.Kafka.Brokers, p.cfg.Kafka.AlertsTopic, p.cfg.Kafka.Producer)
		if err != nil {
			return fmt.Errorf("alerts producer: %w", err)
		}
		p.alertProducer = producer
		p.engine.AddNotifier(alerts.NewKafkaNotifier(producer))
	}

	log.Info().
		Int("rules", len(p.engine.Rules())).
		Float64("memory_warning", p.cfg.Alerts.MemoryWarning).
		Float64("memory_critical", p.cfg.Alerts.MemoryCritical).
		Msg("alert engine initialized")
	return nil
}

func (p *Processor) initPersister() error {
	log := logger.WithComponent("processor")

	if p.persister != nil {
		log.Info().Str("backend", storage.BackendName(p.persister)).Msg("using provided persister")
		return nil
	}

	switch p.cfg.Storage.Backend {
	case "sqlite":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		db, err := storage.OpenSQLite(ctx, p.cfg.Storage.Path)
		if err != nil {
			return err
		}
		p.persister = db
		log.Info().Str("path", p.cfg.Storage.Path).Msg("sqlite persister initialized")

	case "kafka":
		producer, err := kafka.NewProducer(p.cfg.Kafka.Brokers, p.cfg.Kafka.Topic, p.cfg.Kafka.Producer)
		if err != nil {
			return err
		}
		p.producer = producer
		p.persister = storage.NewKafkaSink(producer, p.host)
		log.Info().
			Strs("brokers", p.cfg.Kafka.Brokers).
			Str("topic", p.cfg.Kafka.Topic).
			Msg("kafka persister initialized")

	default:
		p.persister = storage.NewNoop()
		log.Info().Msg("persistence disabled")
	}
	return nil
}

func (p *Processor) initWorkerPool() {
	log := logger.WithComponent("processor")
	p.pool = worker.NewPool(worker.Config{
		Persister:    p.persister,
		QueueSize:    p.cfg.Storage.QueueSize,
		Workers:      p.cfg.Storage.Workers,
		BatchSize:    p.cfg.Storage.BatchSize,
		BatchTimeout: p.cfg.BatchTimeout(),
	})
	log.Info().
		Int("workers", p.cfg.Storage.Workers).
		Int("queue_size", p.cfg.Storage.QueueSize).
		Msg("worker pool initialized")
}

func (p *Processor) initHTTP() {
	mux := http.NewServeMux()

	api := handlers.NewAPI(p.store)
	stream := handlers.NewStream(p.store, 0)
	guard := func(h http.Handler) http.Handler {
		return middleware.Chain(h,
			middleware.Recovery,
			middleware.Logging,
			middleware.Auth(p.cfg.Server.AuthToken),
		)
	}

	mux.Handle("/api/metrics", guard(http.HandlerFunc(api.Metrics)))
	mux.Handle("/api/history", guard(http.HandlerFunc(api.History)))
	mux.Handle("/api/stream", guard(stream))

	mux.HandleFunc("/health", p.healthHandler)
	mux.HandleFunc("/stats", p.statsHandler)
	mux.Handle("/metrics", promhttp.Handler())

	if dir := p.cfg.Server.StaticDir; dir != "" {
		mux.Handle("/", middleware.Chain(http.FileServer(http.Dir(dir)),
			middleware.Recovery,
			middleware.Logging,
		))
	}

	p.handler = mux
	p.httpServer = &http.Server{
		Addr:        p.cfg.Server.Addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

// Run starts background goroutines and blocks until ctx is cancelled, then
// shuts everything down in order.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Str("host", p.host).Msg("processor starting")

	p.pool.Start()

	if p.cfg.Server.Enabled {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			log.Info().Str("addr", p.httpServer.Addr).Msg("starting HTTP server")
			if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("HTTP server error")
			}
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(ctx)
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := p.loop.Run(ctx); err != nil {
			log.Error().Err(err).Msg("distribution loop exited")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	<-loopDone
	return p.shutdown()
}

func (p *Processor) shutdown() error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	var errs []error

	// 1. Stop accepting new HTTP requests
	if p.cfg.Server.Enabled {
		httpCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		log.Info().Msg("stopping HTTP server")
		if err := p.httpServer.Shutdown(httpCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		cancel()
	}

	// 2. Drain queued samples into the persister
	drainCtx, cancel := context.WithTimeout(context.Background(), sinkDrainTimeout)
	if err := p.pool.Shutdown(drainCtx); err != nil {
		log.Warn().Err(err).Msg("worker shutdown timeout - dropping queued samples")
		errs = append(errs, fmt.Errorf("sink drain: %w", err))
	} else {
		log.Info().Msg("workers stopped gracefully")
	}
	cancel()

	// 3. Close persister, producers and files
	if err := p.closeAll(); err != nil {
		log.Error().Err(err).Msg("close error")
		errs = append(errs, err)
	}

	p.wg.Wait()

	log.Info().Msg("processor stopped")
	return errors.Join(errs...)
}

func (p *Processor) closeAll() error {
	var errs []error
	if p.persister != nil {
		if err := p.persister.Close(); err != nil {
			errs = append(errs, fmt.Errorf("persister close: %w", err))
		}
	}
	for _, pr := range []*kafka.Producer{p.producer, p.alertProducer} {
		if pr == nil {
			continue
		}
		if err := pr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer %s close: %w", pr.Topic(), err))
		}
	}
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := p.snapshot()
			metrics.SinkQueueSize.Set(float64(stats.Worker.Queued))

			ev := log.Info().
				Uint64("store_version", stats.StoreVersion).
				Uint64("worker_processed", stats.Worker.Processed).
				Uint64("worker_failed", stats.Worker.Failed).
				Uint64("worker_dropped", stats.Worker.Dropped).
				Int("queue_size", stats.Worker.Queued)
			if stats.Producer != nil {
				ev = ev.
					Uint64("producer_sent", stats.Producer.MessagesSent).
					Uint64("producer_failed", stats.Producer.MessagesFailed).
					Uint64("producer_bytes", stats.Producer.BytesWritten)
			}
			ev.Msg("stats")
		}
	}
}

// Stats is the body of GET /stats.
type Stats struct {
	Host          string               `json:"host"`
	Backend       string               `json:"backend"`
	StoreVersion  uint64               `json:"store_version"`
	HistoryLength int                  `json:"history_length"`
	Worker        worker.Stats         `json:"worker"`
	Producer      *kafka.ProducerStats `json:"producer,omitempty"`
}

func (p *Processor) snapshot() Stats {
	_, hist, _ := p.store.Read()
	s := Stats{
		Host:          p.host,
		Backend:       storage.BackendName(p.persister),
		StoreVersion:  p.store.Version(),
		HistoryLength: len(hist),
		Worker:        p.pool.Stats(),
	}
	if p.producer != nil {
		ps := p.producer.Stats()
		s.Producer = &ps
	}
	return s
}

// healthHandler handles health check requests
func (p *Processor) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, pr := range []*kafka.Producer{p.producer, p.alertProducer} {
		if pr == nil {
			continue
		}
		if err := pr.HealthCheck(ctx); err != nil {
			http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
			return
		}
	}

	_, ready := p.store.Latest()
	writeJSON(w, map[string]any{
		"status":    "healthy",
		"ready":     ready,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// statsHandler returns current statistics
func (p *Processor) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, p.snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := logger.WithComponent("processor")
		log.Error().Err(err).Msg("failed to encode response")
	}
}
