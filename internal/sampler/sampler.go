// Package sampler turns a metrics Provider into complete Samples.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"hostwatch/internal/logger"
	"hostwatch/internal/metrics"
	"hostwatch/internal/models"
)

// Subsystem names used in CollectionError.Failed.
const (
	SubsystemCPU          = "cpu"
	SubsystemMemory       = "memory"
	SubsystemLoad         = "load"
	SubsystemProcesses    = "processes"
	SubsystemDisks        = "disks"
	SubsystemNetworks     = "networks"
	SubsystemTemperatures = "temperatures"
)

var subsystems = []string{
	SubsystemCPU, SubsystemMemory, SubsystemLoad, SubsystemProcesses,
	SubsystemDisks, SubsystemNetworks, SubsystemTemperatures,
}

// ErrCollectionInFlight marks a subsystem whose previous read has not
// finished yet.
var ErrCollectionInFlight = errors.New("previous collection still in flight")

// CollectionError reports subsystems that could not be read. When Total is
// false the accompanying sample is usable; missing parts are zero or empty.
type CollectionError struct {
	Failed []string
	Total  bool
	Err    error
}

func (e *CollectionError) Error() string {
	kind := "partial"
	if e.Total {
		kind = "total"
	}
	if len(e.Failed) == 0 {
		return fmt.Sprintf("%s collection failure: %v", kind, e.Err)
	}
	return fmt.Sprintf("%s collection failure (%s): %v", kind, strings.Join(e.Failed, ", "), e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// MemoryStats is the provider's memory reading in bytes.
type MemoryStats struct {
	Total     uint64
	Used      uint64
	Available uint64
}

// Provider reads raw metrics from the operating system. Each method is
// independent so one failing subsystem does not hide the others.
type Provider interface {
	CPUUsage(ctx context.Context) (float64, error)
	Memory(ctx context.Context) (MemoryStats, error)
	Load(ctx context.Context) (models.LoadAverage, error)
	Processes(ctx context.Context) ([]models.ProcessMetric, error)
	Disks(ctx context.Context) ([]models.DiskMetric, error)
	Networks(ctx context.Context) ([]models.NetworkMetric, error)
	Temperatures(ctx context.Context) ([]models.Temperature, error)
}

// Options configures a Sampler.
type Options struct {
	// MaxProcesses keeps the top N processes by memory. 0 keeps all.
	MaxProcesses int
}

// Sampler collects one Sample per call. Subsystems are read concurrently,
// each guarded so a hung read only blocks its own subsystem.
type Sampler struct {
	provider     Provider
	maxProcesses int
	busy         map[string]*atomic.Bool
	now          func() time.Time
}

// New creates a sampler over provider.
func New(provider Provider, opts Options) *Sampler {
	busy := make(map[string]*atomic.Bool, len(subsystems))
	for _, name := range subsystems {
		busy[name] = new(atomic.Bool)
	}
	return &Sampler{
		provider:     provider,
		maxProcesses: opts.MaxProcesses,
		busy:         busy,
		now:          time.Now,
	}
}

// reading is the outcome of one subsystem read. apply copies the value into
// a sample and is only called by Collect.
type reading struct {
	name  string
	apply func(*models.Sample)
	err   error
}

type reader func(ctx context.Context) (func(*models.Sample), error)

func (s *Sampler) readers() map[string]reader {
	p := s.provider
	return map[string]reader{
		SubsystemCPU: func(ctx context.Context) (func(*models.Sample), error) {
			v, err := p.CPUUsage(ctx)
			return func(x *models.Sample) { x.CPUUsage = v }, err
		},
		SubsystemMemory: func(ctx context.Context) (func(*models.Sample), error) {
			m, err := p.Memory(ctx)
			return func(x *models.Sample) {
				x.TotalMemory = m.Total
				x.UsedMemory = m.Used
				x.AvailableMemory = m.Available
			}, err
		},
		SubsystemLoad: func(ctx context.Context) (func(*models.Sample), error) {
			l, err := p.Load(ctx)
			return func(x *models.Sample) { x.LoadAverage = l }, err
		},
		SubsystemProcesses: func(ctx context.Context) (func(*models.Sample), error) {
			procs, err := p.Processes(ctx)
			top := models.Sample{Processes: procs}.TopProcesses(s.maxProcesses, models.ByMemory)
			return func(x *models.Sample) { x.Processes = top }, err
		},
		SubsystemDisks: func(ctx context.Context) (func(*models.Sample), error) {
			d, err := p.Disks(ctx)
			return func(x *models.Sample) { x.Disks = d }, err
		},
		SubsystemNetworks: func(ctx context.Context) (func(*models.Sample), error) {
			n, err := p.Networks(ctx)
			return func(x *models.Sample) { x.Networks = n }, err
		},
		SubsystemTemperatures: func(ctx context.Context) (func(*models.Sample), error) {
			t, err := p.Temperatures(ctx)
			return func(x *models.Sample) { x.Temperatures = t }, err
		},
	}
}

// Collect reads every subsystem concurrently and assembles a Sample from
// whatever finished before ctx is done. Subsystems that failed, timed out or
// are still busy from an earlier call are listed in CollectionError.Failed;
// the error is Total only when no subsystem produced a reading.
func (s *Sampler) Collect(ctx context.Context) (models.Sample, error) {
	start := time.Now()
	sample := models.Sample{Timestamp: s.now()}

	readers := s.readers()
	results := make(map[string]reading, len(subsystems))
	ch := make(chan reading, len(subsystems))
	pending := 0

	for _, name := range subsystems {
		busy := s.busy[name]
		if !busy.CompareAndSwap(false, true) {
			results[name] = reading{name: name, err: ErrCollectionInFlight}
			continue
		}
		pending++
		go s.read(ctx, name, readers[name], busy, ch)
	}

wait:
	for pending > 0 {
		select {
		case r := <-ch:
			results[r.name] = r
			pending--
		case <-ctx.Done():
			break wait
		}
	}

	var failed []string
	var errs []error
	for _, name := range subsystems {
		r, ok := results[name]
		if !ok {
			r = reading{name: name, err: ctx.Err()}
		}
		if r.err != nil {
			failed = append(failed, name)
			errs = append(errs, fmt.Errorf("%s: %w", name, r.err))
			metrics.CollectSubsystemFailures.WithLabelValues(name).Inc()
			continue
		}
		r.apply(&sample)
	}
	fillEmpty(&sample)
	metrics.CollectDuration.Observe(time.Since(start).Seconds())

	if len(failed) == 0 {
		return sample, nil
	}
	if len(failed) == len(subsystems) {
		return models.Sample{}, &CollectionError{Failed: failed, Total: true, Err: errors.Join(errs...)}
	}
	return sample, &CollectionError{Failed: failed, Err: errors.Join(errs...)}
}

// read runs one subsystem reader and reports on ch, which is buffered for
// every subsystem so the send never blocks after Collect has returned. The
// subsystem is released before the result is sent.
func (s *Sampler) read(ctx context.Context, name string, fn reader, busy *atomic.Bool, ch chan<- reading) {
	r := reading{name: name}
	func() {
		defer func() {
			if p := recover(); p != nil {
				metrics.PanicsRecovered.WithLabelValues("sampler").Inc()
				log := logger.WithComponent("sampler")
				log.Error().
					Str("subsystem", name).
					Interface("panic", p).
					Bytes("stack", debug.Stack()).
					Msg("provider panicked")
				r.apply, r.err = nil, fmt.Errorf("provider panic: %v", p)
			}
		}()
		r.apply, r.err = fn(ctx)
	}()

	busy.Store(false)
	ch <- r
}

// fillEmpty replaces nil sequences so they encode as [] rather than null.
func fillEmpty(s *models.Sample) {
	if s.Processes == nil {
		s.Processes = []models.ProcessMetric{}
	}
	if s.Disks == nil {
		s.Disks = []models.DiskMetric{}
	}
	if s.Networks == nil {
		s.Networks = []models.NetworkMetric{}
	}
	if s.Temperatures == nil {
		s.Temperatures = []models.Temperature{}
	}
}
