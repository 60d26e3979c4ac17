// Package state holds the shared latest-sample and history pair that the
// distribution loop writes and every consumer reads.
package state

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"hostwatch/internal/history"
	"hostwatch/internal/logger"
	"hostwatch/internal/metrics"
	"hostwatch/internal/models"
)

// ErrUpdateAborted is returned when an update panicked and was discarded.
var ErrUpdateAborted = errors.New("state update aborted")

// Store guards the latest sample and its history with a single RWMutex.
// There is one writer (the distribution loop) and any number of readers.
type Store struct {
	mu      sync.RWMutex
	latest  models.Sample
	ready   bool
	history *history.Buffer

	version atomic.Uint64

	// commitHook runs inside the critical section after the push.
	commitHook func(*history.Buffer)
}

// Option configures a Store.
type Option func(*Store)

// WithCommitHook registers fn to run under the write lock after each push.
// It must be cheap and must not block.
func WithCommitHook(fn func(*history.Buffer)) Option {
	return func(s *Store) { s.commitHook = fn }
}

// New creates a store whose history holds at most capacity samples.
func New(capacity int, opts ...Option) *Store {
	s := &Store{history: history.New(capacity)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update replaces the latest sample and appends it to history atomically.
// If anything panics inside the critical section the update is discarded,
// the previous state is kept and ErrUpdateAborted is returned.
func (s *Store) Update(sample models.Sample) error {
	length, panicVal, stack := s.commit(sample)

	if panicVal != nil {
		metrics.StoreRecoveriesTotal.Inc()
		metrics.PanicsRecovered.WithLabelValues("state_store").Inc()
		log := logger.WithComponent("state")
		log.Error().
			Interface("panic", panicVal).
			Bytes("stack", stack).
			Msg("state update panicked, update discarded")
		return fmt.Errorf("%w: %v", ErrUpdateAborted, panicVal)
	}

	metrics.StoreUpdatesTotal.Inc()
	metrics.HistoryLength.Set(float64(length))
	return nil
}

func (s *Store) commit(sample models.Sample) (length int, panicVal any, stack []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.history.Checkpoint()
	prevLatest, prevReady := s.latest, s.ready

	defer func() {
		if r := recover(); r != nil {
			s.rollback(cp, prevLatest, prevReady)
			panicVal, stack = r, debug.Stack()
		}
	}()

	s.history.Push(sample)
	s.latest = sample
	s.ready = true
	if s.commitHook != nil {
		s.commitHook(s.history)
	}
	s.version.Add(1)

	return s.history.Len(), nil, nil
}

// rollback restores the pre-update state. A failure here leaves the store
// in an unknown state, so the process exits.
func (s *Store) rollback(cp history.Checkpoint, latest models.Sample, ready bool) {
	defer func() {
		if r := recover(); r != nil {
			log := logger.WithComponent("state")
			log.Fatal().
				Interface("panic", r).
				Msg("state rollback failed")
		}
	}()

	s.history.Restore(cp)
	s.latest = latest
	s.ready = ready
}

// Read returns the latest sample together with a copy of the history.
// The pair is consistent: when ok, history[len(history)-1] equals latest.
// ok is false until the first successful Update.
func (s *Store) Read() (latest models.Sample, hist []models.Sample, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready {
		return models.Sample{}, []models.Sample{}, false
	}
	return s.latest, s.history.Snapshot(), true
}

// Latest returns only the latest sample, without copying history.
func (s *Store) Latest() (models.Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.ready
}

// Version returns the number of committed updates.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Capacity returns the history capacity.
func (s *Store) Capacity() int {
	return s.history.Cap()
}
