package storage

import (
	"context"
	"fmt"

	"hostwatch/internal/models"
)

// Persister stores samples durably.
type Persister interface {
	Store(ctx context.Context, s models.Sample) error
	StoreBatch(ctx context.Context, samples []models.Sample) error
	Close() error
}

// Named is implemented by persisters that report a backend name.
type Named interface {
	Backend() string
}

// PersistenceError wraps a backend failure.
type PersistenceError struct {
	Backend string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s persistence: %v", e.Backend, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// BackendName returns p's backend name, or "unknown".
func BackendName(p Persister) string {
	if n, ok := p.(Named); ok {
		return n.Backend()
	}
	return "unknown"
}

// Noop discards every sample.
type Noop struct{}

func NewNoop() Noop { return Noop{} }

func (Noop) Store(context.Context, models.Sample) error        { return nil }
func (Noop) StoreBatch(context.Context, []models.Sample) error { return nil }
func (Noop) Close() error                                      { return nil }
func (Noop) Backend() string                                   { return "none" }
