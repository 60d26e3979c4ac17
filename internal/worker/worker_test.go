package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"hostwatch/internal/models"
)

// MockPersister is a mock implementation of storage.Persister for testing
type MockPersister struct {
	stored     atomic.Uint64
	batches    atomic.Uint64
	failed     atomic.Uint64
	shouldFail bool
	delay      time.Duration
}

func (m *MockPersister) Store(ctx context.Context, s models.Sample) error {
	if m.shouldFail {
		m.failed.Add(1)
		return errors.New("disk full")
	}
	m.stored.Add(1)
	return nil
}

func (m *MockPersister) StoreBatch(ctx context.Context, samples []models.Sample) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.shouldFail {
		m.failed.Add(uint64(len(samples)))
		return errors.New("disk full")
	}
	m.batches.Add(1)
	m.stored.Add(uint64(len(samples)))
	return nil
}

func (m *MockPersister) Close() error { return nil }

func testSample(i int) models.Sample {
	return models.Sample{Timestamp: time.Unix(int64(i), 0), CPUUsage: float64(i)}
}

func TestWorkerPool_ProcessSamples(t *testing.T) {
	mock := &MockPersister{}
	pool := NewPool(Config{
		Persister:    mock,
		QueueSize:    100,
		Workers:      2,
		BatchSize:    10,
		BatchTimeout: 100 * time.Millisecond,
	})
	pool.Start()
	defer pool.Shutdown(context.Background())

	numSamples := 25
	for i := 0; i < numSamples; i++ {
		if !pool.Enqueue(testSample(i)) {
			t.Fatalf("sample %d rejected", i)
		}
	}

	time.Sleep(500 * time.Millisecond)

	stats := pool.Stats()
	if stats.Processed != uint64(numSamples) {
		t.Errorf("expected %d processed, got %d", numSamples, stats.Processed)
	}
	if mock.stored.Load() != uint64(numSamples) {
		t.Errorf("expected %d stored, got %d", numSamples, mock.stored.Load())
	}
}

func TestWorkerPool_Batching(t *testing.T) {
	mock := &MockPersister{}
	pool := NewPool(Config{
		Persister:    mock,
		Workers:      1,
		BatchSize:    5,
		BatchTimeout: time.Second, // Long timeout to force batching
	})
	pool.Start()
	defer pool.Shutdown(context.Background())

	for i := 0; i < 5; i++ {
		pool.Enqueue(testSample(i))
	}

	time.Sleep(200 * time.Millisecond)

	if mock.stored.Load() != 5 || mock.batches.Load() != 1 {
		t.Errorf("expected one batch of 5, got %d samples in %d batches", mock.stored.Load(), mock.batches.Load())
	}
}

func TestWorkerPool_TimeoutBatch(t *testing.T) {
	mock := &MockPersister{}
	pool := NewPool(Config{
		Persister:    mock,
		Workers:      1,
		BatchSize:    100,
		BatchTimeout: 100 * time.Millisecond,
	})
	pool.Start()
	defer pool.Shutdown(context.Background())

	for i := 0; i < 3; i++ {
		pool.Enqueue(testSample(i))
	}

	time.Sleep(300 * time.Millisecond)

	if mock.stored.Load() != 3 {
		t.Errorf("expected 3 stored via timeout, got %d", mock.stored.Load())
	}
}

func TestWorkerPool_EnqueueNeverBlocks(t *testing.T) {
	mock := &MockPersister{}
	pool := NewPool(Config{Persister: mock, QueueSize: 2, Workers: 1})
	// Not started: nothing drains the queue

	accepted := 0
	start := time.Now()
	for i := 0; i < 10; i++ {
		if pool.Enqueue(testSample(i)) {
			accepted++
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Enqueue blocked on a full queue")
	}

	stats := pool.Stats()
	if accepted != 2 || stats.Dropped != 8 {
		t.Errorf("expected 2 accepted and 8 dropped, got %d and %d", accepted, stats.Dropped)
	}
}

func TestWorkerPool_ShutdownDrainsQueue(t *testing.T) {
	mock := &MockPersister{}
	pool := NewPool(Config{
		Persister:    mock,
		Workers:      2,
		BatchSize:    10,
		BatchTimeout: time.Hour,
	})
	pool.Start()

	for i := 0; i < 7; i++ {
		pool.Enqueue(testSample(i))
	}

	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if mock.stored.Load() != 7 {
		t.Errorf("expected 7 stored after shutdown, got %d", mock.stored.Load())
	}
	if pool.Enqueue(testSample(99)) {
		t.Error("Enqueue should reject samples after shutdown")
	}
}

func TestWorkerPool_ShutdownTimeout(t *testing.T) {
	mock := &MockPersister{delay: 5 * time.Second}
	pool := NewPool(Config{Persister: mock, Workers: 1, BatchSize: 1})
	pool.Start()
	pool.Enqueue(testSample(1))

	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := pool.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Shutdown did not cancel in-flight writes")
	}
}

func TestWorkerPool_ErrorHandling(t *testing.T) {
	mock := &MockPersister{shouldFail: true}
	pool := NewPool(Config{
		Persister:    mock,
		Workers:      1,
		BatchSize:    5,
		BatchTimeout: 100 * time.Millisecond,
	})
	pool.Start()
	defer pool.Shutdown(context.Background())

	for i := 0; i < 5; i++ {
		pool.Enqueue(testSample(i))
	}

	time.Sleep(500 * time.Millisecond)

	stats := pool.Stats()
	// Batch failed, then each individual retry failed too
	if stats.Failed != 5 || stats.Processed != 0 {
		t.Errorf("expected 5 failed and 0 processed, got %+v", stats)
	}
}
