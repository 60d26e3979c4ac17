package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hostwatch/internal/alerts"
	"hostwatch/internal/models"
	"hostwatch/internal/sampler"
	"hostwatch/internal/state"
)

type step struct {
	sample models.Sample
	err    error
	panic  bool
}

// scriptedCollector returns the scripted steps in order, then repeats the last.
type scriptedCollector struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (c *scriptedCollector) Collect(ctx context.Context) (models.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := min(c.calls, len(c.steps)-1)
	c.calls++
	st := c.steps[i]
	if st.panic {
		panic("collector bug")
	}
	return st.sample, st.err
}

// journal records the order in which collaborators are invoked.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

type journalStore struct {
	*state.Store
	j *journal
}

func (s journalStore) Update(sample models.Sample) error {
	s.j.add("update")
	return s.Store.Update(sample)
}

type journalEngine struct {
	j     *journal
	calls atomic.Uint64
}

func (e *journalEngine) Evaluate(context.Context, models.Sample) []alerts.Alert {
	e.j.add("evaluate")
	e.calls.Add(1)
	return nil
}

type journalSink struct {
	j      *journal
	accept bool
	count  atomic.Uint64
}

func (s *journalSink) Enqueue(models.Sample) bool {
	s.j.add("enqueue")
	s.count.Add(1)
	return s.accept
}

func memSample(cpu float64) models.Sample {
	return models.Sample{Timestamp: time.Now(), CPUUsage: cpu, TotalMemory: 100, UsedMemory: 50}
}

func TestTick_Order(t *testing.T) {
	j := &journal{}
	l := New(Config{
		Sampler:  &scriptedCollector{steps: []step{{sample: memSample(1)}}},
		Store:    journalStore{Store: state.New(10), j: j},
		Engine:   &journalEngine{j: j},
		Sink:     &journalSink{j: j, accept: true},
		Interval: time.Second,
	})

	if got := l.Tick(context.Background()); got != ResultOK {
		t.Fatalf("Tick() = %s, want ok", got)
	}

	want := []string{"update", "evaluate", "enqueue"}
	if len(j.entries) != len(want) {
		t.Fatalf("entries = %v, want %v", j.entries, want)
	}
	for i := range want {
		if j.entries[i] != want[i] {
			t.Errorf("entries = %v, want %v", j.entries, want)
			break
		}
	}
}

func TestTick_CollectionFailureRecovery(t *testing.T) {
	store := state.New(10)
	engine := &journalEngine{j: &journal{}}
	sink := &journalSink{j: &journal{}, accept: true}
	collector := &scriptedCollector{steps: []step{
		{sample: memSample(1)},
		{err: &sampler.CollectionError{Total: true, Err: errors.New("provider down")}},
		{err: errors.New("unexpected")},
		{sample: memSample(4)},
	}}

	l := New(Config{Sampler: collector, Store: store, Engine: engine, Sink: sink, Interval: time.Second})

	results := []Result{ResultOK, ResultFailed, ResultFailed, ResultOK}
	for i, want := range results {
		if got := l.Tick(context.Background()); got != want {
			t.Fatalf("tick %d = %s, want %s", i, got, want)
		}

		latest, hist, ok := store.Read()
		if !ok {
			t.Fatalf("tick %d: store empty", i)
		}
		switch i {
		case 1, 2:
			if latest.CPUUsage != 1 || len(hist) != 1 {
				t.Errorf("tick %d: state changed by failed collection: latest=%v len=%d", i, latest.CPUUsage, len(hist))
			}
		case 3:
			if latest.CPUUsage != 4 || len(hist) != 2 {
				t.Errorf("tick %d: expected resumed updates: latest=%v len=%d", i, latest.CPUUsage, len(hist))
			}
		}
	}

	if engine.calls.Load() != 2 || sink.count.Load() != 2 {
		t.Errorf("failed ticks must skip evaluate and enqueue: evaluate=%d enqueue=%d",
			engine.calls.Load(), sink.count.Load())
	}
}

func TestTick_PartialFailureStillUpdates(t *testing.T) {
	store := state.New(10)
	partial := memSample(7)
	l := New(Config{
		Sampler: &scriptedCollector{steps: []step{{
			sample: partial,
			err:    &sampler.CollectionError{Failed: []string{"disks"}, Err: errors.New("no disks")},
		}}},
		Store:    store,
		Interval: time.Second,
	})

	if got := l.Tick(context.Background()); got != ResultPartial {
		t.Fatalf("Tick() = %s, want partial", got)
	}
	if latest, ok := store.Latest(); !ok || latest.CPUUsage != 7 {
		t.Errorf("partial sample not stored: %v %v", latest.CPUUsage, ok)
	}
}

func TestTick_PanicIsRecovered(t *testing.T) {
	l := New(Config{
		Sampler:  &scriptedCollector{steps: []step{{panic: true}}},
		Store:    state.New(10),
		Interval: time.Second,
	})

	if got := l.Tick(context.Background()); got != ResultPanic {
		t.Errorf("Tick() = %s, want panic", got)
	}
}

func TestTick_FullSinkDoesNotFail(t *testing.T) {
	l := New(Config{
		Sampler:  &scriptedCollector{steps: []step{{sample: memSample(1)}}},
		Store:    state.New(10),
		Sink:     &journalSink{j: &journal{}, accept: false},
		Interval: time.Second,
	})

	if got := l.Tick(context.Background()); got != ResultOK {
		t.Errorf("Tick() = %s, want ok", got)
	}
}

// slowCollector tracks concurrent calls.
type slowCollector struct {
	inFlight atomic.Int32
	overlap  atomic.Bool
	calls    atomic.Int32
	delay    time.Duration
}

func (c *slowCollector) Collect(ctx context.Context) (models.Sample, error) {
	if c.inFlight.Add(1) > 1 {
		c.overlap.Store(true)
	}
	defer c.inFlight.Add(-1)
	c.calls.Add(1)
	time.Sleep(c.delay)
	return memSample(1), nil
}

func TestRun_NoOverlapAndCleanExit(t *testing.T) {
	collector := &slowCollector{delay: 30 * time.Millisecond}
	l := New(Config{Sampler: collector, Store: state.New(10), Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if collector.overlap.Load() {
		t.Error("ticks overlapped")
	}
	if collector.calls.Load() < 2 {
		t.Errorf("expected several ticks, got %d", collector.calls.Load())
	}
}
