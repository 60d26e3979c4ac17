package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hostwatch/internal/kafka"
	"hostwatch/internal/models"
)

// recordingNotifier records every alert it receives.
type recordingNotifier struct {
	name   string
	mu     sync.Mutex
	alerts []Alert
	calls  atomic.Uint64
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(_ context.Context, a Alert) error {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

type failingNotifier struct{ calls atomic.Uint64 }

func (f *failingNotifier) Name() string { return "failing" }
func (f *failingNotifier) Notify(context.Context, Alert) error {
	f.calls.Add(1)
	return errors.New("delivery failed")
}

type panickingNotifier struct{ calls atomic.Uint64 }

func (p *panickingNotifier) Name() string { return "panicking" }
func (p *panickingNotifier) Notify(context.Context, Alert) error {
	p.calls.Add(1)
	panic("notifier exploded")
}

type blockingNotifier struct{}

func (blockingNotifier) Name() string { return "blocking" }
func (blockingNotifier) Notify(ctx context.Context, _ Alert) error {
	<-ctx.Done()
	return ctx.Err()
}

func memorySample(percent float64) models.Sample {
	return models.Sample{
		Timestamp:   time.Now(),
		TotalMemory: 1000,
		UsedMemory:  uint64(percent * 10),
	}
}

func newDefaultEngine() *Engine {
	e := NewEngine(Options{NotifyTimeout: 100 * time.Millisecond})
	for _, r := range DefaultRules(80, 90) {
		e.AddRule(r)
	}
	return e
}

func TestEngine_LevelTriggered(t *testing.T) {
	e := newDefaultEngine()
	rec := &recordingNotifier{name: "rec"}
	e.AddNotifier(rec)

	tests := []struct {
		memory float64
		want   []string
	}{
		{75, nil},
		{85, []string{"memory_warning"}},
		{95, []string{"memory_warning", "memory_critical"}},
		{85, []string{"memory_warning"}},
		{70, nil},
	}

	var total int
	for _, tt := range tests {
		fired := e.Evaluate(context.Background(), memorySample(tt.memory))
		if len(fired) != len(tt.want) {
			t.Fatalf("memory %v: fired %d alerts, want %d", tt.memory, len(fired), len(tt.want))
		}
		for i, name := range tt.want {
			if fired[i].Rule != name {
				t.Errorf("memory %v: alert %d = %s, want %s", tt.memory, i, fired[i].Rule, name)
			}
		}
		total += len(tt.want)
	}

	if got := int(rec.calls.Load()); got != total {
		t.Errorf("notifier called %d times, want %d", got, total)
	}
}

func TestEngine_DefaultMessages(t *testing.T) {
	e := newDefaultEngine()
	fired := e.Evaluate(context.Background(), memorySample(95))

	if len(fired) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(fired))
	}
	if fired[0].Message != "Memory usage rate is high: 95.0%" {
		t.Errorf("unexpected warning message: %q", fired[0].Message)
	}
	if fired[1].Message != "Memory usage rate reached dangerous level: 95.0%" {
		t.Errorf("unexpected critical message: %q", fired[1].Message)
	}
	if fired[0].Severity != SeverityWarning || fired[1].Severity != SeverityCritical {
		t.Errorf("unexpected severities: %s, %s", fired[0].Severity, fired[1].Severity)
	}
	if fired[0].ID == "" || fired[0].ID == fired[1].ID {
		t.Error("alerts should carry distinct ids")
	}
}

func TestEngine_NotifierIsolation(t *testing.T) {
	e := newDefaultEngine()
	failing := &failingNotifier{}
	panicking := &panickingNotifier{}
	rec := &recordingNotifier{name: "rec"}
	e.AddNotifier(failing)
	e.AddNotifier(panicking)
	e.AddNotifier(blockingNotifier{})
	e.AddNotifier(rec)

	fired := e.Evaluate(context.Background(), memorySample(95))
	if len(fired) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(fired))
	}

	if failing.calls.Load() != 2 || panicking.calls.Load() != 2 {
		t.Errorf("failing notifiers should be called once per alert: %d, %d",
			failing.calls.Load(), panicking.calls.Load())
	}
	if rec.calls.Load() != 2 {
		t.Errorf("healthy notifier called %d times, want 2", rec.calls.Load())
	}

	// Same message reaches every notifier
	if rec.alerts[0].Message != fired[0].Message {
		t.Errorf("notifier got %q, engine returned %q", rec.alerts[0].Message, fired[0].Message)
	}
}

func TestEngine_NotifierOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	e := NewEngine(Options{})
	e.AddRule(FuncRule{
		RuleName:     "always",
		RuleSeverity: SeverityInfo,
		Match:        func(models.Sample) bool { return true },
		Describe:     func(models.Sample) string { return "always" },
	})
	for _, name := range []string{"a", "b", "c"} {
		e.AddNotifier(notifierFunc{name: name, fn: func(Alert) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}})
	}

	e.Evaluate(context.Background(), models.Sample{})
	if strings.Join(order, "") != "abc" {
		t.Errorf("notifiers called in order %v", order)
	}
}

type notifierFunc struct {
	name string
	fn   func(Alert)
}

func (n notifierFunc) Name() string { return n.name }
func (n notifierFunc) Notify(_ context.Context, a Alert) error {
	n.fn(a)
	return nil
}

func TestEngine_PanickingRuleIsSkipped(t *testing.T) {
	e := NewEngine(Options{})
	e.AddRule(FuncRule{
		RuleName: "broken",
		Match:    func(models.Sample) bool { panic("bad rule") },
		Describe: func(models.Sample) string { return "" },
	})
	for _, r := range DefaultRules(80, 90) {
		e.AddRule(r)
	}

	fired := e.Evaluate(context.Background(), memorySample(85))
	if len(fired) != 1 || fired[0].Rule != "memory_warning" {
		t.Errorf("unexpected alerts: %+v", fired)
	}
	if len(e.Rules()) != 3 {
		t.Errorf("expected 3 rules, got %d", len(e.Rules()))
	}
}

func TestThresholdRule_Metrics(t *testing.T) {
	s := models.Sample{
		CPUUsage:     42,
		LoadAverage:  models.LoadAverage{One: 3.5},
		Disks:        []models.DiskMetric{{Total: 100, Available: 5}},
		Temperatures: []models.Temperature{{Label: "cpu", Value: 71}},
	}

	tests := []struct {
		metric    string
		op        string
		threshold float64
		want      bool
	}{
		{MetricCPU, ">", 40, true},
		{MetricCPU, "<", 40, false},
		{MetricLoad1, ">=", 3.5, true},
		{MetricDisk, ">=", 95, true},
		{MetricTemperature, "<=", 70, false},
		{MetricMemory, "<", 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.metric+tt.op, func(t *testing.T) {
			r, err := NewThresholdRule("r", tt.metric, tt.op, tt.threshold, SeverityWarning)
			if err != nil {
				t.Fatalf("NewThresholdRule: %v", err)
			}
			if r.Threshold() != tt.threshold {
				t.Errorf("Threshold() = %v, want %v", r.Threshold(), tt.threshold)
			}
			if got := r.Matches(s); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := NewThresholdRule("r", "swap", ">", 1, SeverityInfo); err == nil {
		t.Error("expected error for unknown metric")
	}
	if _, err := NewThresholdRule("r", MetricCPU, "==", 1, SeverityInfo); err == nil {
		t.Error("expected error for unknown operator")
	}
}

func TestWriterNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewWriterNotifier("file", &buf)

	a := Alert{ID: "1", Rule: "memory_warning", Severity: SeverityWarning, Message: "high"}
	if err := n.Notify(context.Background(), a); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := n.Notify(context.Background(), a); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var decoded Alert
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if decoded.Rule != "memory_warning" || decoded.Message != "high" {
		t.Errorf("unexpected alert: %+v", decoded)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var received atomic.Uint64
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	a := Alert{ID: "1", Rule: "r", Message: "m"}

	if err := NewWebhookNotifier(ok.URL, time.Second).Notify(context.Background(), a); err != nil {
		t.Errorf("Notify to healthy webhook: %v", err)
	}
	if received.Load() != 1 {
		t.Errorf("webhook received %d requests, want 1", received.Load())
	}
	if err := NewWebhookNotifier(failing.URL, time.Second).Notify(context.Background(), a); err == nil {
		t.Error("expected error for non-2xx status")
	}
}

type capturePublisher struct {
	records []kafka.Record
}

func (c *capturePublisher) Publish(_ context.Context, rec kafka.Record) error {
	c.records = append(c.records, rec)
	return nil
}

func TestKafkaNotifier(t *testing.T) {
	pub := &capturePublisher{}
	n := NewKafkaNotifier(pub)

	a := Alert{ID: "abc", Rule: "memory_critical", Severity: SeverityCritical, Message: "m"}
	if err := n.Notify(context.Background(), a); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(pub.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(pub.records))
	}
	rec := pub.records[0]
	if string(rec.Key) != "memory_critical" || rec.Headers["alert_id"] != "abc" {
		t.Errorf("unexpected record: key=%s headers=%v", rec.Key, rec.Headers)
	}
}

func TestNotifierError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := error(&NotifierError{Notifier: "x", Err: inner})
	if !errors.Is(err, inner) {
		t.Error("NotifierError should unwrap to the inner error")
	}
}
