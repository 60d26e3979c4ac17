package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hostwatch/internal/kafka"
)

// LogNotifier writes alerts to a zerolog logger. Warnings log at warn level,
// critical alerts at error level.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a notifier writing to log.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, a Alert) error {
	var ev *zerolog.Event
	switch a.Severity {
	case SeverityCritical:
		ev = n.log.Error()
	case SeverityWarning:
		ev = n.log.Warn()
	default:
		ev = n.log.Info()
	}
	ev.Str("alert_id", a.ID).
		Str("rule", a.Rule).
		Str("severity", string(a.Severity)).
		Time("sample_time", a.SampleTime).
		Msg(a.Message)
	return nil
}

// WriterNotifier writes one JSON object per line to w.
type WriterNotifier struct {
	name string
	mu   sync.Mutex
	w    io.Writer
}

// NewWriterNotifier creates a notifier that appends NDJSON to w.
func NewWriterNotifier(name string, w io.Writer) *WriterNotifier {
	return &WriterNotifier{name: name, w: w}
}

func (n *WriterNotifier) Name() string { return n.name }

func (n *WriterNotifier) Notify(_ context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}
	data = append(data, '\n')

	n.mu.Lock()
	defer n.mu.Unlock()
	_, err = n.w.Write(data)
	return err
}

// WebhookNotifier POSTs each alert as JSON to a URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier. A zero timeout means 5s;
// the engine's per-call deadline still applies.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// RecordPublisher is the subset of the kafka producer used for alerts.
type RecordPublisher interface {
	Publish(ctx context.Context, rec kafka.Record) error
}

// KafkaNotifier publishes alerts to a topic keyed by rule name.
type KafkaNotifier struct {
	publisher RecordPublisher
}

// NewKafkaNotifier creates a notifier publishing through p.
func NewKafkaNotifier(p RecordPublisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: p}
}

func (n *KafkaNotifier) Name() string { return "kafka" }

func (n *KafkaNotifier) Notify(ctx context.Context, a Alert) error {
	rec, err := kafka.NewJSONRecord(a.Rule, a, map[string]string{
		"alert_id": a.ID,
		"severity": string(a.Severity),
	}, a.FiredAt)
	if err != nil {
		return err
	}
	return n.publisher.Publish(ctx, rec)
}
