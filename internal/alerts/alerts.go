// Package alerts evaluates threshold rules against samples and fans fired
// alerts out to notifiers.
package alerts

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"hostwatch/internal/logger"
	"hostwatch/internal/metrics"
	"hostwatch/internal/models"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps a config string to a Severity, defaulting to warning.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityInfo, SeverityCritical:
		return Severity(s)
	default:
		return SeverityWarning
	}
}

// Rule is a stateless predicate over a sample.
type Rule interface {
	Name() string
	Severity() Severity
	Matches(s models.Sample) bool
	Message(s models.Sample) string
}

// Alert is what notifiers receive when a rule matches.
type Alert struct {
	ID         string    `json:"id"`
	Rule       string    `json:"rule"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	FiredAt    time.Time `json:"fired_at"`
	SampleTime time.Time `json:"sample_time"`
}

// Notifier delivers alerts somewhere.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert Alert) error
}

// NotifierError records a failed delivery. It is logged, never returned
// from Evaluate.
type NotifierError struct {
	Notifier string
	Err      error
}

func (e *NotifierError) Error() string {
	return fmt.Sprintf("notifier %s: %v", e.Notifier, e.Err)
}

func (e *NotifierError) Unwrap() error { return e.Err }

// Options configures an Engine.
type Options struct {
	// NotifyTimeout bounds each notifier call. Zero means 500ms.
	NotifyTimeout time.Duration
}

// Engine holds ordered rules and ordered notifiers. Evaluation is
// level-triggered: a rule fires on every sample for which it matches.
type Engine struct {
	mu        sync.RWMutex
	rules     []Rule
	notifiers []Notifier
	timeout   time.Duration
}

// NewEngine creates an empty engine.
func NewEngine(opts Options) *Engine {
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 500 * time.Millisecond
	}
	return &Engine{timeout: opts.NotifyTimeout}
}

// AddRule appends a rule. Rules are evaluated in registration order.
func (e *Engine) AddRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
}

// AddNotifier appends a notifier. Notifiers are called in registration order.
func (e *Engine) AddNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, n)
}

// Rules returns a copy of the registered rules.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs every rule against s and notifies for each match.
// It returns the alerts that fired, in rule order. Notifier failures never
// affect the result.
func (e *Engine) Evaluate(ctx context.Context, s models.Sample) []Alert {
	e.mu.RLock()
	rules := e.rules
	notifiers := e.notifiers
	e.mu.RUnlock()

	var fired []Alert
	for _, rule := range rules {
		msg, ok := e.check(rule, s)
		if !ok {
			continue
		}

		alert := Alert{
			ID:         uuid.New().String(),
			Rule:       rule.Name(),
			Severity:   rule.Severity(),
			Message:    msg,
			FiredAt:    time.Now().UTC(),
			SampleTime: s.Timestamp,
		}
		fired = append(fired, alert)
		metrics.AlertsFiredTotal.WithLabelValues(alert.Rule, string(alert.Severity)).Inc()

		for _, n := range notifiers {
			if err := e.notify(ctx, n, alert); err != nil {
				metrics.NotifierFailuresTotal.WithLabelValues(n.Name()).Inc()
				log := logger.WithComponent("alerts")
				log.Warn().
					Err(err).
					Str("notifier", n.Name()).
					Str("rule", alert.Rule).
					Str("alert_id", alert.ID).
					Msg("notifier failed")
			}
		}
	}
	return fired
}

// check evaluates a rule, treating a panicking rule as not matching.
func (e *Engine) check(rule Rule, s models.Sample) (msg string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("alert_rule").Inc()
			log := logger.WithComponent("alerts")
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("alert rule panicked")
			msg, ok = "", false
		}
	}()

	if !rule.Matches(s) {
		return "", false
	}
	return rule.Message(s), true
}

// notify calls one notifier with a bounded context, converting panics and
// errors into a *NotifierError.
func (e *Engine) notify(ctx context.Context, n Notifier, alert Alert) (err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("notifier").Inc()
			err = &NotifierError{Notifier: n.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if nerr := n.Notify(ctx, alert); nerr != nil {
		return &NotifierError{Notifier: n.Name(), Err: nerr}
	}
	return nil
}
