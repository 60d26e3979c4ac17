package alerts

import (
	"fmt"

	"hostwatch/internal/models"
)

// Metric names understood by ThresholdRule.
const (
	MetricCPU         = "cpu"
	MetricMemory      = "memory"
	MetricDisk        = "disk"
	MetricLoad1       = "load1"
	MetricTemperature = "temperature"
)

var extractors = map[string]func(models.Sample) float64{
	MetricCPU:         func(s models.Sample) float64 { return s.CPUUsage },
	MetricMemory:      models.Sample.MemoryUsagePercent,
	MetricDisk:        models.Sample.MaxDiskUsagePercent,
	MetricLoad1:       func(s models.Sample) float64 { return s.LoadAverage.One },
	MetricTemperature: models.Sample.MaxTemperature,
}

var comparators = map[string]func(v, threshold float64) bool{
	">":  func(v, t float64) bool { return v > t },
	">=": func(v, t float64) bool { return v >= t },
	"<":  func(v, t float64) bool { return v < t },
	"<=": func(v, t float64) bool { return v <= t },
}

// ThresholdRule compares one sample metric against a fixed threshold.
type ThresholdRule struct {
	name      string
	metric    string
	op        string
	threshold float64
	severity  Severity
	format    string

	extract func(models.Sample) float64
	compare func(v, threshold float64) bool
}

// NewThresholdRule builds a rule over metric (cpu, memory, disk, load1,
// temperature) using op (>, >=, <, <=).
func NewThresholdRule(name, metric, op string, threshold float64, severity Severity) (*ThresholdRule, error) {
	extract, ok := extractors[metric]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
	compare, ok := comparators[op]
	if !ok {
		return nil, fmt.Errorf("unknown operator %q", op)
	}
	return &ThresholdRule{
		name:      name,
		metric:    metric,
		op:        op,
		threshold: threshold,
		severity:  severity,
		extract:   extract,
		compare:   compare,
	}, nil
}

// WithFormat sets a message template taking the observed value as its only
// argument.
func (r *ThresholdRule) WithFormat(format string) *ThresholdRule {
	r.format = format
	return r
}

func (r *ThresholdRule) Name() string       { return r.name }
func (r *ThresholdRule) Severity() Severity { return r.severity }
func (r *ThresholdRule) Threshold() float64 { return r.threshold }

func (r *ThresholdRule) Matches(s models.Sample) bool {
	return r.compare(r.extract(s), r.threshold)
}

func (r *ThresholdRule) Message(s models.Sample) string {
	v := r.extract(s)
	if r.format != "" {
		return fmt.Sprintf(r.format, v)
	}
	return fmt.Sprintf("%s %s is %.1f (%s %.1f)", r.name, r.metric, v, r.op, r.threshold)
}

// FuncRule adapts a pair of closures to the Rule interface.
type FuncRule struct {
	RuleName     string
	RuleSeverity Severity
	Match        func(models.Sample) bool
	Describe     func(models.Sample) string
}

func (r FuncRule) Name() string                   { return r.RuleName }
func (r FuncRule) Severity() Severity             { return r.RuleSeverity }
func (r FuncRule) Matches(s models.Sample) bool   { return r.Match(s) }
func (r FuncRule) Message(s models.Sample) string { return r.Describe(s) }

// DefaultRules returns the two independent memory rules. With memory at 95%
// both fire.
func DefaultRules(warning, critical float64) []Rule {
	warn, _ := NewThresholdRule("memory_warning", MetricMemory, ">=", warning, SeverityWarning)
	crit, _ := NewThresholdRule("memory_critical", MetricMemory, ">=", critical, SeverityCritical)
	return []Rule{
		warn.WithFormat("Memory usage rate is high: %.1f%%"),
		crit.WithFormat("Memory usage rate reached dangerous level: %.1f%%"),
	}
}
