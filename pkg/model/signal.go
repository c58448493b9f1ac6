// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package model

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind identifies one of the three telemetry signal kinds a pipeline
// can carry.
type Kind int

const (
	KindTraces Kind = iota
	KindMetrics
	KindLogs
)

func (k Kind) String() string {
	switch k {
	case KindTraces:
		return "traces"
	case KindMetrics:
		return "metrics"
	case KindLogs:
		return "logs"
	default:
		return "unknown"
	}
}

// ValueType discriminates the payload held by a Value.
type ValueType int

const (
	ValueTypeStr ValueType = iota
	ValueTypeInt
	ValueTypeDouble
	ValueTypeBool
)

// Value is an attribute value. The zero Value is the empty string.
type Value struct {
	t ValueType
	s string
	i int64
	f float64
	b bool
}

func StringValue(s string) Value { return Value{t: ValueTypeStr, s: s} }
func IntValue(i int64) Value     { return Value{t: ValueTypeInt, i: i} }
func DoubleValue(f float64) Value {
	return Value{t: ValueTypeDouble, f: f}
}
func BoolValue(b bool) Value { return Value{t: ValueTypeBool, b: b} }

func (v Value) Type() ValueType { return v.t }
func (v Value) Str() string     { return v.s }
func (v Value) Int() int64      { return v.i }
func (v Value) Double() float64 { return v.f }
func (v Value) Bool() bool      { return v.b }

// String renders the value for log output.
func (v Value) String() string {
	switch v.t {
	case ValueTypeInt:
		return strconv.FormatInt(v.i, 10)
	case ValueTypeDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case ValueTypeBool:
		return strconv.FormatBool(v.b)
	default:
		return v.s
	}
}

// KeyValue is a single attribute.
type KeyValue struct {
	Key   string
	Value Value
}

// Attributes is an ordered attribute list. Order of arrival is preserved;
// duplicate keys are not collapsed.
type Attributes []KeyValue

// Get returns the value for key and whether it was present.
func (a Attributes) Get(key string) (Value, bool) {
	for _, kv := range a {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return Value{}, false
}

// Fingerprint returns a stable identity for the attribute set. Key order
// does not affect the result.
func (a Attributes) Fingerprint() string {
	if len(a) == 0 {
		return ""
	}
	parts := make([]string, 0, len(a))
	for _, kv := range a {
		parts = append(parts, kv.Key+"="+kv.Value.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// Resource describes the entity that emitted a batch of telemetry.
// A Resource must not be modified once attached to a Batch.
type Resource struct {
	Attributes Attributes
}

// Fingerprint returns a stable identity for the resource, used to group
// items sharing a resource into one sealed batch.
func (r Resource) Fingerprint() string {
	return r.Attributes.Fingerprint()
}

// ServiceName returns the service.name resource attribute, if present.
func (r Resource) ServiceName() string {
	if v, ok := r.Attributes.Get("service.name"); ok {
		return v.Str()
	}
	return ""
}

// StatusCode is the span status.
type StatusCode int

const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unset"
	}
}

// SpanEvent is a timestamped event recorded on a span.
type SpanEvent struct {
	Name       string
	Time       time.Time
	Attributes Attributes
}

// Span is a single trace span.
type Span struct {
	TraceID       [16]byte
	SpanID        [8]byte
	ParentSpanID  [8]byte
	Name          string
	Start         time.Time
	End           time.Time
	Status        StatusCode
	StatusMessage string
	Attributes    Attributes
	Events        []SpanEvent
}

var (
	errZeroTraceID = errors.New("span has a zero trace ID")
	errZeroSpanID  = errors.New("span has a zero span ID")
)

// Validate checks the span invariants: non-zero identifiers and an end
// timestamp at or after the start timestamp.
func (s *Span) Validate() error {
	if s.TraceID == ([16]byte{}) {
		return errZeroTraceID
	}
	if s.SpanID == ([8]byte{}) {
		return errZeroSpanID
	}
	if s.End.Before(s.Start) {
		return fmt.Errorf("span %q ends %s before it starts", s.Name, s.Start.Sub(s.End))
	}
	return nil
}

// Duration returns the span's elapsed time.
func (s *Span) Duration() time.Duration { return s.End.Sub(s.Start) }

// MetricKind identifies the shape of a metric point.
type MetricKind int

const (
	MetricCounter MetricKind = iota
	MetricGauge
	MetricHistogram
)

func (k MetricKind) String() string {
	switch k {
	case MetricCounter:
		return "counter"
	case MetricGauge:
		return "gauge"
	case MetricHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// HistogramValue is the bucketed payload of a histogram point. BucketCounts
// has one more entry than Bounds: the final bucket counts observations above
// the last bound.
type HistogramValue struct {
	Count        uint64
	Sum          float64
	BucketCounts []uint64
	Bounds       []float64
}

// MetricPoint is a single metric sample.
type MetricPoint struct {
	Name       string
	Kind       MetricKind
	Time       time.Time
	Value      float64
	Histogram  *HistogramValue
	Attributes Attributes
}

// Validate checks structural invariants of the point. Counter monotonicity
// is a cross-point property and is enforced by the receiver's stream
// tracker, not here.
func (p *MetricPoint) Validate() error {
	if p.Name == "" {
		return errors.New("metric point has an empty name")
	}
	switch p.Kind {
	case MetricHistogram:
		if p.Histogram == nil {
			return fmt.Errorf("histogram metric %q has no bucket payload", p.Name)
		}
		if len(p.Histogram.BucketCounts) != len(p.Histogram.Bounds)+1 {
			return fmt.Errorf("histogram metric %q has %d bucket counts for %d bounds",
				p.Name, len(p.Histogram.BucketCounts), len(p.Histogram.Bounds))
		}
	case MetricCounter, MetricGauge:
		if p.Histogram != nil {
			return fmt.Errorf("%s metric %q carries histogram buckets", p.Kind, p.Name)
		}
	default:
		return fmt.Errorf("metric %q has unknown kind %d", p.Name, p.Kind)
	}
	return nil
}

// StreamKey identifies the stream a point belongs to, for monotonicity
// checks on counters.
func (p *MetricPoint) StreamKey() string {
	return p.Name + "|" + p.Attributes.Fingerprint()
}

// Severity is a coarse log severity, ordered from least to most severe.
type Severity int

const (
	SeverityUnspecified Severity = iota
	SeverityTrace
	SeverityDebug
	SeverityInfo
	SeverityWarn
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityTrace:
		return "trace"
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unspecified"
	}
}

// LogRecord is a single log entry.
type LogRecord struct {
	Time         time.Time
	Severity     Severity
	SeverityText string
	Body         string
	Attributes   Attributes
}

// Signal constrains the generic pipeline machinery to the three signal
// kinds.
type Signal interface {
	Span | MetricPoint | LogRecord
}

// KindOf reports the signal kind for a Signal type parameter.
func KindOf[T Signal]() Kind {
	var zero T
	switch any(zero).(type) {
	case Span:
		return KindTraces
	case MetricPoint:
		return KindMetrics
	default:
		return KindLogs
	}
}
