// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package model

import (
	"fmt"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"
)

// This file converts between the internal signal model and the OTLP data
// model (pdata), which is the wire representation on both ingress and
// egress. Decoding validates each item individually: invalid items are
// dropped from the result and counted, so a partially bad payload still
// yields its valid items.

func attrsFromMap(m pcommon.Map) Attributes {
	if m.Len() == 0 {
		return nil
	}
	attrs := make(Attributes, 0, m.Len())
	m.Range(func(k string, v pcommon.Value) bool {
		attrs = append(attrs, KeyValue{Key: k, Value: valueFromPdata(v)})
		return true
	})
	return attrs
}

func valueFromPdata(v pcommon.Value) Value {
	switch v.Type() {
	case pcommon.ValueTypeInt:
		return IntValue(v.Int())
	case pcommon.ValueTypeDouble:
		return DoubleValue(v.Double())
	case pcommon.ValueTypeBool:
		return BoolValue(v.Bool())
	case pcommon.ValueTypeStr:
		return StringValue(v.Str())
	default:
		// Maps, slices and bytes are flattened to their string rendering.
		return StringValue(v.AsString())
	}
}

func attrsIntoMap(attrs Attributes, m pcommon.Map) {
	m.EnsureCapacity(len(attrs))
	for _, kv := range attrs {
		switch kv.Value.Type() {
		case ValueTypeInt:
			m.PutInt(kv.Key, kv.Value.Int())
		case ValueTypeDouble:
			m.PutDouble(kv.Key, kv.Value.Double())
		case ValueTypeBool:
			m.PutBool(kv.Key, kv.Value.Bool())
		default:
			m.PutStr(kv.Key, kv.Value.Str())
		}
	}
}

// FromTraces converts an OTLP trace payload into one span batch per
// resource section. Spans violating the model invariants are rejected
// individually; the rejection count and the first rejection reason are
// returned alongside the surviving batches.
func FromTraces(td ptrace.Traces) (batches []Batch[Span], rejected int, firstErr error) {
	rss := td.ResourceSpans()
	for i := 0; i < rss.Len(); i++ {
		rs := rss.At(i)
		resource := Resource{Attributes: attrsFromMap(rs.Resource().Attributes())}

		var items []Span
		sss := rs.ScopeSpans()
		for j := 0; j < sss.Len(); j++ {
			spans := sss.At(j).Spans()
			for k := 0; k < spans.Len(); k++ {
				span := spanFromPdata(spans.At(k))
				if err := span.Validate(); err != nil {
					rejected++
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				items = append(items, span)
			}
		}
		if len(items) > 0 {
			batches = append(batches, NewBatch(resource, items))
		}
	}
	return batches, rejected, firstErr
}

func spanFromPdata(s ptrace.Span) Span {
	span := Span{
		TraceID:       [16]byte(s.TraceID()),
		SpanID:        [8]byte(s.SpanID()),
		ParentSpanID:  [8]byte(s.ParentSpanID()),
		Name:          s.Name(),
		Start:         s.StartTimestamp().AsTime(),
		End:           s.EndTimestamp().AsTime(),
		StatusMessage: s.Status().Message(),
		Attributes:    attrsFromMap(s.Attributes()),
	}
	switch s.Status().Code() {
	case ptrace.StatusCodeOk:
		span.Status = StatusOK
	case ptrace.StatusCodeError:
		span.Status = StatusError
	}
	events := s.Events()
	for i := 0; i < events.Len(); i++ {
		ev := events.At(i)
		span.Events = append(span.Events, SpanEvent{
			Name:       ev.Name(),
			Time:       ev.Timestamp().AsTime(),
			Attributes: attrsFromMap(ev.Attributes()),
		})
	}
	return span
}

// ToTraces re-encodes sealed span batches as an OTLP trace payload.
func ToTraces(batches []Batch[Span]) ptrace.Traces {
	td := ptrace.NewTraces()
	for _, b := range batches {
		rs := td.ResourceSpans().AppendEmpty()
		attrsIntoMap(b.Resource().Attributes, rs.Resource().Attributes())
		spans := rs.ScopeSpans().AppendEmpty().Spans()
		spans.EnsureCapacity(b.Len())
		for _, item := range b.Items() {
			sp := spans.AppendEmpty()
			sp.SetTraceID(pcommon.TraceID(item.TraceID))
			sp.SetSpanID(pcommon.SpanID(item.SpanID))
			if item.ParentSpanID != ([8]byte{}) {
				sp.SetParentSpanID(pcommon.SpanID(item.ParentSpanID))
			}
			sp.SetName(item.Name)
			sp.SetStartTimestamp(pcommon.NewTimestampFromTime(item.Start))
			sp.SetEndTimestamp(pcommon.NewTimestampFromTime(item.End))
			switch item.Status {
			case StatusOK:
				sp.Status().SetCode(ptrace.StatusCodeOk)
			case StatusError:
				sp.Status().SetCode(ptrace.StatusCodeError)
			}
			if item.StatusMessage != "" {
				sp.Status().SetMessage(item.StatusMessage)
			}
			attrsIntoMap(item.Attributes, sp.Attributes())
			for _, ev := range item.Events {
				e := sp.Events().AppendEmpty()
				e.SetName(ev.Name)
				e.SetTimestamp(pcommon.NewTimestampFromTime(ev.Time))
				attrsIntoMap(ev.Attributes, e.Attributes())
			}
		}
	}
	return td
}

// FromMetrics converts an OTLP metric payload into one point batch per
// resource section. extra, if non-nil, runs after structural validation
// and can reject a point with an error; the receiver uses it to enforce
// counter monotonicity per stream.
func FromMetrics(md pmetric.Metrics, extra func(*MetricPoint) error) (batches []Batch[MetricPoint], rejected int, firstErr error) {
	reject := func(err error) {
		rejected++
		if firstErr == nil {
			firstErr = err
		}
	}

	rms := md.ResourceMetrics()
	for i := 0; i < rms.Len(); i++ {
		rm := rms.At(i)
		resource := Resource{Attributes: attrsFromMap(rm.Resource().Attributes())}

		var items []MetricPoint
		sms := rm.ScopeMetrics()
		for j := 0; j < sms.Len(); j++ {
			ms := sms.At(j).Metrics()
			for k := 0; k < ms.Len(); k++ {
				points, unsupported := pointsFromPdata(ms.At(k))
				if unsupported > 0 {
					rejected += unsupported
					if firstErr == nil {
						firstErr = fmt.Errorf("metric %q has an unsupported type %s",
							ms.At(k).Name(), ms.At(k).Type())
					}
				}
				for _, p := range points {
					p := p
					if err := p.Validate(); err != nil {
						reject(err)
						continue
					}
					if extra != nil {
						if err := extra(&p); err != nil {
							reject(err)
							continue
						}
					}
					items = append(items, p)
				}
			}
		}
		if len(items) > 0 {
			batches = append(batches, NewBatch(resource, items))
		}
	}
	return batches, rejected, firstErr
}

func pointsFromPdata(m pmetric.Metric) (points []MetricPoint, unsupported int) {
	switch m.Type() {
	case pmetric.MetricTypeSum:
		kind := MetricGauge
		if m.Sum().IsMonotonic() {
			kind = MetricCounter
		}
		dps := m.Sum().DataPoints()
		for i := 0; i < dps.Len(); i++ {
			points = append(points, numberPoint(m.Name(), kind, dps.At(i)))
		}
	case pmetric.MetricTypeGauge:
		dps := m.Gauge().DataPoints()
		for i := 0; i < dps.Len(); i++ {
			points = append(points, numberPoint(m.Name(), MetricGauge, dps.At(i)))
		}
	case pmetric.MetricTypeHistogram:
		dps := m.Histogram().DataPoints()
		for i := 0; i < dps.Len(); i++ {
			dp := dps.At(i)
			points = append(points, MetricPoint{
				Name: m.Name(),
				Kind: MetricHistogram,
				Time: dp.Timestamp().AsTime(),
				Histogram: &HistogramValue{
					Count:        dp.Count(),
					Sum:          dp.Sum(),
					BucketCounts: dp.BucketCounts().AsRaw(),
					Bounds:       dp.ExplicitBounds().AsRaw(),
				},
				Attributes: attrsFromMap(dp.Attributes()),
			})
		}
	case pmetric.MetricTypeSummary:
		unsupported = m.Summary().DataPoints().Len()
	case pmetric.MetricTypeExponentialHistogram:
		unsupported = m.ExponentialHistogram().DataPoints().Len()
	}
	return points, unsupported
}

func numberPoint(name string, kind MetricKind, dp pmetric.NumberDataPoint) MetricPoint {
	p := MetricPoint{
		Name:       name,
		Kind:       kind,
		Time:       dp.Timestamp().AsTime(),
		Attributes: attrsFromMap(dp.Attributes()),
	}
	if dp.ValueType() == pmetric.NumberDataPointValueTypeInt {
		p.Value = float64(dp.IntValue())
	} else {
		p.Value = dp.DoubleValue()
	}
	return p
}

// ToMetrics re-encodes sealed point batches as an OTLP metric payload.
func ToMetrics(batches []Batch[MetricPoint]) pmetric.Metrics {
	md := pmetric.NewMetrics()
	for _, b := range batches {
		rm := md.ResourceMetrics().AppendEmpty()
		attrsIntoMap(b.Resource().Attributes, rm.Resource().Attributes())
		ms := rm.ScopeMetrics().AppendEmpty().Metrics()
		ms.EnsureCapacity(b.Len())
		for _, item := range b.Items() {
			m := ms.AppendEmpty()
			m.SetName(item.Name)
			switch item.Kind {
			case MetricCounter:
				sum := m.SetEmptySum()
				sum.SetIsMonotonic(true)
				sum.SetAggregationTemporality(pmetric.AggregationTemporalityCumulative)
				dp := sum.DataPoints().AppendEmpty()
				dp.SetDoubleValue(item.Value)
				dp.SetTimestamp(pcommon.NewTimestampFromTime(item.Time))
				attrsIntoMap(item.Attributes, dp.Attributes())
			case MetricGauge:
				dp := m.SetEmptyGauge().DataPoints().AppendEmpty()
				dp.SetDoubleValue(item.Value)
				dp.SetTimestamp(pcommon.NewTimestampFromTime(item.Time))
				attrsIntoMap(item.Attributes, dp.Attributes())
			case MetricHistogram:
				h := m.SetEmptyHistogram()
				h.SetAggregationTemporality(pmetric.AggregationTemporalityCumulative)
				dp := h.DataPoints().AppendEmpty()
				dp.SetCount(item.Histogram.Count)
				dp.SetSum(item.Histogram.Sum)
				dp.BucketCounts().FromRaw(item.Histogram.BucketCounts)
				dp.ExplicitBounds().FromRaw(item.Histogram.Bounds)
				dp.SetTimestamp(pcommon.NewTimestampFromTime(item.Time))
				attrsIntoMap(item.Attributes, dp.Attributes())
			}
		}
	}
	return md
}

// FromLogs converts an OTLP log payload into one record batch per
// resource section. Records with no timestamp fall back to the observed
// timestamp.
func FromLogs(ld plog.Logs) (batches []Batch[LogRecord], rejected int, firstErr error) {
	rls := ld.ResourceLogs()
	for i := 0; i < rls.Len(); i++ {
		rl := rls.At(i)
		resource := Resource{Attributes: attrsFromMap(rl.Resource().Attributes())}

		var items []LogRecord
		sls := rl.ScopeLogs()
		for j := 0; j < sls.Len(); j++ {
			lrs := sls.At(j).LogRecords()
			for k := 0; k < lrs.Len(); k++ {
				lr := lrs.At(k)
				ts := lr.Timestamp()
				if ts == 0 {
					ts = lr.ObservedTimestamp()
				}
				items = append(items, LogRecord{
					Time:         ts.AsTime(),
					Severity:     severityFromNumber(lr.SeverityNumber()),
					SeverityText: lr.SeverityText(),
					Body:         lr.Body().AsString(),
					Attributes:   attrsFromMap(lr.Attributes()),
				})
			}
		}
		if len(items) > 0 {
			batches = append(batches, NewBatch(resource, items))
		}
	}
	return batches, 0, nil
}

// severityFromNumber collapses the 24 OTLP severity numbers into the six
// coarse levels of the model.
func severityFromNumber(n plog.SeverityNumber) Severity {
	switch {
	case n >= plog.SeverityNumberFatal:
		return SeverityFatal
	case n >= plog.SeverityNumberError:
		return SeverityError
	case n >= plog.SeverityNumberWarn:
		return SeverityWarn
	case n >= plog.SeverityNumberInfo:
		return SeverityInfo
	case n >= plog.SeverityNumberDebug:
		return SeverityDebug
	case n >= plog.SeverityNumberTrace:
		return SeverityTrace
	default:
		return SeverityUnspecified
	}
}

func severityToNumber(s Severity) plog.SeverityNumber {
	switch s {
	case SeverityTrace:
		return plog.SeverityNumberTrace
	case SeverityDebug:
		return plog.SeverityNumberDebug
	case SeverityInfo:
		return plog.SeverityNumberInfo
	case SeverityWarn:
		return plog.SeverityNumberWarn
	case SeverityError:
		return plog.SeverityNumberError
	case SeverityFatal:
		return plog.SeverityNumberFatal
	default:
		return plog.SeverityNumberUnspecified
	}
}

// ToLogs re-encodes sealed record batches as an OTLP log payload.
func ToLogs(batches []Batch[LogRecord]) plog.Logs {
	ld := plog.NewLogs()
	for _, b := range batches {
		rl := ld.ResourceLogs().AppendEmpty()
		attrsIntoMap(b.Resource().Attributes, rl.Resource().Attributes())
		lrs := rl.ScopeLogs().AppendEmpty().LogRecords()
		lrs.EnsureCapacity(b.Len())
		for _, item := range b.Items() {
			lr := lrs.AppendEmpty()
			lr.SetTimestamp(pcommon.NewTimestampFromTime(item.Time))
			lr.SetSeverityNumber(severityToNumber(item.Severity))
			if item.SeverityText != "" {
				lr.SetSeverityText(item.SeverityText)
			}
			lr.Body().SetStr(item.Body)
			attrsIntoMap(item.Attributes, lr.Attributes())
		}
	}
	return ld
}
