package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/INLOpen/nexusevent/clock"
	"github.com/INLOpen/nexusevent/core"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Status is the outcome reported to the query callback.
type Status int

const (
	StatusSucceed Status = iota
	StatusConcurrent
	StatusOverTime
	StatusOverLimit
	StatusTooFrequent
)

func (s Status) String() string {
	switch s {
	case StatusSucceed:
		return "SUCCEED"
	case StatusConcurrent:
		return "CONCURRENT"
	case StatusOverTime:
		return "OVER_TIME"
	case StatusOverLimit:
		return "OVER_LIMIT"
	case StatusTooFrequent:
		return "TOO_FREQUENT"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Callback receives every status raised for a query, warnings included,
// followed by StatusSucceed when the query produced a result.
type Callback func(Status)

// AdmissionError is returned when a query is rejected.
type AdmissionError struct {
	Status Status
	Kind   Kind
	Detail string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%s query rejected (%s): %s", e.Kind, e.Status, e.Detail)
}

// IsRejected reports whether err is an admission rejection with status s.
func IsRejected(err error, s Status) bool {
	var ae *AdmissionError
	return errors.As(err, &ae) && ae.Status == s
}

// Limits are the admission thresholds.
type Limits struct {
	// MaxInnerConditions bounds the leaf conditions of an inner query.
	MaxInnerConditions int
	InnerRowLimit      int
	ExternalRowLimit   int
	// MaxConcurrent bounds the running queries of each kind.
	MaxConcurrent int
	// FrequencyInterval is the minimum gap between two queries of a process.
	FrequencyInterval time.Duration
	// OverTime is the execution time at which a query is reported.
	OverTime time.Duration
}

// DefaultLimits returns the standard thresholds.
func DefaultLimits() Limits {
	return Limits{
		MaxInnerConditions: 8,
		InnerRowLimit:      50,
		ExternalRowLimit:   1000,
		MaxConcurrent:      4,
		FrequencyInterval:  time.Second,
		OverTime:           20 * time.Second,
	}
}

func (l Limits) rowLimit(k Kind) int {
	if k == Inner {
		return l.InnerRowLimit
	}
	return l.ExternalRowLimit
}

// AdmissionOptions configures an Admission.
type AdmissionOptions struct {
	Limits    Limits
	Clock     clock.Clock
	Logger    *slog.Logger
	Tracer    trace.Tracer
	StatusLog *StatusLog
	Metrics   *Metrics
}

// Admission gates query execution. Violations by external queries reject
// the query; inner queries are only reported and still run, except for the
// condition count which only applies to them.
type Admission struct {
	limits    Limits
	clock     clock.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	statusLog *StatusLog
	metrics   *Metrics
	latency   [2]*LatencyStats

	runningMu sync.Mutex
	running   [2]int

	lastMu    sync.Mutex
	lastQuery map[uint32]time.Time
}

// NewAdmission returns an Admission with its own counters. Zero limits take
// the defaults.
func NewAdmission(opts AdmissionOptions) *Admission {
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	if opts.Clock == nil {
		opts.Clock = clock.SystemClockDefault
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("query")
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(false, "")
	}
	return &Admission{
		limits:    opts.Limits,
		clock:     opts.Clock,
		logger:    opts.Logger.With("component", "Admission"),
		tracer:    opts.Tracer,
		statusLog: opts.StatusLog,
		metrics:   opts.Metrics,
		latency:   [2]*LatencyStats{NewLatencyStats(), NewLatencyStats()},
		lastQuery: make(map[uint32]time.Time),
	}
}

// Latency returns the execution latency quantiles of a query kind.
func (a *Admission) Latency(k Kind) LatencySnapshot {
	return a.latency[k].Snapshot()
}

// Running returns the number of executing queries of a kind.
func (a *Admission) Running(k Kind) int {
	a.runningMu.Lock()
	defer a.runningMu.Unlock()
	return a.running[k]
}

// Execute runs the admission checks in order (condition count, row limit,
// concurrency, frequency), executes q and checks its duration.
func (a *Admission) Execute(ctx context.Context, ex Executor, q *Query, cb Callback) (rs *core.ResultSet, err error) {
	if q == nil {
		return nil, core.ErrNullInput
	}
	if cb == nil {
		cb = func(Status) {}
	}
	id := uuid.NewString()
	ctx, span := a.tracer.Start(ctx, "Admission.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("query.id", id),
		attribute.String("query.kind", q.Kind.String()),
		attribute.Int("query.limit", q.Limit),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "query_failed")
		}
	}()

	qc := *q
	q = &qc
	if q.Limit <= 0 {
		q.Limit = a.limits.rowLimit(q.Kind)
	}

	if q.Kind == Inner && q.Conditions() > a.limits.MaxInnerConditions {
		a.statusLog.record(logTooManyConditions, q, id, "conditions", q.Conditions())
		return nil, a.reject(q, cb, StatusOverLimit,
			fmt.Sprintf("%d conditions exceed %d", q.Conditions(), a.limits.MaxInnerConditions))
	}

	if limit := a.limits.rowLimit(q.Kind); q.Limit > limit {
		a.statusLog.record(logCountOverLimit, q, id, "count", q.Limit)
		if err := a.violate(q, cb, StatusOverLimit, fmt.Sprintf("limit %d exceeds %d", q.Limit, limit)); err != nil {
			return nil, err
		}
	}

	release, over := a.acquire(q.Kind)
	defer release()
	if over {
		a.statusLog.record(logTooManyConcurrent, q, id, "count", a.limits.MaxConcurrent)
		if err := a.violate(q, cb, StatusConcurrent, fmt.Sprintf("more than %d concurrent queries", a.limits.MaxConcurrent)); err != nil {
			return nil, err
		}
	}

	if q.FrequencyCheck && !a.allowFrequency(q.Caller.PID) {
		a.statusLog.record(logTooFrequent, q, id, "pid", q.Caller.PID, "process", q.Caller.Process)
		if err := a.violate(q, cb, StatusTooFrequent, fmt.Sprintf("process %d queried within %s", q.Caller.PID, a.limits.FrequencyInterval)); err != nil {
			return nil, err
		}
	}

	a.metrics.AdmittedTotal.Add(1)
	start := a.clock.Now()
	rs, err = q.Execute(ctx, ex)
	elapsed := a.clock.Since(start)
	a.latency[q.Kind].Observe(elapsed)
	if err != nil {
		return nil, err
	}

	if elapsed >= a.limits.OverTime {
		a.statusLog.record(logOverTime, q, id, "cost", elapsed.String())
		if err := a.violate(q, cb, StatusOverTime, fmt.Sprintf("took %s", elapsed)); err != nil {
			return nil, err
		}
	}
	a.logger.Debug("Query executed.", "query_id", id, "kind", q.Kind.String(), "rows", rs.Len(), "duration", elapsed)
	cb(StatusSucceed)
	return rs, nil
}

// violate reports s and rejects external queries.
func (a *Admission) violate(q *Query, cb Callback, s Status, detail string) error {
	if q.Kind == Inner {
		cb(s)
		a.metrics.WarningsTotal.Add(1)
		a.metrics.Rejections.Add(s.String(), 1)
		a.logger.Warn("Inner query exceeds admission limit.", "status", s.String(), "detail", detail)
		return nil
	}
	return a.reject(q, cb, s, detail)
}

func (a *Admission) reject(q *Query, cb Callback, s Status, detail string) error {
	cb(s)
	a.metrics.RejectedTotal.Add(1)
	a.metrics.Rejections.Add(s.String(), 1)
	a.logger.Warn("Query rejected.", "kind", q.Kind.String(), "status", s.String(), "detail", detail)
	return &AdmissionError{Status: s, Kind: q.Kind, Detail: detail}
}

// acquire counts a running query of kind k. over is set when the limit was
// already reached; the slot is only taken when the query may run. release
// must be called on every path.
func (a *Admission) acquire(k Kind) (release func(), over bool) {
	a.runningMu.Lock()
	defer a.runningMu.Unlock()
	over = a.running[k] >= a.limits.MaxConcurrent
	if over && k == External {
		return func() {}, true
	}
	a.running[k]++
	a.metrics.Running.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			a.runningMu.Lock()
			a.running[k]--
			a.runningMu.Unlock()
			a.metrics.Running.Add(-1)
		})
	}, over
}

// allowFrequency reports whether pid may query now and records the query
// time when it may.
func (a *Admission) allowFrequency(pid uint32) bool {
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	now := a.clock.Now()
	if last, ok := a.lastQuery[pid]; ok {
		gap := now.Sub(last)
		if gap < 0 {
			gap = -gap
		}
		if gap <= a.limits.FrequencyInterval {
			return false
		}
	}
	a.lastQuery[pid] = now
	return true
}
