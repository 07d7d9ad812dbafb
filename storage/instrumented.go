package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by every Instrumented store.
type Metrics struct {
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
	bytes   *prometheus.CounterVec
}

// NewMetrics creates the CAS collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proots",
			Subsystem: "cas",
			Name:      "operations_total",
			Help:      "CAS operations by backend, operation and result.",
		}, []string{"backend", "op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "proots",
			Subsystem: "cas",
			Name:      "operation_seconds",
			Help:      "CAS operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"backend", "op"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proots",
			Subsystem: "cas",
			Name:      "bytes_total",
			Help:      "Bytes written (put) and read (get).",
		}, []string{"backend", "op"}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.latency, m.bytes)
	}
	return m
}

// Instrumented wraps a CAS with Prometheus metrics and debug logging.
type Instrumented struct {
	Name    string
	CAS     CAS
	Metrics *Metrics
	Logger  *slog.Logger
}

var _ CAS = (*Instrumented)(nil)

func (s *Instrumented) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	start := time.Now()
	id, err := s.CAS.Put(ctx, data)
	s.observe(ctx, "put", start, len(data), id, err)
	return id, err
}

func (s *Instrumented) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	start := time.Now()
	b, err := s.CAS.Get(ctx, id)
	s.observe(ctx, "get", start, len(b), id, err)
	return b, err
}

func (s *Instrumented) Has(ctx context.Context, id cid.Cid) (bool, error) {
	start := time.Now()
	ok, err := s.CAS.Has(ctx, id)
	s.observe(ctx, "has", start, 0, id, err)
	return ok, err
}

func (s *Instrumented) observe(ctx context.Context, op string, start time.Time, n int, id cid.Cid, err error) {
	elapsed := time.Since(start)
	if s.Metrics != nil {
		s.Metrics.ops.WithLabelValues(s.Name, op, resultLabel(err)).Inc()
		s.Metrics.latency.WithLabelValues(s.Name, op).Observe(elapsed.Seconds())
		if err == nil && n > 0 {
			s.Metrics.bytes.WithLabelValues(s.Name, op).Add(float64(n))
		}
	}
	if s.Logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("backend", s.Name),
		slog.String("op", op),
		slog.Duration("elapsed", elapsed),
	}
	if id.Defined() {
		attrs = append(attrs, slog.String("cid", id.String()))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		s.Logger.LogAttrs(ctx, slog.LevelWarn, "cas operation failed", attrs...)
		return
	}
	s.Logger.LogAttrs(ctx, slog.LevelDebug, "cas operation", attrs...)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsNotFound(err):
		return "not_found"
	case IsUnavailable(err):
		return "unavailable"
	default:
		return "error"
	}
}
