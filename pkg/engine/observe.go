package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ResultShape names the execute surface a command went through
type ResultShape string

const (
	ShapeQuery    ResultShape = "query"
	ShapeScalar   ResultShape = "scalar"
	ShapeNonQuery ResultShape = "nonquery"
)

// CompletionEvent is delivered to observers after every execution
type CompletionEvent struct {
	Command      *Command
	Shape        ResultShape
	Rows         int
	RowsAffected int64
	Duration     time.Duration
	Async        bool
	Err          error
}

// Observer receives completion notifications. Implementations must not
// call back into the Service that notified them.
type Observer interface {
	CommandCompleted(ev CompletionEvent)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ev CompletionEvent)

func (f ObserverFunc) CommandCompleted(ev CompletionEvent) { f(ev) }

// ============================================================
// LOG OBSERVER
// ============================================================

// LogObserver writes one zerolog event per execution
type LogObserver struct {
	Logger zerolog.Logger
}

func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{Logger: logger}
}

func (o *LogObserver) CommandCompleted(ev CompletionEvent) {
	text, kind := "", "unknown"
	if ev.Command != nil {
		text, kind = ev.Command.Text, ev.Command.Kind.String()
	}
	if ev.Err != nil {
		o.Logger.Error().Stack().Err(ev.Err).
			Str("SQL", text).
			Str("shape", string(ev.Shape)).
			Msg("command failed")
		return
	}
	o.Logger.Debug().
		Str("SQL", text).
		Str("kind", kind).
		Str("shape", string(ev.Shape)).
		Int("rows", ev.Rows).
		Int64("affected", ev.RowsAffected).
		Dur("duration", ev.Duration).
		Bool("async", ev.Async).
		Msg("command completed")
}

// ============================================================
// METRICS OBSERVER
// ============================================================

// MetricsObserver exports execution counts and latencies to Prometheus
type MetricsObserver struct {
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetricsObserver creates the collectors and registers them with reg
// when reg is non-nil.
func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	o := &MetricsObserver{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rowsync",
			Name:      "commands_total",
			Help:      "Executed commands by shape, operation and outcome.",
		}, []string{"shape", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rowsync",
			Name:      "command_duration_seconds",
			Help:      "Command execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"shape"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{o.commands, o.duration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return o, nil
}

func (o *MetricsObserver) CommandCompleted(ev CompletionEvent) {
	outcome := "ok"
	if ev.Err != nil {
		outcome = "error"
	}
	op := "unknown"
	if ev.Command != nil {
		op = ev.Command.Operation.String()
	}
	o.commands.WithLabelValues(string(ev.Shape), op, outcome).Inc()
	o.duration.WithLabelValues(string(ev.Shape)).Observe(ev.Duration.Seconds())
}

// Collectors exposes the underlying collectors, mainly for tests
func (o *MetricsObserver) Collectors() (*prometheus.CounterVec, *prometheus.HistogramVec) {
	return o.commands, o.duration
}
