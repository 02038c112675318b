package observability

import (
	"log/slog"
	"time"
)

// Timer measures one operation and reports it to a duration metric.
type Timer struct {
	metric  string
	start   time.Time
	logger  *slog.Logger
	metrics Metrics
	tags    []Tag
}

// StartTimer starts timing against the given duration metric.
func StartTimer(metric string) *Timer {
	return &Timer{metric: metric, start: time.Now()}
}

func (t *Timer) WithLogger(logger *slog.Logger) *Timer {
	t.logger = logger
	return t
}

func (t *Timer) WithMetrics(metrics Metrics) *Timer {
	t.metrics = metrics
	return t
}

func (t *Timer) WithTags(tags ...Tag) *Timer {
	t.tags = append(t.tags, tags...)
	return t
}

// Stop records the elapsed time with a result tag derived from err.
func (t *Timer) Stop(err error) time.Duration {
	d := time.Since(t.start)

	result := "ok"
	if err != nil {
		result = "error"
	}

	if t.logger != nil {
		if err != nil {
			t.logger.Debug("operation failed", "metric", t.metric, "duration_ms", d.Milliseconds(), "error", err)
		} else {
			t.logger.Debug("operation completed", "metric", t.metric, "duration_ms", d.Milliseconds())
		}
	}

	if t.metrics != nil {
		tags := append(append([]Tag(nil), t.tags...), T("result", result))
		t.metrics.Timing(t.metric, d, tags...)
	}
	return d
}

// TimeOperationResult times fn against metric.
func TimeOperationResult[T any](metrics Metrics, metric string, fn func() (T, error), tags ...Tag) (T, error) {
	timer := StartTimer(metric).WithMetrics(metrics).WithTags(tags...)
	res, err := fn()
	timer.Stop(err)
	return res, err
}
