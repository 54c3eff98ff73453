package obs

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects control-loop counters. A nil *Metrics is a no-op.
type Metrics struct {
	TasksDispatched *prometheus.CounterVec
	TaskFailures    *prometheus.CounterVec
	DispatchWait    *prometheus.HistogramVec
	QueueDepth      *prometheus.GaugeVec

	Iterations      *prometheus.CounterVec
	IterationTime   prometheus.Histogram
	Reconciliations *prometheus.CounterVec
	ReconcileGap    *prometheus.GaugeVec
	OrdersSubmitted *prometheus.CounterVec

	RunsSpawned     prometheus.Counter
	RunsCorrupted   prometheus.Counter
	HeightsAssigned prometheus.Counter
	RunsPurged      prometheus.Counter
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
	}

	return &Metrics{
		TasksDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "providence", Subsystem: "router", Name: "tasks_dispatched_total",
			Help: "Tasks dispatched by lane and task name.",
		}, []string{"lane", "task"}),
		TaskFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "providence", Subsystem: "router", Name: "task_failures_total",
			Help: "Failed task attempts by lane, task name and resolution (retried, dropped).",
		}, []string{"lane", "task", "resolution"}),
		DispatchWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "providence", Subsystem: "router", Name: "dispatch_wait_seconds",
			Help:    "Time from enqueue to dispatch.",
			Buckets: latencyBuckets,
		}, []string{"lane"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "providence", Subsystem: "router", Name: "queue_depth",
			Help: "Queued tasks per lane.",
		}, []string{"lane"}),

		Iterations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "providence", Subsystem: "iteration", Name: "total",
			Help: "Trading iterations by outcome.",
		}, []string{"outcome"}),
		IterationTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "providence", Subsystem: "iteration", Name: "duration_seconds",
			Help:    "Trading iteration duration.",
			Buckets: latencyBuckets,
		}),
		Reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "providence", Subsystem: "reconcile", Name: "cycles_total",
			Help: "Reconciliation cycles by symbol and outcome.",
		}, []string{"symbol", "outcome"}),
		ReconcileGap: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "providence", Subsystem: "reconcile", Name: "gap",
			Help: "Last computed desired minus actual position.",
		}, []string{"symbol"}),
		OrdersSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "providence", Subsystem: "reconcile", Name: "orders_total",
			Help: "Corrective orders by symbol and side.",
		}, []string{"symbol", "side"}),

		RunsSpawned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "providence", Subsystem: "supervisor", Name: "runs_spawned_total",
			Help: "Runs created by the supervisor.",
		}),
		RunsCorrupted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "providence", Subsystem: "iteration", Name: "runs_corrupted_total",
			Help: "Runs flagged because their state could not be replayed.",
		}),
		HeightsAssigned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "providence", Subsystem: "height", Name: "assigned_total",
			Help: "Height assignments.",
		}),
		RunsPurged: f.NewCounter(prometheus.CounterOpts{
			Namespace: "providence", Subsystem: "purge", Name: "runs_deleted_total",
			Help: "Exited runs deleted.",
		}),
	}
}

// ObserveDispatch records a dispatched task and its queue wait.
func (m *Metrics) ObserveDispatch(lane, task string, wait time.Duration, depth int) {
	if m == nil {
		return
	}
	m.TasksDispatched.WithLabelValues(lane, task).Inc()
	m.DispatchWait.WithLabelValues(lane).Observe(wait.Seconds())
	m.QueueDepth.WithLabelValues(lane).Set(float64(depth))
}

// IncTaskFailure records a failed attempt.
func (m *Metrics) IncTaskFailure(lane, task, resolution string) {
	if m == nil {
		return
	}
	m.TaskFailures.WithLabelValues(lane, task, resolution).Inc()
}

// ObserveIteration records one iteration outcome.
func (m *Metrics) ObserveIteration(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Iterations.WithLabelValues(outcome).Inc()
	m.IterationTime.Observe(d.Seconds())
}

// IncCorrupted records a run flagged as corrupted.
func (m *Metrics) IncCorrupted() {
	if m == nil {
		return
	}
	m.RunsCorrupted.Inc()
}

// ObserveReconcile records one reconciliation cycle.
func (m *Metrics) ObserveReconcile(symbol, outcome string, gap float64) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(symbol, outcome).Inc()
	m.ReconcileGap.WithLabelValues(symbol).Set(gap)
}

// IncOrder records a submitted corrective order.
func (m *Metrics) IncOrder(symbol, side string) {
	if m == nil {
		return
	}
	m.OrdersSubmitted.WithLabelValues(symbol, side).Inc()
}

// AddSpawned records runs created by the supervisor.
func (m *Metrics) AddSpawned(n int) {
	if m == nil {
		return
	}
	m.RunsSpawned.Add(float64(n))
}

// IncHeight records a height assignment.
func (m *Metrics) IncHeight() {
	if m == nil {
		return
	}
	m.HeightsAssigned.Inc()
}

// AddPurged records deleted runs.
func (m *Metrics) AddPurged(n int64) {
	if m == nil {
		return
	}
	m.RunsPurged.Add(float64(n))
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		lo := atomic.LoadUint64(&l.min)
		if lo != 0 && nanos >= lo {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, lo, nanos) {
			break
		}
	}

	for {
		hi := atomic.LoadUint64(&l.max)
		if nanos <= hi {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, hi, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
	}
}
