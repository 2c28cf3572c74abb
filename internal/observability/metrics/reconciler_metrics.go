package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Config carries the const labels stamped on every reconciler metric.
type Config struct {
	ServiceName string
	Environment string
}

const (
	ReconcilerJobReasonDeadlineExceeded     = "deadline_exceeded"
	ReconcilerJobReasonDBLockTimeout        = "db_lock_timeout"
	ReconcilerJobReasonSerializationFailure = "serialization_failure"
	ReconcilerJobReasonUniqueViolation      = "unique_violation"
	ReconcilerJobReasonForbidden            = "forbidden"
	ReconcilerJobReasonUnknown              = "unknown"
)

const (
	LockResourceProjectsForWork    = "projects_for_work"
	LockResourceSuspensionByID     = "suspension_by_id"
	LockResourceQuotasForReset     = "quotas_for_reset"
	LockResourceProjectsForDelete  = "projects_for_delete"
	LockResourceOpenSuspensionScan = "open_suspension_scan"
)

// ErrForbidden is matched by the reason classifier; the authorization
// package wraps its denials around it.
var ErrForbidden = errors.New("forbidden")

// ReconcilerMetrics captures reconciliation job health signals.
type ReconcilerMetrics struct {
	jobRuns            *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	jobTimeouts        *prometheus.CounterVec
	jobErrors          *prometheus.CounterVec
	batchProcessed     *prometheus.CounterVec
	runLoopLag         prometheus.Observer
	projectTransitions *prometheus.CounterVec
	dbLockWait         *prometheus.HistogramVec
}

var (
	reconcilerMetricsOnce sync.Once
	reconcilerMetrics     *ReconcilerMetrics
)

// Reconciler returns the singleton reconciler metrics registry.
func Reconciler() *ReconcilerMetrics {
	return ReconcilerWithConfig(Config{})
}

// ReconcilerWithConfig returns the singleton reconciler metrics registry using config labels.
func ReconcilerWithConfig(cfg Config) *ReconcilerMetrics {
	reconcilerMetricsOnce.Do(func() {
		reconcilerMetrics = newReconcilerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return reconcilerMetrics
}

// ResetReconcilerMetricsForTest resets the metrics singleton for tests.
func ResetReconcilerMetricsForTest() {
	reconcilerMetricsOnce = sync.Once{}
	reconcilerMetrics = nil
}

func newReconcilerMetrics(registerer prometheus.Registerer, cfg Config) *ReconcilerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "nimbase_control"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "controlplane_reconciler_job_runs_total",
		Help:        "Reconciler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "controlplane_reconciler_job_duration_seconds",
		Help:        "Reconciler job latency to keep enforcement freshness within SLOs.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "controlplane_reconciler_job_timeouts_total",
		Help:        "Reconciler job timeouts that delay status convergence.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "controlplane_reconciler_job_errors_total",
		Help:        "Reconciler job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	batchProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "controlplane_reconciler_batch_processed_total",
		Help:        "Reconciler batch items processed to gauge sweep throughput.",
		ConstLabels: constLabels,
	}, []string{"job", "resource"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "controlplane_reconciler_runloop_lag_seconds",
		Help:        "Reconciler run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	projectTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "controlplane_project_transition_total",
		Help:        "Project lifecycle transitions applied by the reconciler.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})
	dbLockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "controlplane_reconciler_db_lock_wait_seconds",
		Help:        "Reconciler DB lock wait time for SELECT FOR UPDATE contention.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"resource"})

	for _, collector := range []prometheus.Collector{
		jobRuns, jobDuration, jobTimeouts, jobErrors, batchProcessed,
		runLoopLag, projectTransitions, dbLockWait,
	} {
		if err := registerer.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}

	return &ReconcilerMetrics{
		jobRuns:            jobRuns,
		jobDuration:        jobDuration,
		jobTimeouts:        jobTimeouts,
		jobErrors:          jobErrors,
		batchProcessed:     batchProcessed,
		runLoopLag:         runLoopLag,
		projectTransitions: projectTransitions,
		dbLockWait:         dbLockWait,
	}
}

func (m *ReconcilerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *ReconcilerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *ReconcilerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *ReconcilerMetrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyReconcilerJobReason(err)).Inc()
}

func (m *ReconcilerMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

func (m *ReconcilerMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil || lag <= 0 {
		return
	}
	m.runLoopLag.Observe(lag.Seconds())
}

func (m *ReconcilerMetrics) IncProjectTransition(from, to string) {
	if m == nil {
		return
	}
	m.projectTransitions.WithLabelValues(from, to).Inc()
}

func (m *ReconcilerMetrics) ObserveDBLockWait(resource string, d time.Duration) {
	if m == nil {
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(d.Seconds())
}

// ClassifyReconcilerJobReason maps an error to a low-cardinality reason label.
func ClassifyReconcilerJobReason(err error) string {
	if err == nil {
		return ReconcilerJobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReconcilerJobReasonDeadlineExceeded
	}
	if errors.Is(err, ErrForbidden) {
		return ReconcilerJobReasonForbidden
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ReconcilerJobReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return ReconcilerJobReasonDBLockTimeout
		case "40001":
			return ReconcilerJobReasonSerializationFailure
		case "23505":
			return ReconcilerJobReasonUniqueViolation
		}
	}
	return ReconcilerJobReasonUnknown
}

// IsReconcilerErrorRetryable reports whether the scheduler may retry on the next sweep.
func IsReconcilerErrorRetryable(err error) bool {
	switch ClassifyReconcilerJobReason(err) {
	case ReconcilerJobReasonDeadlineExceeded,
		ReconcilerJobReasonDBLockTimeout,
		ReconcilerJobReasonSerializationFailure:
		return true
	default:
		return false
	}
}
