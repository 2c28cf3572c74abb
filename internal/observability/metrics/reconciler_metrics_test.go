package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyReconcilerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: ReconcilerJobReasonDeadlineExceeded,
		},
		{
			name: "forbidden",
			err:  fmt.Errorf("authorize: %w", ErrForbidden),
			want: ReconcilerJobReasonForbidden,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: ReconcilerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: ReconcilerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: ReconcilerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: ReconcilerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyReconcilerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newReconcilerMetrics(registry, Config{
		ServiceName: "nimbase_control",
		Environment: "test",
	})

	metrics.AddBatchProcessed("activate_provisioned", "projects", 3)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("activate_provisioned", "projects"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestRetryableClassification(t *testing.T) {
	if !IsReconcilerErrorRetryable(context.DeadlineExceeded) {
		t.Fatal("deadline should be retryable")
	}
	if IsReconcilerErrorRetryable(errors.New("boom")) {
		t.Fatal("unknown errors should not be retryable")
	}
}
