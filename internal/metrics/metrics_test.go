package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordBuildOutcomeIncrementsCorrectLabel(t *testing.T) {
	before := testutil.ToFloat64(BuildCache.WithLabelValues("hit"))
	RecordBuildOutcome(true)
	after := testutil.ToFloat64(BuildCache.WithLabelValues("hit"))
	if after != before+1 {
		t.Fatalf("expected hit counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestRecordBuildOutcomeMiss(t *testing.T) {
	before := testutil.ToFloat64(BuildCache.WithLabelValues("miss"))
	RecordBuildOutcome(false)
	after := testutil.ToFloat64(BuildCache.WithLabelValues("miss"))
	if after != before+1 {
		t.Fatalf("expected miss counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestWorkerPoolSizeGaugeSettable(t *testing.T) {
	WorkerPoolSize.Set(8)
	if got := testutil.ToFloat64(WorkerPoolSize); got != 8 {
		t.Fatalf("expected gauge value 8, got %v", got)
	}
}
