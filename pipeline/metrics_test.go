package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dshills/chatpipe/pipeline/store"
)

func TestMetrics_StepsAndCache(t *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	stages := store.NewStageStore(store.NewMemBackend())
	run, _ := stages.FindOrCreateRun(ctx, "/data/chat.zip", "H1")

	sc := &scenario{}
	r1 := NewRunner(stages, run, WithMetrics(metrics))
	sc.register(t, r1)
	_, _ = r1.Run(ctx, "scan")

	r2 := NewRunner(stages, run, WithMetrics(metrics))
	sc.register(t, r2)
	_, _ = r2.Run(ctx, "scan")

	if got := testutil.ToFloat64(metrics.stepExecutions.WithLabelValues("scan", OutcomeExecuted)); got != 1 {
		t.Errorf("scan executed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.stepExecutions.WithLabelValues("scan", OutcomeCached)); got != 1 {
		t.Errorf("scan cached = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("scan", "miss")); got != 1 {
		t.Errorf("scan misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("scan", "hit")); got != 1 {
		t.Errorf("scan hits = %v, want 1", got)
	}
}

func TestMetrics_Pool(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	RunPool(context.Background(), []int{1, 2, 3}, func(_ context.Context, n int, _ int) (int, error) {
		if n == 3 {
			return 0, errors.New("no")
		}
		return n, nil
	}, PoolOptions[int, int]{Name: "geocode", Metrics: metrics})

	if got := testutil.ToFloat64(metrics.inflightTasks); got != 0 {
		t.Errorf("inflight after pool = %v, want 0", got)
	}
	if n := testutil.CollectAndCount(metrics.taskLatency, "chatpipe_task_latency_ms"); n != 2 {
		t.Errorf("expected success and error series, got %d", n)
	}
}

func TestMetrics_DisabledAndNil(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.Disable()
	metrics.RecordStep("s", OutcomeExecuted)
	if got := testutil.ToFloat64(metrics.stepExecutions.WithLabelValues("s", OutcomeExecuted)); got != 0 {
		t.Errorf("disabled metrics recorded %v", got)
	}
	metrics.Enable()
	metrics.RecordStep("s", OutcomeExecuted)
	if got := testutil.ToFloat64(metrics.stepExecutions.WithLabelValues("s", OutcomeExecuted)); got != 1 {
		t.Errorf("re-enabled metrics recorded %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.TaskStarted()
	nilMetrics.TaskFinished("p", 0, "success")
	nilMetrics.RecordCacheLookup("s", true)
	nilMetrics.Disable()
	nilMetrics.Enable()
	nilMetrics.Reset()
}
