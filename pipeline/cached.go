package pipeline

import (
	"context"

	"github.com/dshills/chatpipe/pipeline/emit"
	"github.com/dshills/chatpipe/pipeline/store"
)

// Cached returns the value stored under stage, or computes and stores it.
//
// Use Cached for single-stage steps whose write is its own completion
// signal. A missing, corrupt or mistyped entry counts as a miss.
func Cached[T any](ctx context.Context, sc *StepContext, stage string, compute func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := store.Get[T](ctx, sc.Store, sc.RunInfo, stage); ok {
		sc.Metrics.RecordCacheLookup(stage, true)
		sc.hit(stage)
		return v, nil
	}
	sc.Metrics.RecordCacheLookup(stage, false)

	v, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := sc.Store.SetStage(ctx, sc.RunInfo, stage, v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// CachedWithMarker is Cached for bulk stages guarded by a completion marker.
//
// The entry is valid only when the marker store.MarkerName(stage) exists.
// On a miss, compute returns the primary value and the marker payload
// (typically summary statistics); the primary is persisted before the marker.
func CachedWithMarker[T, M any](ctx context.Context, sc *StepContext, stage string, compute func(ctx context.Context) (T, M, error)) (T, error) {
	if sc.Store.HasStage(ctx, sc.RunInfo, store.MarkerName(stage)) {
		if v, ok := store.Get[T](ctx, sc.Store, sc.RunInfo, stage); ok {
			sc.Metrics.RecordCacheLookup(stage, true)
			sc.hit(stage)
			return v, nil
		}
	}
	sc.Metrics.RecordCacheLookup(stage, false)

	v, marker, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := sc.Store.SetStageWithMarker(ctx, sc.RunInfo, stage, v, marker); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func (sc *StepContext) hit(stage string) {
	sc.MarkCached()
	emit.Or(sc.Emitter).Emit(emit.Event{
		RunID: sc.RunInfo.ID,
		Step:  sc.Step,
		Msg:   emit.MsgStepCached,
		Meta:  map[string]interface{}{"stage": stage},
	})
}
