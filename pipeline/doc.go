// Package pipeline provides the execution engine for chatpipe: a step runner
// that memoizes and deduplicates step executions for one run, cached-step
// helpers built on the stage store, and a bounded worker pool for per-item
// fan-out.
//
// A typical step checks the stage store, resolves its dependencies through the
// runner, fans out its I/O through the pool and persists its result:
//
//	r := pipeline.NewRunner(stages, run, pipeline.WithEmitter(emitter))
//	_ = r.Register(pipeline.Step{
//	    Name: "scrape",
//	    Deps: []string{"scan"},
//	    Run: func(ctx context.Context, sc *pipeline.StepContext) (any, error) {
//	        return pipeline.CachedWithMarker(ctx, sc, "scrapes", func(ctx context.Context) ([]Page, Stats, error) {
//	            urls, err := pipeline.Await[[]string](ctx, sc, "scan")
//	            if err != nil {
//	                return nil, Stats{}, err
//	            }
//	            res := pipeline.RunPool(ctx, urls, fetchPage, pipeline.PoolOptionsFor[string, Page](sc.Pool, "scrape"))
//	            return res.Successes, Stats{Errors: res.ErrorCount}, nil
//	        })
//	    },
//	})
//	pages, err := pipeline.RunAs[[]Page](ctx, r, "scrape")
package pipeline
