package steps

import (
	"context"
	"fmt"

	"github.com/dshills/chatpipe/chat"
	"github.com/dshills/chatpipe/pipeline"
)

// batchInputs groups candidates into classifier calls, attaching up to
// window messages on each side of every candidate.
func batchInputs(messages []chat.Message, candidates []Candidate, size, window int) [][]ClassifyInput {
	byID := make(map[int]int, len(messages))
	for i, m := range messages {
		byID[m.ID] = i
	}

	var batches [][]ClassifyInput
	var cur []ClassifyInput
	for _, c := range candidates {
		in := ClassifyInput{Candidate: c}
		if i, ok := byID[c.MessageID]; ok {
			lo, hi := max(0, i-window), min(len(messages), i+window+1)
			in.Context = messages[lo:hi]
		}
		cur = append(cur, in)
		if len(cur) == size {
			batches = append(batches, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

func (d Deps) runClassify(ctx context.Context, sc *pipeline.StepContext) (any, error) {
	return pipeline.CachedWithMarker(ctx, sc, StageClassifications, func(ctx context.Context) ([]Classification, ClassifyStats, error) {
		messages, err := pipeline.Await[[]chat.Message](ctx, sc, StepParse)
		if err != nil {
			return nil, ClassifyStats{}, err
		}
		candidates, err := pipeline.Await[[]Candidate](ctx, sc, StepScan)
		if err != nil {
			return nil, ClassifyStats{}, err
		}
		batches := batchInputs(messages, candidates, d.batchSize(), d.contextWindow())

		// A partial classification would be cached as complete, so the
		// first failed batch stops the pool and fails the step.
		opts := pipeline.PoolOptionsFor[[]ClassifyInput, []Classification](sc.Pool, StepClassify)
		opts.OnError = func(pipeline.TaskFailure[[]ClassifyInput]) bool { return false }
		res := pipeline.RunPool(ctx, batches, func(ctx context.Context, batch []ClassifyInput, _ int) ([]Classification, error) {
			out, err := d.Classifier.Classify(ctx, batch)
			if err != nil {
				return nil, err
			}
			if len(out) != len(batch) {
				return nil, fmt.Errorf("classifier returned %d results for %d candidates", len(out), len(batch))
			}
			return out, nil
		}, opts)
		if len(res.Errors) > 0 {
			return nil, ClassifyStats{}, res.Errors[0]
		}
		if err := ctx.Err(); err != nil {
			return nil, ClassifyStats{}, err
		}

		stats := ClassifyStats{Candidates: len(candidates), Batches: len(batches)}
		out := []Classification{}
		for _, batch := range res.Successes {
			for _, c := range batch {
				if c.IsActivity {
					stats.Activities++
				}
				out = append(out, c)
			}
		}
		return out, stats, nil
	})
}

// activities returns the classifications flagged as things to do.
func activities(cs []Classification) []Classification {
	out := []Classification{}
	for _, c := range cs {
		if c.IsActivity {
			out = append(out, c)
		}
	}
	return out
}

func candidatesByID(cs []Candidate) map[int]Candidate {
	out := make(map[int]Candidate, len(cs))
	for _, c := range cs {
		out[c.MessageID] = c
	}
	return out
}
