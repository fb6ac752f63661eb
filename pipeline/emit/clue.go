package emit

import (
	"context"
	"errors"
	"sort"

	"goa.design/clue/log"
)

// ClueEmitter implements Emitter by writing structured logs through
// goa.design/clue/log.
//
// The logger format and debug flag come from the context given to
// NewClueEmitter, configured with log.Context:
//
//	ctx := log.Context(context.Background(), log.WithFormat(log.FormatJSON))
//	emitter := emit.NewClueEmitter(ctx)
//
// Levels:
//   - error: events carrying an "error" meta value
//   - warn: recoverable errors (corrupt cache entries, absorbed read failures)
//   - debug: stage writes and per-run bookkeeping
//   - info: everything else
type ClueEmitter struct {
	ctx context.Context
}

// NewClueEmitter creates a ClueEmitter that logs with the logger carried by ctx.
func NewClueEmitter(ctx context.Context) *ClueEmitter {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ClueEmitter{ctx: ctx}
}

// Emit logs the event.
func (c *ClueEmitter) Emit(event Event) {
	fielders := []log.Fielder{
		log.KV{K: "msg", V: event.Msg},
		log.KV{K: "run", V: event.RunID},
	}
	if event.Step != "" {
		fielders = append(fielders, log.KV{K: "step", V: event.Step})
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		if k == "error" || k == "recoverable" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fielders = append(fielders, log.KV{K: k, V: event.Meta[k]})
	}

	errText := event.ErrorText()
	switch {
	case errText != "" && event.Recoverable():
		fielders = append(fielders, log.KV{K: "err", V: errText})
		log.Warn(c.ctx, fielders...)
	case errText != "":
		log.Error(c.ctx, errors.New(errText), fielders...)
	case event.Msg == MsgStageWrite || event.Msg == MsgRunReused:
		log.Debug(c.ctx, fielders...)
	default:
		log.Info(c.ctx, fielders...)
	}
}
