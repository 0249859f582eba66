// Package eval checks that persisted history replays to the state a live
// session ended with.
package eval

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/wilhg/evstate/pkg/eventsource"
	"github.com/wilhg/evstate/pkg/state"
	"github.com/wilhg/evstate/pkg/store"
)

// Capture is a recorded sequence of events.
type Capture[E any] struct {
	Name   string `json:"name,omitempty"`
	Events []E    `json:"events"`
}

// Result compares the three ways of reaching the final state.
type Result[S any] struct {
	Live     S
	Restored S
	Direct   S
	// Version is the restored version; Want is start version + len(events).
	Version int64
	Want    int64
	// Diff is empty when all states and versions agree.
	Diff string
}

// OK reports whether the replay matched.
func (r Result[S]) OK() bool { return r.Diff == "" }

// ReplayRun dispatches capture through a fresh session on es, flushing at
// every snapshot boundary and on close, then restores from es. The live state,
// the restored state and a direct fold of the events must all be equal.
func ReplayRun[S, E any](ctx context.Context, es store.EventStore[S, E], reducer state.Reducer[S, E], initial S, capture Capture[E], interval int64, opts ...cmp.Option) (Result[S], error) {
	var res Result[S]
	sess, err := eventsource.Bootstrap(ctx, es, reducer, initial, eventsource.BootstrapOptions[S, E]{
		Recorder: []eventsource.Option{
			eventsource.WithSnapshotInterval(interval),
			eventsource.WithScheduler(eventsource.SchedulerFunc(func(func()) {})),
		},
	})
	if err != nil {
		return res, fmt.Errorf("bootstrap: %w", err)
	}

	res.Direct = sess.Restored.State
	for _, ev := range capture.Events {
		sess.Store.Dispatch(ev)
		res.Direct = reducer(res.Direct, ev)
		if interval > 0 && sess.Recorder.Version()%interval == 0 {
			if err := sess.Recorder.Flush(ctx); err != nil {
				return res, fmt.Errorf("flush at %d: %w", sess.Recorder.Version(), err)
			}
		}
	}
	res.Live = sess.Store.GetState()
	res.Want = sess.Restored.Version + int64(len(capture.Events))
	if err := sess.Close(ctx); err != nil {
		return res, fmt.Errorf("final flush: %w", err)
	}

	restored, err := eventsource.Restore(ctx, es, reducer, initial)
	if err != nil {
		return res, fmt.Errorf("restore: %w", err)
	}
	res.Restored = restored.State
	res.Version = restored.Version

	var diffs []string
	if d := cmp.Diff(res.Direct, res.Live, opts...); d != "" {
		diffs = append(diffs, "live vs direct fold (-want +got):\n"+d)
	}
	if d := cmp.Diff(res.Direct, res.Restored, opts...); d != "" {
		diffs = append(diffs, "restored vs direct fold (-want +got):\n"+d)
	}
	if res.Version != res.Want {
		diffs = append(diffs, fmt.Sprintf("restored version %d, want %d", res.Version, res.Want))
	}
	res.Diff = strings.Join(diffs, "\n")
	return res, nil
}
