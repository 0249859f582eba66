package eval

import (
	"context"
	"encoding/json"
	"io/fs"
	"path"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/wilhg/evstate/pkg/state"
	"github.com/wilhg/evstate/pkg/store"
)

// EvaluateCaptures replays every *.json capture in dir against a fresh store
// from newStore and returns the share that matched.
func EvaluateCaptures[S, E any](ctx context.Context, fsys fs.FS, dir string, newStore func() store.EventStore[S, E], reducer state.Reducer[S, E], initial S, interval int64, opts ...cmp.Option) (score float64, total int, passed int, details []string, err error) {
	captures, err := LoadCaptures[E](fsys, dir)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	total = len(captures)
	if total == 0 {
		return 1, 0, 0, nil, nil
	}
	for _, c := range captures {
		res, rerr := ReplayRun(ctx, newStore(), reducer, initial, c, interval, opts...)
		if rerr != nil {
			details = append(details, c.Name+": "+rerr.Error())
			continue
		}
		if !res.OK() {
			details = append(details, c.Name+": "+res.Diff)
			continue
		}
		passed++
	}
	score = float64(passed) / float64(total)
	return score, total, passed, details, nil
}

// LoadCaptures reads the *.json files directly under dir. A capture without a
// name is named after its file.
func LoadCaptures[E any](fsys fs.FS, dir string) ([]Capture[E], error) {
	var out []Capture[E]
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var c Capture[E]
		if err := json.Unmarshal(b, &c); err != nil {
			return nil, err
		}
		if c.Name == "" {
			c.Name = strings.TrimSuffix(e.Name(), ".json")
		}
		out = append(out, c)
	}
	return out, nil
}
