package eval

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/wilhg/evstate/examples/todo"
	"github.com/wilhg/evstate/pkg/store"
	"github.com/wilhg/evstate/pkg/store/memstore"
	"github.com/wilhg/evstate/pkg/store/sqlstore"
)

func todoCapture() Capture[todo.Event] {
	return Capture[todo.Event]{
		Name: "demo",
		Events: []todo.Event{
			{Type: todo.AddTask, Title: "demo"},
			{Type: todo.AddTask, ID: "b", Title: "second"},
			{Type: todo.CompleteTask, ID: "demo"},
			{Type: todo.AddTask, ID: "c", Title: "third"},
			{Type: todo.RemoveTask, ID: "b"},
			{Type: todo.CompleteTask, ID: "c"},
			{Type: todo.AddTask, ID: "d", Title: "fourth"},
		},
	}
}

func memTodo() store.EventStore[*todo.State, todo.Event] {
	return store.NewTyped[*todo.State, todo.Event](memstore.New(), todo.Codec())
}

func TestReplayRun_Todo(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "replay.db")
	st, err := sqlstore.Open(ctx, "sqlite:file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	var es store.EventStore[*todo.State, todo.Event] = store.NewTyped[*todo.State, todo.Event](st, todo.Codec())

	res, err := ReplayRun(ctx, es, todo.Reduce, todo.Initial(), todoCapture(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() {
		t.Fatalf("replay mismatch:\n%s", res.Diff)
	}
	if res.Restored.Done != 2 || len(res.Restored.Tasks) != 3 {
		t.Fatalf("restored=%+v", res.Restored)
	}
	if res.Version != 7 {
		t.Fatalf("version=%d want 7", res.Version)
	}

	// A second run continues the same history.
	res, err = ReplayRun(ctx, es, todo.Reduce, todo.Initial(), Capture[todo.Event]{Events: []todo.Event{{Type: todo.CompleteTask, ID: "d"}}}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() || res.Version != 8 || res.Restored.Done != 3 {
		t.Fatalf("continued run: ok=%v version=%d done=%d diff=%s", res.OK(), res.Version, res.Restored.Done, res.Diff)
	}
}

func TestReplayRun_DetectsImpureReducer(t *testing.T) {
	calls := 0
	impure := func(s *todo.State, e todo.Event) *todo.State {
		calls++
		next := todo.Reduce(s, e)
		if calls%2 == 0 {
			return &todo.State{Tasks: next.Tasks, Done: next.Done + 100}
		}
		return next
	}
	res, err := ReplayRun(context.Background(), memTodo(), impure, todo.Initial(), todoCapture(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK() {
		t.Fatal("expected a diff for a reducer with hidden state")
	}
	if !strings.Contains(res.Diff, "Done") {
		t.Fatalf("diff does not name the field: %s", res.Diff)
	}
}

func TestEvaluateCaptures(t *testing.T) {
	fsys := fstest.MapFS{
		"caps/a.json":     {Data: []byte(`{"name":"a","events":[{"type":"add_task","title":"x"},{"type":"complete_task","id":"x"}]}`)},
		"caps/b.json":     {Data: []byte(`{"events":[{"type":"add_task","id":"1"},{"type":"remove_task","id":"1"}]}`)},
		"caps/notes.txt":  {Data: []byte(`ignored`)},
		"caps/sub/c.json": {Data: []byte(`{}`)},
	}
	score, total, passed, details, err := EvaluateCaptures(context.Background(), fsys, "caps", memTodo, todo.Reduce, todo.Initial(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || passed != 2 || score != 1 {
		t.Fatalf("score=%v total=%d passed=%d details=%v", score, total, passed, details)
	}

	caps, err := LoadCaptures[todo.Event](fsys, "caps")
	if err != nil {
		t.Fatal(err)
	}
	if caps[1].Name != "b" {
		t.Fatalf("unnamed capture should take its file name, got %q", caps[1].Name)
	}
}

func TestEvaluateCaptures_BadJSON(t *testing.T) {
	fsys := fstest.MapFS{"caps/x.json": {Data: []byte(`{`)}}
	if _, _, _, _, err := EvaluateCaptures(context.Background(), fsys, "caps", memTodo, todo.Reduce, todo.Initial(), 2); err == nil {
		t.Fatal("expected parse error")
	}
}
