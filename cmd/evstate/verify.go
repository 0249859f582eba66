package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wilhg/evstate/examples/todo"
	"github.com/wilhg/evstate/pkg/eval"
	"github.com/wilhg/evstate/pkg/store"
	"github.com/wilhg/evstate/pkg/store/memstore"
)

func newMemTodoStore() store.EventStore[*todo.State, todo.Event] {
	return store.NewTyped[*todo.State, todo.Event](memstore.New(), todo.Codec())
}

func newVerifyCommand(a *app) *cobra.Command {
	var capturePath, dir string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay captured events and check that restored state matches",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			interval := a.cfg.SnapshotInterval
			switch {
			case capturePath != "":
				b, err := os.ReadFile(capturePath)
				if err != nil {
					return err
				}
				var c eval.Capture[todo.Event]
				if err := json.Unmarshal(b, &c); err != nil {
					return fmt.Errorf("parse capture: %w", err)
				}
				res, err := eval.ReplayRun(ctx, newMemTodoStore(), todo.Reduce, todo.Initial(), c, interval)
				if err != nil {
					return err
				}
				if !res.OK() {
					fmt.Fprintln(out, res.Diff)
					return errors.New("replay mismatch")
				}
				fmt.Fprintf(out, "ok: %d events, version %d\n", len(c.Events), res.Version)
				return nil
			case dir != "":
				score, total, passed, details, err := eval.EvaluateCaptures(ctx, os.DirFS(dir), ".", newMemTodoStore, todo.Reduce, todo.Initial(), interval)
				if err != nil {
					return err
				}
				for _, d := range details {
					fmt.Fprintln(out, d)
				}
				fmt.Fprintf(out, "passed %d/%d (score %.2f)\n", passed, total, score)
				if passed != total {
					return errors.New("replay mismatch")
				}
				return nil
			default:
				return errors.New("one of --capture or --dir is required")
			}
		},
	}
	cmd.Flags().StringVar(&capturePath, "capture", "", "capture file (JSON)")
	cmd.Flags().StringVar(&dir, "dir", "", "directory of capture files")
	return cmd
}
