package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/wilhg/evstate/examples/todo"
	"github.com/wilhg/evstate/pkg/errmodel"
	"github.com/wilhg/evstate/pkg/eventsource"
	otto "github.com/wilhg/evstate/pkg/otel"
)

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the todo state over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.HTTPAddr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "http listen address")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otto.Init(ctx, otto.Config{ServiceName: a.cfg.ServiceName, ServiceVersion: version, UseStdout: a.cfg.TraceStdout})
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sess, rs, err := a.openSession(ctx, reg)
	if err != nil {
		return err
	}
	defer func() { _ = rs.Close() }()
	a.logger.Info("session restored",
		zap.Int64("version", sess.Restored.Version), zap.String("database", redactURL(a.cfg.DatabaseURL)))

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(buildMux(&server{sess: sess, logger: a.logger}, reg), "evstate"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.FlushTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	if err := sess.Close(shutdownCtx); err != nil {
		a.logger.Error("final flush failed", zap.Error(err), zap.Int("pending", len(sess.Recorder.PendingEvents())))
		return err
	}
	a.logger.Info("stopped", zap.Int64("version", sess.Recorder.Version()))
	return nil
}

// server serializes dispatch so event versions follow reducer order.
type server struct {
	mu     sync.Mutex
	sess   *eventsource.Session[*todo.State, todo.Event]
	logger *zap.Logger
}

type stateResponse struct {
	Version int64       `json:"version"`
	State   *todo.State `json:"state"`
}

func (s *server) snapshot() stateResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stateResponse{Version: s.sess.Recorder.Version(), State: s.sess.Store.GetState()}
}

func buildMux(s *server, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.snapshot())
	})
	mux.HandleFunc("POST /api/events", func(w http.ResponseWriter, r *http.Request) {
		var ev todo.Event
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&ev); err != nil {
			errmodel.WriteHTTP(w, r, errmodel.Validation("invalid_json", "request body is not a valid event", nil))
			return
		}
		switch ev.Type {
		case todo.AddTask, todo.CompleteTask, todo.RemoveTask:
		default:
			errmodel.WriteHTTP(w, r, errmodel.Validation("unknown_event", "unsupported event type", map[string]any{"type": ev.Type}))
			return
		}
		if ev.ID == "" && ev.Title == "" {
			errmodel.WriteHTTP(w, r, errmodel.Validation("missing_id", "id or title is required", nil))
			return
		}
		s.mu.Lock()
		s.sess.Store.Dispatch(ev)
		resp := stateResponse{Version: s.sess.Recorder.Version(), State: s.sess.Store.GetState()}
		s.mu.Unlock()
		s.logger.Debug("event dispatched", zap.String("type", ev.Type), zap.Int64("version", resp.Version))
		writeJSON(w, http.StatusAccepted, resp)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
