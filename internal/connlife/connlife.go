// Package connlife manages a lazily opened, cached connection handle that is
// discarded and reopened after failures.
//
// A Manager moves through Disconnected -> Connecting -> Connected. Any failure
// reported through Discard returns it to Disconnected, and the next Acquire
// opens a fresh handle. Close moves it to Closed for good.
package connlife

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// State of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("connlife: manager is closed")

// OpenFunc opens a new handle.
type OpenFunc[T any] func(ctx context.Context) (T, error)

// CloseFunc releases a handle that is no longer cached.
type CloseFunc[T any] func(conn T) error

// Lease is a handle obtained from Acquire. Gen identifies the connection
// generation the handle belongs to.
type Lease[T any] struct {
	Conn T
	Gen  uint64
}

// Manager caches a single handle of type T.
type Manager[T any] struct {
	name   string
	open   OpenFunc[T]
	close  CloseFunc[T]
	logger *zap.Logger

	mu    sync.Mutex
	state State
	conn  T
	gen   uint64
	ready chan struct{}
}

// New returns a Manager in the Disconnected state. Nothing is opened until
// the first Acquire.
func New[T any](name string, open OpenFunc[T], close CloseFunc[T], logger *zap.Logger) *Manager[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager[T]{name: name, open: open, close: close, logger: logger}
}

// State returns the current state.
func (m *Manager[T]) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Acquire returns the cached handle, opening one if needed. Concurrent callers
// wait for a single in-progress open instead of starting their own.
func (m *Manager[T]) Acquire(ctx context.Context) (Lease[T], error) {
	for {
		m.mu.Lock()
		switch m.state {
		case Closed:
			m.mu.Unlock()
			return Lease[T]{}, ErrClosed
		case Connected:
			l := Lease[T]{Conn: m.conn, Gen: m.gen}
			m.mu.Unlock()
			return l, nil
		case Connecting:
			wait := m.ready
			m.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return Lease[T]{}, ctx.Err()
			}
		}

		m.state = Connecting
		m.ready = make(chan struct{})
		m.mu.Unlock()

		conn, err := m.open(ctx)

		m.mu.Lock()
		if m.state == Closed {
			// Closed while opening; do not leak the new handle.
			m.mu.Unlock()
			close(m.ready)
			if err == nil {
				_ = m.close(conn)
			}
			return Lease[T]{}, ErrClosed
		}
		if err != nil {
			m.state = Disconnected
		} else {
			m.state = Connected
			m.conn = conn
			m.gen++
		}
		l := Lease[T]{Conn: m.conn, Gen: m.gen}
		close(m.ready)
		m.mu.Unlock()
		if err != nil {
			m.logger.Warn("open connection failed", zap.String("store", m.name), zap.Error(err))
			return Lease[T]{}, err
		}
		m.logger.Debug("connection opened", zap.String("store", m.name), zap.Uint64("generation", l.Gen))
		return l, nil
	}
}

// Discard drops the handle behind l after a failure so the next Acquire
// reopens. A lease from an older generation is ignored.
func (m *Manager[T]) Discard(l Lease[T], cause error) {
	m.mu.Lock()
	if m.state != Connected || m.gen != l.Gen {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	var zero T
	m.conn = zero
	m.state = Disconnected
	m.mu.Unlock()

	m.logger.Warn("discarding connection", zap.String("store", m.name), zap.Uint64("generation", l.Gen), zap.Error(cause))
	if err := m.close(conn); err != nil {
		m.logger.Debug("close discarded connection", zap.String("store", m.name), zap.Error(err))
	}
}

// Close releases the cached handle. Subsequent Acquire calls fail with ErrClosed.
func (m *Manager[T]) Close() error {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return nil
	}
	wasConnected := m.state == Connected
	conn := m.conn
	var zero T
	m.conn = zero
	m.state = Closed
	m.mu.Unlock()
	if wasConnected {
		return m.close(conn)
	}
	return nil
}
