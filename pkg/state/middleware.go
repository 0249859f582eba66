package state

// Next continues dispatch down the middleware chain.
type Next[E any] func(event E) E

// Handler intercepts a dispatched event. It decides whether and when to call
// next; a handler that never calls next absorbs the event.
type Handler[E any] func(event E, next Next[E]) E

// Middleware builds a Handler for the enhanced store it is installed on.
// The store passed in is the final, enhanced one, so middleware may read state,
// subscribe or replace state through it.
type Middleware[S, E any] func(store Dispatcher[S, E]) Handler[E]

// Enhanced is a store whose Dispatch runs through a middleware chain.
type Enhanced[S, E any] struct {
	base     Dispatcher[S, E]
	dispatch Next[E]
}

// Apply wraps base with middlewares. The first middleware is outermost and
// sees each event first. The chain is composed once, here.
func Apply[S, E any](base Dispatcher[S, E], middlewares ...Middleware[S, E]) *Enhanced[S, E] {
	e := &Enhanced[S, E]{base: base}
	e.dispatch = func(E) E {
		panic("state: Dispatch called while middleware is being constructed")
	}

	handlers := make([]Handler[E], len(middlewares))
	for i, mw := range middlewares {
		handlers[i] = mw(e)
	}

	chain := Next[E](base.Dispatch)
	for i := len(handlers) - 1; i >= 0; i-- {
		h, next := handlers[i], chain
		chain = func(event E) E { return h(event, next) }
	}
	e.dispatch = chain
	return e
}

// GetState returns the base store's current state.
func (e *Enhanced[S, E]) GetState() S { return e.base.GetState() }

// ReplaceState replaces the base store's state.
func (e *Enhanced[S, E]) ReplaceState(next S) { e.base.ReplaceState(next) }

// Subscribe registers fn on the base store.
func (e *Enhanced[S, E]) Subscribe(fn func(S)) func() { return e.base.Subscribe(fn) }

// Dispatch sends event through the middleware chain.
func (e *Enhanced[S, E]) Dispatch(event E) E { return e.dispatch(event) }
