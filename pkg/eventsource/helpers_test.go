package eventsource

import (
	"github.com/wilhg/evstate/pkg/store"
	"github.com/wilhg/evstate/pkg/store/memstore"
)

type counter struct {
	Count int    `json:"count"`
	Label string `json:"label"`
}

type inc struct {
	N int `json:"n"`
}

func (inc) EventType() string { return "inc" }

func reduce(s counter, e inc) counter {
	s.Count += e.N
	return s
}

func newCodec() store.JSONCodec[counter, inc] {
	return store.JSONCodec[counter, inc]{Defaults: func() counter { return counter{Label: "default"} }}
}

func newMemTyped() (*store.Typed[counter, inc], *memstore.Store) {
	ms := memstore.New()
	return store.NewTyped[counter, inc](ms, newCodec()), ms
}

func ids[E any](events []store.IdentifiedEvent[E]) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}
