package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/evstate/pkg/errmodel"
)

type prefs struct {
	Theme string `json:"theme"`
	Size  int    `json:"size"`
}

type doc struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
	Prefs prefs    `json:"prefs"`
}

func docDefaults() doc {
	return doc{Title: "untitled", Tags: []string{"new"}, Prefs: prefs{Theme: "light", Size: 12}}
}

func TestJSONCodec_MissingFieldsKeepDefaults(t *testing.T) {
	c := JSONCodec[doc, string]{Defaults: docDefaults}
	got, err := c.DecodeState(0, json.RawMessage(`{"title":"x","prefs":{"size":14}}`))
	require.NoError(t, err)
	assert.Equal(t, doc{Title: "x", Tags: []string{"new"}, Prefs: prefs{Theme: "light", Size: 14}}, got)
}

func TestJSONCodec_ArraysReplace(t *testing.T) {
	c := JSONCodec[doc, string]{Defaults: docDefaults}
	got, err := c.DecodeState(0, json.RawMessage(`{"tags":["a","b"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Tags)
}

func TestJSONCodec_MigrationsRunInOrder(t *testing.T) {
	c := JSONCodec[doc, string]{
		Defaults:      docDefaults,
		CurrentSchema: 2,
		Migrations: map[int]Migration{
			0: func(data json.RawMessage) (json.RawMessage, error) {
				var m map[string]any
				if err := json.Unmarshal(data, &m); err != nil {
					return nil, err
				}
				m["title"] = m["name"]
				delete(m, "name")
				return json.Marshal(m)
			},
			1: func(data json.RawMessage) (json.RawMessage, error) {
				var m map[string]any
				if err := json.Unmarshal(data, &m); err != nil {
					return nil, err
				}
				m["title"] = m["title"].(string) + "!"
				return json.Marshal(m)
			},
		},
	}
	got, err := c.DecodeState(0, json.RawMessage(`{"name":"old"}`))
	require.NoError(t, err)
	assert.Equal(t, "old!", got.Title)

	got, err = c.DecodeState(1, json.RawMessage(`{"title":"mid"}`))
	require.NoError(t, err)
	assert.Equal(t, "mid!", got.Title)
}

func TestJSONCodec_RejectsNewerSchema(t *testing.T) {
	c := JSONCodec[doc, string]{Defaults: docDefaults, CurrentSchema: 1}
	_, err := c.DecodeState(2, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, errmodel.IsCategory(err, errmodel.CategoryCodec))
}

func TestJSONCodec_InvalidJSON(t *testing.T) {
	c := JSONCodec[doc, string]{}
	_, err := c.DecodeState(0, json.RawMessage(`{`))
	require.Error(t, err)
	_, err = c.DecodeEvent(json.RawMessage(`nope`))
	require.Error(t, err)
}

func TestJSONCodec_EncodeUnsupported(t *testing.T) {
	c := JSONCodec[doc, func()]{}
	_, err := c.EncodeEvent(func() {})
	require.Error(t, err)
}
