package search

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/kbagent/internal/testutil/kbasefake"
	"github.com/3leaps/kbagent/pkg/platform"
)

func TestNarrativeRequest_Shape(t *testing.T) {
	b, err := json.Marshal(NarrativeRequest("someuser"))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"types": ["KBaseNarrative.Narrative"],
		"query": {"filters": {"operator": "AND", "fields": [{"field": "owner", "term": "someuser"}]}},
		"sorts": [["timestamp", "desc"], ["_score", "desc"]],
		"paging": {"length": 20, "offset": 0}
	}`, string(b))
}

func TestSearchNarratives(t *testing.T) {
	fake := kbasefake.New(t)
	fake.Handle("search_workspace", func(params []json.RawMessage) (any, error) {
		return map[string]any{
			"count": 2,
			"hits": []any{
				map[string]any{"id": "WS::1:1", "index": "narrative_2", "doc": map[string]any{
					"access_group": 1, "obj_id": 1, "version": 3, "narrative_title": "First", "owner": "someuser", "timestamp": 200,
				}},
				map[string]any{"id": "WS::2:1", "index": "narrative_2", "doc": map[string]any{
					"access_group": 2, "obj_id": 1, "version": 1, "narrative_title": "Second", "owner": "someuser", "timestamp": 100,
				}},
			},
		}, nil
	})

	c, err := New(fake.Settings(), platform.ClientOptions{Token: "tok"})
	require.NoError(t, err)

	res, err := c.SearchNarratives(context.Background(), "someuser")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "First", res.Hits[0].Doc.NarrativeTitle)
	assert.Equal(t, "1/1/3", res.Hits[0].Ref())

	calls := fake.Calls("search_workspace")
	require.Len(t, calls, 1)
	assert.Equal(t, "tok", calls[0].Auth)
	var sent map[string]any
	require.NoError(t, json.Unmarshal(calls[0].Params[0], &sent))
	assert.Equal(t, []any{NarrativeType}, sent["types"])
}

func TestSearchNarratives_NoHits(t *testing.T) {
	fake := kbasefake.New(t)
	fake.Handle("search_workspace", func(params []json.RawMessage) (any, error) {
		return map[string]any{"count": 0}, nil
	})
	c, err := New(fake.Settings(), platform.ClientOptions{})
	require.NoError(t, err)

	res, err := c.SearchNarratives(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	assert.NotNil(t, res.Hits)
	assert.Empty(t, res.Hits)
}

func TestSearchNarratives_OwnerRequired(t *testing.T) {
	c, err := New(platform.Default(), platform.ClientOptions{})
	require.NoError(t, err)

	_, err = c.SearchNarratives(context.Background(), "")
	require.Error(t, err)
}
