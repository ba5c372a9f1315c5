package processors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gannet-search/gannet/pkg/search"
	"github.com/gannet-search/gannet/pkg/searchpipeline"
)

func TestFilterQuery(t *testing.T) {
	ctx := context.Background()
	tenantFilter := map[string]any{"term": map[string]any{"tenant": "acme"}}

	newProcessor := func(t *testing.T) searchpipeline.RequestProcessor {
		t.Helper()
		p, err := newFilterQuery("", "", false, map[string]any{"query": tenantFilter})
		require.NoError(t, err)
		return p
	}

	t.Run("wraps_an_existing_query", func(t *testing.T) {
		src := search.NewSource()
		src.Query = map[string]any{"match": map[string]any{"title": "go"}}
		req := &search.Request{Source: src}

		transformed, err := newProcessor(t).ProcessRequest(ctx, req, searchpipeline.NewProcessingContext(false))
		require.NoError(t, err)

		require.Equal(t, map[string]any{
			"bool": map[string]any{
				"must":   []any{map[string]any{"match": map[string]any{"title": "go"}}},
				"filter": []any{tenantFilter},
			},
		}, transformed.Source.Query)
	})

	t.Run("request_without_a_query_gets_filter_only", func(t *testing.T) {
		req := &search.Request{Source: search.NewSource()}

		transformed, err := newProcessor(t).ProcessRequest(ctx, req, searchpipeline.NewProcessingContext(false))
		require.NoError(t, err)

		require.Equal(t, map[string]any{
			"bool": map[string]any{"filter": []any{tenantFilter}},
		}, transformed.Source.Query)
	})

	t.Run("nil_source_is_initialized", func(t *testing.T) {
		req := &search.Request{}

		transformed, err := newProcessor(t).ProcessRequest(ctx, req, searchpipeline.NewProcessingContext(false))
		require.NoError(t, err)

		require.NotNil(t, transformed.Source)
		require.Contains(t, transformed.Source.Query, "bool")
	})

	t.Run("does_not_mutate_the_original_request", func(t *testing.T) {
		original := map[string]any{"match": map[string]any{"title": "go"}}
		src := search.NewSource()
		src.Query = original
		req := &search.Request{Source: src}

		_, err := newProcessor(t).ProcessRequest(ctx, req, searchpipeline.NewProcessingContext(false))
		require.NoError(t, err)

		require.Equal(t, original, req.Source.Query)
	})

	t.Run("missing_query_property", func(t *testing.T) {
		_, err := newFilterQuery("strict", "", false, map[string]any{})
		require.Error(t, err)

		var confErr *searchpipeline.ConfigurationError
		require.ErrorAs(t, err, &confErr)
		require.Equal(t, FilterQueryType, confErr.ProcessorType)
		require.Equal(t, "query", confErr.Property)
	})
}
