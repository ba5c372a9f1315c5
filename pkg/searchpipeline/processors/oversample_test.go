package processors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gannet-search/gannet/pkg/search"
	"github.com/gannet-search/gannet/pkg/searchpipeline"
)

func TestOversample(t *testing.T) {
	ctx := context.Background()

	newProcessor := func(t *testing.T, factor float64) searchpipeline.RequestProcessor {
		t.Helper()
		p, err := newOversample("", "", false, map[string]any{"sample_factor": factor})
		require.NoError(t, err)
		return p
	}

	t.Run("multiplies_the_requested_size", func(t *testing.T) {
		src := search.NewSource()
		src.Size = 10
		pctx := searchpipeline.NewProcessingContext(false)

		transformed, err := newProcessor(t, 1.5).ProcessRequest(ctx, &search.Request{Source: src}, pctx)
		require.NoError(t, err)
		require.Equal(t, 15, transformed.Source.Size)

		original, ok := pctx.Attribute(OriginalSizeAttribute)
		require.True(t, ok)
		require.Equal(t, 10, original)
	})

	t.Run("rounds_up", func(t *testing.T) {
		src := search.NewSource()
		src.Size = 3

		transformed, err := newProcessor(t, 1.5).ProcessRequest(ctx, &search.Request{Source: src}, searchpipeline.NewProcessingContext(false))
		require.NoError(t, err)
		require.Equal(t, 5, transformed.Source.Size)
	})

	t.Run("unset_size_starts_from_the_default", func(t *testing.T) {
		pctx := searchpipeline.NewProcessingContext(false)

		transformed, err := newProcessor(t, 2).ProcessRequest(ctx, &search.Request{Source: search.NewSource()}, pctx)
		require.NoError(t, err)
		require.Equal(t, 2*search.DefaultSize, transformed.Source.Size)

		original, _ := pctx.Attribute(OriginalSizeAttribute)
		require.Equal(t, search.DefaultSize, original)
	})

	t.Run("nil_source_is_initialized", func(t *testing.T) {
		transformed, err := newProcessor(t, 2).ProcessRequest(ctx, &search.Request{}, searchpipeline.NewProcessingContext(false))
		require.NoError(t, err)
		require.Equal(t, 2*search.DefaultSize, transformed.Source.Size)
	})

	t.Run("does_not_mutate_the_original_request", func(t *testing.T) {
		src := search.NewSource()
		src.Size = 10
		req := &search.Request{Source: src}

		_, err := newProcessor(t, 3).ProcessRequest(ctx, req, searchpipeline.NewProcessingContext(false))
		require.NoError(t, err)
		require.Equal(t, 10, req.Source.Size)
	})

	t.Run("factor_below_one_is_rejected", func(t *testing.T) {
		for _, config := range []map[string]any{
			{"sample_factor": 0.5},
			{},
		} {
			_, err := newOversample("", "", false, config)
			require.Error(t, err)

			var confErr *searchpipeline.ConfigurationError
			require.ErrorAs(t, err, &confErr)
			require.Equal(t, "sample_factor", confErr.Property)
			require.Equal(t, "value must be at least 1.0", confErr.Reason)
		}
	})
}
