package processors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gannet-search/gannet/pkg/search"
	"github.com/gannet-search/gannet/pkg/searchpipeline"
)

func TestTruncateHits(t *testing.T) {
	ctx := context.Background()

	threeHits := func() *search.Response {
		return hitsResponse(
			search.Hit{ID: "1", Score: 3},
			search.Hit{ID: "2", Score: 2},
			search.Hit{ID: "3", Score: 1},
		)
	}

	t.Run("truncates_to_the_configured_target", func(t *testing.T) {
		p, err := newTruncateHits("", "", false, map[string]any{"target_size": 2})
		require.NoError(t, err)

		resp, err := p.ProcessResponse(ctx, nil, threeHits(), searchpipeline.NewProcessingContext(false))
		require.NoError(t, err)
		require.Equal(t, []string{"1", "2"}, hitIDs(resp))
	})

	t.Run("target_larger_than_hits_is_a_noop", func(t *testing.T) {
		p, err := newTruncateHits("", "", false, map[string]any{"target_size": 10})
		require.NoError(t, err)

		resp, err := p.ProcessResponse(ctx, nil, threeHits(), searchpipeline.NewProcessingContext(false))
		require.NoError(t, err)
		require.Len(t, resp.Hits.Hits, 3)
	})

	t.Run("zero_target_discards_everything", func(t *testing.T) {
		p, err := newTruncateHits("", "", false, map[string]any{"target_size": 0})
		require.NoError(t, err)

		resp, err := p.ProcessResponse(ctx, nil, threeHits(), searchpipeline.NewProcessingContext(false))
		require.NoError(t, err)
		require.Empty(t, resp.Hits.Hits)
	})

	t.Run("falls_back_to_the_context_attribute", func(t *testing.T) {
		p, err := newTruncateHits("", "", false, map[string]any{})
		require.NoError(t, err)

		pctx := searchpipeline.NewProcessingContext(false)
		pctx.SetAttribute(OriginalSizeAttribute, 1)

		resp, err := p.ProcessResponse(ctx, nil, threeHits(), pctx)
		require.NoError(t, err)
		require.Equal(t, []string{"1"}, hitIDs(resp))
	})

	t.Run("missing_target_and_attribute_errors", func(t *testing.T) {
		p, err := newTruncateHits("", "", false, map[string]any{})
		require.NoError(t, err)

		_, err = p.ProcessResponse(ctx, nil, threeHits(), searchpipeline.NewProcessingContext(false))
		require.Error(t, err)
		require.ErrorContains(t, err, "no [original_size] attribute")
	})

	t.Run("restores_the_size_oversample_recorded", func(t *testing.T) {
		pctx := searchpipeline.NewProcessingContext(false)

		over, err := newOversample("", "", false, map[string]any{"sample_factor": 3.0})
		require.NoError(t, err)
		src := search.NewSource()
		src.Size = 1
		transformed, err := over.ProcessRequest(ctx, &search.Request{Source: src}, pctx)
		require.NoError(t, err)
		require.Equal(t, 3, transformed.Source.Size)

		trunc, err := newTruncateHits("", "", false, map[string]any{})
		require.NoError(t, err)
		resp, err := trunc.ProcessResponse(ctx, transformed, threeHits(), pctx)
		require.NoError(t, err)
		require.Equal(t, []string{"1"}, hitIDs(resp))
	})
}
