package processors

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gannet-search/gannet/pkg/search"
	"github.com/gannet-search/gannet/pkg/searchpipeline"
)

func TestPlugin(t *testing.T) {
	factories, err := searchpipeline.NewProcessorFactories(Plugin{})
	require.NoError(t, err)

	info := factories.Info()
	require.Equal(t, []string{FilterQueryType, OversampleType, ScriptType}, info.RequestProcessors)
	require.Equal(t, []string{CollapseType, FilterHitsType, RenameFieldType, TruncateHitsType}, info.ResponseProcessors)
	require.Equal(t, []string{NormalizeScoresType}, info.PhaseResultsProcessors)
}

func hitsResponse(hits ...search.Hit) *search.Response {
	resp := &search.Response{
		Hits: search.Hits{
			Total: &search.TotalHits{Value: int64(len(hits)), Relation: search.TotalHitsEqual},
			Hits:  hits,
		},
	}
	for _, hit := range hits {
		if hit.Score > resp.Hits.MaxScore {
			resp.Hits.MaxScore = hit.Score
		}
	}
	return resp
}

func hitIDs(resp *search.Response) []string {
	ids := make([]string, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		ids = append(ids, hit.ID)
	}
	return ids
}
