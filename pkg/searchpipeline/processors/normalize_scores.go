package processors

import (
	"context"

	"gonum.org/v1/gonum/floats"

	"github.com/gannet-search/gannet/pkg/search"
	"github.com/gannet-search/gannet/pkg/searchpipeline"
)

// normalizeScores rescales the query phase scores of every shard into
// [0, 1] with min-max normalization so that heterogeneous shards rank
// comparably in the fetch phase. When every doc carries the same score
// they all normalize to 1.
type normalizeScores struct {
	searchpipeline.Base
}

func newNormalizeScores(tag, description string, ignoreFailure bool, _ map[string]any) (searchpipeline.PhaseResultsProcessor, error) {
	return &normalizeScores{
		Base: searchpipeline.NewBase(tag, description, ignoreFailure),
	}, nil
}

func (p *normalizeScores) Type() string { return NormalizeScoresType }

func (p *normalizeScores) BeforePhase() search.Phase { return search.PhaseQuery }

func (p *normalizeScores) AfterPhase() search.Phase { return search.PhaseFetch }

func (p *normalizeScores) ProcessPhaseResults(_ context.Context, _ *search.Request, results *search.PhaseResults, _ *searchpipeline.ProcessingContext) error {
	var scores []float64
	for _, shard := range results.Results {
		for _, doc := range shard.Docs {
			scores = append(scores, doc.Score)
		}
	}
	if len(scores) == 0 {
		return nil
	}

	low, high := floats.Min(scores), floats.Max(scores)
	span := high - low

	for _, shard := range results.Results {
		for i := range shard.Docs {
			if span == 0 {
				shard.Docs[i].Score = 1
				continue
			}
			shard.Docs[i].Score = (shard.Docs[i].Score - low) / span
		}
	}
	return nil
}
