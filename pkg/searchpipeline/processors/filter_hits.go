package processors

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"

	"github.com/gannet-search/gannet/pkg/search"
	"github.com/gannet-search/gannet/pkg/searchpipeline"
)

// filterHits keeps the hits matching a CEL predicate. The predicate
// sees the hit's id, index, score, and source; a hit without a source
// sees an empty map. The max score is recomputed over the kept hits.
type filterHits struct {
	searchpipeline.Base
	program cel.Program
}

func newFilterHits(tag, description string, ignoreFailure bool, config map[string]any) (searchpipeline.ResponseProcessor, error) {
	predicate, err := searchpipeline.ReadString(FilterHitsType, tag, config, "predicate")
	if err != nil {
		return nil, err
	}

	prg, ast, err := compileExpression(FilterHitsType, tag, "predicate", predicate,
		cel.Variable("id", cel.StringType),
		cel.Variable("index", cel.StringType),
		cel.Variable("score", cel.DoubleType),
		cel.Variable("source", cel.DynType),
	)
	if err != nil {
		return nil, err
	}
	if err := requireBoolOutput(FilterHitsType, tag, "predicate", ast); err != nil {
		return nil, err
	}

	return &filterHits{
		Base:    searchpipeline.NewBase(tag, description, ignoreFailure),
		program: prg,
	}, nil
}

func (p *filterHits) Type() string { return FilterHitsType }

func (p *filterHits) ProcessResponse(_ context.Context, _ *search.Request, resp *search.Response, _ *searchpipeline.ProcessingContext) (*search.Response, error) {
	kept := make([]search.Hit, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		keep, err := p.matches(hit)
		if err != nil {
			return nil, err
		}
		if keep {
			kept = append(kept, hit)
		}
	}

	resp.Hits.Hits = kept
	resp.Hits.MaxScore = 0
	for _, hit := range kept {
		if hit.Score > resp.Hits.MaxScore {
			resp.Hits.MaxScore = hit.Score
		}
	}
	return resp, nil
}

func (p *filterHits) matches(hit search.Hit) (bool, error) {
	source := hit.Source
	if source == nil {
		source = map[string]any{}
	}

	out, _, err := p.program.Eval(map[string]any{
		"id":     hit.ID,
		"index":  hit.Index,
		"score":  hit.Score,
		"source": source,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate hit predicate: %v", err)
	}

	native, err := out.ConvertToNative(reflect.TypeOf(false))
	if err != nil {
		return false, fmt.Errorf("failed to convert predicate output to bool: %v", err)
	}
	return native.(bool), nil
}
