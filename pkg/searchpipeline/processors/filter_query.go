package processors

import (
	"context"

	"github.com/gannet-search/gannet/pkg/search"
	"github.com/gannet-search/gannet/pkg/searchpipeline"
)

// filterQuery narrows every request with a configured filter. The
// original query, if any, keeps contributing to scoring as a bool must
// clause; the filter clause does not score.
type filterQuery struct {
	searchpipeline.Base
	query map[string]any
}

func newFilterQuery(tag, description string, ignoreFailure bool, config map[string]any) (searchpipeline.RequestProcessor, error) {
	query, err := searchpipeline.ReadMap(FilterQueryType, tag, config, "query")
	if err != nil {
		return nil, err
	}
	return &filterQuery{
		Base:  searchpipeline.NewBase(tag, description, ignoreFailure),
		query: query,
	}, nil
}

func (p *filterQuery) Type() string { return FilterQueryType }

func (p *filterQuery) ProcessRequest(_ context.Context, req *search.Request, _ *searchpipeline.ProcessingContext) (*search.Request, error) {
	transformed := req.ShallowCopy()
	if transformed.Source == nil {
		transformed.Source = search.NewSource()
	}

	boolQuery := map[string]any{
		"filter": []any{p.query},
	}
	if transformed.Source.Query != nil {
		boolQuery["must"] = []any{transformed.Source.Query}
	}
	transformed.Source.Query = map[string]any{"bool": boolQuery}

	return transformed, nil
}
