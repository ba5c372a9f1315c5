package processors

import (
	"context"
	"fmt"

	"github.com/gannet-search/gannet/pkg/search"
	"github.com/gannet-search/gannet/pkg/searchpipeline"
)

// collapse deduplicates hits sharing a source field value, keeping the
// highest-scoring hit of each group at the position of the group's
// first occurrence. Hits without the field are kept untouched.
type collapse struct {
	searchpipeline.Base
	field string
}

func newCollapse(tag, description string, ignoreFailure bool, config map[string]any) (searchpipeline.ResponseProcessor, error) {
	field, err := searchpipeline.ReadString(CollapseType, tag, config, "field")
	if err != nil {
		return nil, err
	}
	return &collapse{
		Base:  searchpipeline.NewBase(tag, description, ignoreFailure),
		field: field,
	}, nil
}

func (p *collapse) Type() string { return CollapseType }

func (p *collapse) ProcessResponse(_ context.Context, _ *search.Request, resp *search.Response, _ *searchpipeline.ProcessingContext) (*search.Response, error) {
	kept := make([]search.Hit, 0, len(resp.Hits.Hits))
	position := map[string]int{}

	for _, hit := range resp.Hits.Hits {
		value, ok := fieldValue(hit, p.field)
		if !ok {
			kept = append(kept, hit)
			continue
		}
		key := fmt.Sprintf("%v", value)
		if at, seen := position[key]; seen {
			if hit.Score > kept[at].Score {
				kept[at] = hit
			}
			continue
		}
		position[key] = len(kept)
		kept = append(kept, hit)
	}

	resp.Hits.Hits = kept
	return resp, nil
}

func fieldValue(hit search.Hit, field string) (any, bool) {
	if hit.Source == nil {
		return nil, false
	}
	value, ok := hit.Source[field]
	return value, ok
}
