package processors

import (
	"context"

	"github.com/gannet-search/gannet/pkg/search"
	"github.com/gannet-search/gannet/pkg/searchpipeline"
)

// renameField renames a key in the source and fields maps of every
// hit. Hits without the key are left alone; the hit maps are mutated in
// place.
type renameField struct {
	searchpipeline.Base
	field       string
	targetField string
}

func newRenameField(tag, description string, ignoreFailure bool, config map[string]any) (searchpipeline.ResponseProcessor, error) {
	field, err := searchpipeline.ReadString(RenameFieldType, tag, config, "field")
	if err != nil {
		return nil, err
	}
	targetField, err := searchpipeline.ReadString(RenameFieldType, tag, config, "target_field")
	if err != nil {
		return nil, err
	}
	return &renameField{
		Base:        searchpipeline.NewBase(tag, description, ignoreFailure),
		field:       field,
		targetField: targetField,
	}, nil
}

func (p *renameField) Type() string { return RenameFieldType }

func (p *renameField) ProcessResponse(_ context.Context, _ *search.Request, resp *search.Response, _ *searchpipeline.ProcessingContext) (*search.Response, error) {
	for i := range resp.Hits.Hits {
		hit := &resp.Hits.Hits[i]
		renameKey(hit.Source, p.field, p.targetField)
		renameKey(hit.Fields, p.field, p.targetField)
	}
	return resp, nil
}

func renameKey(m map[string]any, from, to string) {
	if m == nil {
		return
	}
	value, ok := m[from]
	if !ok {
		return
	}
	delete(m, from)
	m[to] = value
}
