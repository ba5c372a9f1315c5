package processors

import (
	"context"
	"math"

	"github.com/gannet-search/gannet/pkg/search"
	"github.com/gannet-search/gannet/pkg/searchpipeline"
)

// oversample multiplies the requested size so that a later response
// processor has a larger candidate set to rerank or filter. The size
// the client asked for is stored on the processing context under
// OriginalSizeAttribute for truncate_hits to restore.
type oversample struct {
	searchpipeline.Base
	sampleFactor float64
}

func newOversample(tag, description string, ignoreFailure bool, config map[string]any) (searchpipeline.RequestProcessor, error) {
	factor, err := searchpipeline.ReadFloat(OversampleType, tag, config, "sample_factor", 0)
	if err != nil {
		return nil, err
	}
	if factor < 1 {
		return nil, &searchpipeline.ConfigurationError{
			ProcessorType: OversampleType,
			Tag:           tag,
			Property:      "sample_factor",
			Reason:        "value must be at least 1.0",
		}
	}
	return &oversample{
		Base:         searchpipeline.NewBase(tag, description, ignoreFailure),
		sampleFactor: factor,
	}, nil
}

func (p *oversample) Type() string { return OversampleType }

func (p *oversample) ProcessRequest(_ context.Context, req *search.Request, pctx *searchpipeline.ProcessingContext) (*search.Request, error) {
	size := req.Source.SizeOrDefault()
	pctx.SetAttribute(OriginalSizeAttribute, size)

	transformed := req.ShallowCopy()
	if transformed.Source == nil {
		transformed.Source = search.NewSource()
	}
	transformed.Source.Size = int(math.Ceil(float64(size) * p.sampleFactor))

	return transformed, nil
}
