package processors

import (
	"context"
	"errors"
	"fmt"

	"github.com/gannet-search/gannet/pkg/search"
	"github.com/gannet-search/gannet/pkg/searchpipeline"
)

// truncateHits discards every hit past the target size. Without a
// configured target it restores the size stored on the processing
// context by oversample.
type truncateHits struct {
	searchpipeline.Base
	targetSize int
}

func newTruncateHits(tag, description string, ignoreFailure bool, config map[string]any) (searchpipeline.ResponseProcessor, error) {
	targetSize, err := searchpipeline.ReadInt(TruncateHitsType, tag, config, "target_size", -1)
	if err != nil {
		return nil, err
	}
	if targetSize < -1 {
		return nil, &searchpipeline.ConfigurationError{
			ProcessorType: TruncateHitsType,
			Tag:           tag,
			Property:      "target_size",
			Reason:        "value must be at least 0",
		}
	}
	return &truncateHits{
		Base:       searchpipeline.NewBase(tag, description, ignoreFailure),
		targetSize: targetSize,
	}, nil
}

func (p *truncateHits) Type() string { return TruncateHitsType }

func (p *truncateHits) ProcessResponse(_ context.Context, _ *search.Request, resp *search.Response, pctx *searchpipeline.ProcessingContext) (*search.Response, error) {
	target := p.targetSize
	if target < 0 {
		value, ok := pctx.Attribute(OriginalSizeAttribute)
		if !ok {
			return nil, errors.New("the [target_size] property is unset and no [original_size] attribute is present on the processing context")
		}
		restored, err := attributeInt(OriginalSizeAttribute, value)
		if err != nil {
			return nil, err
		}
		target = restored
	}

	if len(resp.Hits.Hits) > target {
		resp.Hits.Hits = resp.Hits.Hits[:target]
	}
	return resp, nil
}

func attributeInt(key string, value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("the [%s] attribute holds a value of type [%T], expected an int", key, value)
	}
}
