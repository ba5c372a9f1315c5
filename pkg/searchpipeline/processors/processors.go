// Package processors provides the built-in search pipeline processors.
//
// The set covers the common request rewrites (query filtering, CEL
// scripting, oversampling), response rewrites (field renames, hit
// truncation, predicate filtering, field collapsing), and score
// normalization between the query and fetch phases. Every processor
// validates its configuration at construction time so that storing a
// bad definition fails synchronously.
package processors

import (
	"github.com/gannet-search/gannet/pkg/searchpipeline"
)

// Processor type names as they appear in pipeline definitions.
const (
	FilterQueryType     = "filter_query"
	ScriptType          = "script"
	OversampleType      = "oversample"
	RenameFieldType     = "rename_field"
	TruncateHitsType    = "truncate_hits"
	FilterHitsType      = "filter_hits"
	CollapseType        = "collapse"
	NormalizeScoresType = "normalize_scores"
)

// OriginalSizeAttribute is the processing context attribute under which
// oversample stores the size the client asked for. truncate_hits reads
// it back when no explicit target is configured.
const OriginalSizeAttribute = "original_size"

// Plugin bundles the built-in processors for registration with a
// pipeline service.
type Plugin struct{}

var _ searchpipeline.Plugin = Plugin{}

func (Plugin) RequestProcessors() map[string]searchpipeline.RequestProcessorFactory {
	return map[string]searchpipeline.RequestProcessorFactory{
		FilterQueryType: newFilterQuery,
		ScriptType:      newScript,
		OversampleType:  newOversample,
	}
}

func (Plugin) ResponseProcessors() map[string]searchpipeline.ResponseProcessorFactory {
	return map[string]searchpipeline.ResponseProcessorFactory{
		RenameFieldType:  newRenameField,
		TruncateHitsType: newTruncateHits,
		FilterHitsType:   newFilterHits,
		CollapseType:     newCollapse,
	}
}

func (Plugin) PhaseResultsProcessors() map[string]searchpipeline.PhaseResultsProcessorFactory {
	return map[string]searchpipeline.PhaseResultsProcessorFactory{
		NormalizeScoresType: newNormalizeScores,
	}
}
