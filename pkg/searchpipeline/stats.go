package searchpipeline

import (
	"github.com/gannet-search/gannet/internal/containers"
)

// Stats is a point-in-time snapshot of pipeline execution metrics.
type Stats struct {
	TotalRequest      OperationStats  `json:"total_request"`
	TotalResponse     OperationStats  `json:"total_response"`
	TotalPhaseResults OperationStats  `json:"total_phase_results"`
	Pipelines         []PipelineStats `json:"pipelines"`
}

// PipelineStats holds the counters of one stored pipeline. Ad hoc
// pipelines are counted in the totals only.
type PipelineStats struct {
	ID           string         `json:"id"`
	Request      OperationStats `json:"request"`
	Response     OperationStats `json:"response"`
	PhaseResults OperationStats `json:"phase_results"`

	RequestProcessors      []ProcessorStats `json:"request_processors,omitempty"`
	ResponseProcessors     []ProcessorStats `json:"response_processors,omitempty"`
	PhaseResultsProcessors []ProcessorStats `json:"phase_results_processors,omitempty"`
}

// ProcessorStats holds the counters of one processor instance, keyed
// by "type" or "type:tag".
type ProcessorStats struct {
	Key   string         `json:"key"`
	Type  string         `json:"type"`
	Stats OperationStats `json:"stats"`
}

// buildStats assembles the snapshot from the service's aggregates.
// Pipelines are reported in id order, processors in declaration order.
func buildStats(totals *operationTotals, holders map[string]pipelineHolder) *Stats {
	stats := &Stats{
		TotalRequest:      totals.request.Stats(),
		TotalResponse:     totals.response.Stats(),
		TotalPhaseResults: totals.phaseResults.Stats(),
		Pipelines:         []PipelineStats{},
	}

	ids := containers.NewSortedSet()
	for id := range holders {
		ids.Add(id)
	}

	for _, id := range ids.Values() {
		p := holders[id].pipeline
		ps := PipelineStats{
			ID:           id,
			Request:      p.metrics.request.Stats(),
			Response:     p.metrics.response.Stats(),
			PhaseResults: p.metrics.phaseResults.Stats(),
		}
		for _, processor := range p.requestProcessors {
			key := processorKey(processor)
			ps.RequestProcessors = append(ps.RequestProcessors, ProcessorStats{
				Key:   key,
				Type:  processor.Type(),
				Stats: p.metrics.requestProcessor(key).Stats(),
			})
		}
		for _, processor := range p.responseProcessors {
			key := processorKey(processor)
			ps.ResponseProcessors = append(ps.ResponseProcessors, ProcessorStats{
				Key:   key,
				Type:  processor.Type(),
				Stats: p.metrics.responseProcessor(key).Stats(),
			})
		}
		for _, processor := range p.phaseResultsProcessors {
			key := processorKey(processor)
			ps.PhaseResultsProcessors = append(ps.PhaseResultsProcessors, ProcessorStats{
				Key:   key,
				Type:  processor.Type(),
				Stats: p.metrics.phaseResultsProcessor(key).Stats(),
			})
		}
		stats.Pipelines = append(stats.Pipelines, ps)
	}
	return stats
}
