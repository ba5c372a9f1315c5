package search

import "context"

// Phase names one stage of search execution.
type Phase string

const (
	PhaseQuery Phase = "query"
	PhaseFetch Phase = "fetch"
)

// ScoreDoc is one ranked document reference produced by the query phase.
type ScoreDoc struct {
	Doc        int     `json:"doc"`
	Score      float64 `json:"score"`
	ShardIndex int     `json:"shard_index"`
}

// QuerySearchResult holds one shard's ranked documents for the query
// phase, before fetch resolves them into hits.
type QuerySearchResult struct {
	ShardID int        `json:"shard_id"`
	From    int        `json:"from"`
	Size    int        `json:"size"`
	Docs    []ScoreDoc `json:"docs"`
}

// PhaseResults aggregates the per-shard results sitting between two
// consecutive search phases.
type PhaseResults struct {
	Results []*QuerySearchResult
}

// PhaseTransformer mutates intermediate results between two consecutive
// search phases. Searchers that run multi-phase searches invoke it after
// each phase completes, naming the phase that produced the results and
// the phase about to consume them.
type PhaseTransformer interface {
	TransformPhaseResults(ctx context.Context, results *PhaseResults, currentPhase, nextPhase Phase) error
}

// Searcher executes a transformed search request. The transformer is
// never nil; single-phase searchers may ignore it.
type Searcher interface {
	Search(ctx context.Context, req *Request, transformer PhaseTransformer) (*Response, error)
}
