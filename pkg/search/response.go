package search

// Response is the result of an executed search request.
type Response struct {
	TookMillis int64          `json:"took"`
	TimedOut   bool           `json:"timed_out"`
	Hits       Hits           `json:"hits"`
	Ext        map[string]any `json:"ext,omitempty"`
}

// Hits is the ranked result set of a response.
type Hits struct {
	Total    *TotalHits `json:"total,omitempty"`
	MaxScore float64    `json:"max_score"`
	Hits     []Hit      `json:"hits"`
}

// TotalHits reports how many documents matched. Relation is "eq" when the
// value is exact and "gte" when it is a lower bound.
type TotalHits struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

const (
	TotalHitsEqual            = "eq"
	TotalHitsGreaterThanEqual = "gte"
)

// Hit is a single matched document.
type Hit struct {
	Index  string         `json:"_index,omitempty"`
	ID     string         `json:"_id"`
	Score  float64        `json:"_score"`
	Source map[string]any `json:"_source,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// ShallowCopy returns a copy of the response sharing hit sources.
func (r *Response) ShallowCopy() *Response {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Hits.Hits = append([]Hit(nil), r.Hits.Hits...)
	if r.Hits.Total != nil {
		total := *r.Hits.Total
		cp.Hits.Total = &total
	}
	return &cp
}

// CopySource returns a copy of the hit's source map one level deep, for
// processors that rewrite fields.
func (h Hit) CopySource() map[string]any {
	if h.Source == nil {
		return nil
	}
	cp := make(map[string]any, len(h.Source))
	for k, v := range h.Source {
		cp[k] = v
	}
	return cp
}
