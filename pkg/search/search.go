// Package search defines the request and response model shared by the
// pipeline engine and the searchers that execute requests. It carries no
// execution logic of its own.
package search

// DefaultSize is the number of hits returned when a request does not set
// an explicit size.
const DefaultSize = 10

// Request is a search addressed to one or more indices. Pipeline names a
// search pipeline explicitly and overrides any index default.
type Request struct {
	Indices  []string `json:"indices,omitempty"`
	Pipeline string   `json:"pipeline,omitempty"`
	Source   *Source  `json:"source,omitempty"`
}

// Source is the body of a search request. Size and From use -1 for unset
// so that processors can distinguish "absent" from zero.
type Source struct {
	Query          map[string]any `json:"query,omitempty"`
	Size           int            `json:"size,omitempty"`
	From           int            `json:"from,omitempty"`
	Explain        bool           `json:"explain,omitempty"`
	TimeoutMillis  int64          `json:"timeout,omitempty"`
	SearchPipeline map[string]any `json:"search_pipeline,omitempty"`

	// Verbose requests a per-processor execution trace in the response
	// ext section.
	Verbose bool `json:"verbose_pipeline,omitempty"`
}

// NewSource returns a Source with size and from unset.
func NewSource() *Source {
	return &Source{Size: -1, From: -1}
}

// SizeOrDefault returns the requested size, or DefaultSize when unset.
func (s *Source) SizeOrDefault() int {
	if s == nil || s.Size < 0 {
		return DefaultSize
	}
	return s.Size
}

// ShallowCopy returns a copy of the request sharing the source maps.
// Processors copy before replacing fields so that a discarded result
// never leaks into the request that stays in flight.
func (r *Request) ShallowCopy() *Request {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Indices = append([]string(nil), r.Indices...)
	cp.Source = r.Source.ShallowCopy()
	return &cp
}

// ShallowCopy returns a copy of the source. Nested maps are shared;
// callers replace them rather than mutating in place.
func (s *Source) ShallowCopy() *Source {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
