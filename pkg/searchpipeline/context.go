package searchpipeline

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gannet-search/gannet/pkg/search"
)

// ExecutionStatus reports how a single processor execution ended.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailure ExecutionStatus = "fail"
)

// ProcessorExecutionDetail records one processor execution for the
// verbose pipeline trace.
type ProcessorExecutionDetail struct {
	ProcessorName string          `json:"processor_name"`
	Tag           string          `json:"tag,omitempty"`
	Duration      time.Duration   `json:"duration_nanos"`
	Status        ExecutionStatus `json:"status"`
	Error         string          `json:"error,omitempty"`
}

// ProcessingContext carries the mutable state shared by the processors
// of one pipeline execution: request attributes written by one
// processor and read by a later one, and the verbose execution trace.
// It is safe for concurrent use.
type ProcessingContext struct {
	executionID string
	verbose     bool

	mu         sync.Mutex
	attributes map[string]any
	details    []ProcessorExecutionDetail
}

func NewProcessingContext(verbose bool) *ProcessingContext {
	return &ProcessingContext{
		executionID: ulid.Make().String(),
		verbose:     verbose,
		attributes:  map[string]any{},
	}
}

// ExecutionID uniquely identifies this pipeline execution.
func (c *ProcessingContext) ExecutionID() string {
	return c.executionID
}

// Verbose reports whether this execution collects a per-processor
// trace.
func (c *ProcessingContext) Verbose() bool {
	return c.verbose
}

// SetAttribute stores a value visible to the remaining processors of
// this execution.
func (c *ProcessingContext) SetAttribute(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attributes[key] = value
}

// Attribute returns the value stored under key, if any.
func (c *ProcessingContext) Attribute(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.attributes[key]
	return value, ok
}

// Attributes returns a snapshot of every stored attribute.
func (c *ProcessingContext) Attributes() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.attributes)
}

func (c *ProcessingContext) addDetail(d ProcessorExecutionDetail) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.details = append(c.details, d)
}

// ExecutionDetails returns the trace collected so far, in execution
// order. It is empty unless the execution is verbose.
func (c *ProcessingContext) ExecutionDetails() []ProcessorExecutionDetail {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.details)
}

// PipelinedRequest is a search request bound to the pipeline that
// transformed it. It carries the processing context across the request,
// phase results, and response stages of one execution.
type PipelinedRequest struct {
	*search.Request

	pipeline *Pipeline
	pctx     *ProcessingContext
}

var _ search.PhaseTransformer = (*PipelinedRequest)(nil)

// PipelineID names the resolved pipeline, NoopPipelineID when none
// applied.
func (r *PipelinedRequest) PipelineID() string {
	return r.pipeline.ID()
}

// TransformPhaseResults runs the pipeline's phase results processors
// registered for the transition between currentPhase and nextPhase.
func (r *PipelinedRequest) TransformPhaseResults(ctx context.Context, results *search.PhaseResults, currentPhase, nextPhase search.Phase) error {
	return r.pipeline.TransformSearchPhaseResults(ctx, r.Request, results, currentPhase, nextPhase, r.pctx)
}

// TransformResponse runs the pipeline's response processors over resp.
// On a verbose execution the collected trace is attached to the
// response extensions under VerboseTraceExtKey.
func (r *PipelinedRequest) TransformResponse(ctx context.Context, resp *search.Response) (*search.Response, error) {
	transformed, err := r.pipeline.TransformResponse(ctx, r.Request, resp, r.pctx)
	if err != nil {
		return nil, err
	}
	if r.pctx.Verbose() {
		if transformed.Ext == nil {
			transformed.Ext = map[string]any{}
		}
		transformed.Ext[VerboseTraceExtKey] = r.pctx.ExecutionDetails()
	}
	return transformed, nil
}

// VerboseTraceExtKey is the response extension under which the verbose
// execution trace is returned.
const VerboseTraceExtKey = "search_pipeline"
