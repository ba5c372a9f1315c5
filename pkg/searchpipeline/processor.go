package searchpipeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/gannet-search/gannet/pkg/search"
)

// Configuration keys shared by every pipeline definition.
const (
	RequestProcessorsKey      = "request_processors"
	ResponseProcessorsKey     = "response_processors"
	PhaseResultsProcessorsKey = "phase_results_processors"
)

// Processor is the identity every pipeline processor carries regardless
// of the stage it runs in.
type Processor interface {
	// Type is the registered factory name, e.g. "filter_query".
	Type() string
	// Tag distinguishes instances of the same type within a pipeline.
	// It may be empty.
	Tag() string
	Description() string
	// IgnoreFailure reports whether a failure of this processor leaves
	// the pipeline running with the processor's input unchanged.
	IgnoreFailure() bool
}

// RequestProcessor transforms a search request before it is executed.
// Implementations must not mutate req; they return the transformed
// request, which may be req itself when nothing changed.
type RequestProcessor interface {
	Processor
	ProcessRequest(ctx context.Context, req *search.Request, pctx *ProcessingContext) (*search.Request, error)
}

// ResponseProcessor transforms a search response before it is returned
// to the caller. req is the request as transformed by the request
// chain.
type ResponseProcessor interface {
	Processor
	ProcessResponse(ctx context.Context, req *search.Request, resp *search.Response, pctx *ProcessingContext) (*search.Response, error)
}

// PhaseResultsProcessor transforms the intermediate results between two
// search phases. It runs when its BeforePhase matches the phase that
// just completed and its AfterPhase matches the phase about to start.
// Phase results are mutated in place.
type PhaseResultsProcessor interface {
	Processor
	ProcessPhaseResults(ctx context.Context, req *search.Request, results *search.PhaseResults, pctx *ProcessingContext) error
	BeforePhase() search.Phase
	AfterPhase() search.Phase
}

// Base implements the identity methods shared by processors. Concrete
// processors embed it and provide Type plus their stage method.
type Base struct {
	tag           string
	description   string
	ignoreFailure bool
}

func NewBase(tag, description string, ignoreFailure bool) Base {
	return Base{tag: tag, description: description, ignoreFailure: ignoreFailure}
}

func (b Base) Tag() string         { return b.tag }
func (b Base) Description() string { return b.description }
func (b Base) IgnoreFailure() bool { return b.ignoreFailure }

// Factories build processors from their configuration section. The
// common tag, description, and ignore_failure parameters are already
// extracted when a factory runs; config holds only the
// processor-specific parameters, and the factory must consume every key
// it accepts.
type (
	RequestProcessorFactory      func(tag, description string, ignoreFailure bool, config map[string]any) (RequestProcessor, error)
	ResponseProcessorFactory     func(tag, description string, ignoreFailure bool, config map[string]any) (ResponseProcessor, error)
	PhaseResultsProcessorFactory func(tag, description string, ignoreFailure bool, config map[string]any) (PhaseResultsProcessor, error)
)

// Plugin contributes processor factories to a service.
type Plugin interface {
	RequestProcessors() map[string]RequestProcessorFactory
	ResponseProcessors() map[string]ResponseProcessorFactory
	PhaseResultsProcessors() map[string]PhaseResultsProcessorFactory
}

// ProcessorFactories is the merged factory registry of every loaded
// plugin. It is immutable once built.
type ProcessorFactories struct {
	request      map[string]RequestProcessorFactory
	response     map[string]ResponseProcessorFactory
	phaseResults map[string]PhaseResultsProcessorFactory
}

// NewProcessorFactories merges the factories contributed by plugins.
// Registering the same processor type twice within a stage is an
// error.
func NewProcessorFactories(plugins ...Plugin) (*ProcessorFactories, error) {
	f := &ProcessorFactories{
		request:      map[string]RequestProcessorFactory{},
		response:     map[string]ResponseProcessorFactory{},
		phaseResults: map[string]PhaseResultsProcessorFactory{},
	}
	for _, p := range plugins {
		for name, factory := range p.RequestProcessors() {
			if _, exists := f.request[name]; exists {
				return nil, fmt.Errorf("search processor [%s] is already registered", name)
			}
			f.request[name] = factory
		}
		for name, factory := range p.ResponseProcessors() {
			if _, exists := f.response[name]; exists {
				return nil, fmt.Errorf("search processor [%s] is already registered", name)
			}
			f.response[name] = factory
		}
		for name, factory := range p.PhaseResultsProcessors() {
			if _, exists := f.phaseResults[name]; exists {
				return nil, fmt.Errorf("search processor [%s] is already registered", name)
			}
			f.phaseResults[name] = factory
		}
	}
	return f, nil
}

// Info lists the processor types available in each stage, sorted by
// name. It is what nodes exchange to validate that a pipeline can run
// everywhere.
type Info struct {
	RequestProcessors      []string `json:"request_processors"`
	ResponseProcessors     []string `json:"response_processors"`
	PhaseResultsProcessors []string `json:"phase_results_processors"`
}

func (f *ProcessorFactories) Info() Info {
	return Info{
		RequestProcessors:      sortedKeys(f.request),
		ResponseProcessors:     sortedKeys(f.response),
		PhaseResultsProcessors: sortedKeys(f.phaseResults),
	}
}

// Contains reports whether the stage identified by key (one of the
// *ProcessorsKey constants) offers the processor type.
func (i Info) Contains(key, processorType string) bool {
	switch key {
	case RequestProcessorsKey:
		return slices.Contains(i.RequestProcessors, processorType)
	case ResponseProcessorsKey:
		return slices.Contains(i.ResponseProcessors, processorType)
	case PhaseResultsProcessorsKey:
		return slices.Contains(i.PhaseResultsProcessors, processorType)
	default:
		return false
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
