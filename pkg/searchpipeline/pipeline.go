package searchpipeline

import (
	"context"
	"fmt"
	"maps"
	"math"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/gannet-search/gannet/pkg/logger"
	"github.com/gannet-search/gannet/pkg/search"
)

// Reserved pipeline ids. Neither can be stored.
const (
	// NoopPipelineID names the pipeline that transforms nothing.
	// Requests reference it to bypass index default pipelines.
	NoopPipelineID = "_none"
	// AdHocPipelineID is the id under which inline pipelines execute.
	AdHocPipelineID = "_ad_hoc_pipeline"
)

// Keys common to pipeline definitions and processor entries.
const (
	descriptionKey   = "description"
	versionKey       = "version"
	tagKey           = "tag"
	ignoreFailureKey = "ignore_failure"
)

// Pipeline executes the processor chains defined by one configuration.
// Pipelines are immutable once built; a changed configuration produces
// a new instance that shares the metrics of its predecessor.
type Pipeline struct {
	id          string
	description string
	version     *int64

	requestProcessors      []RequestProcessor
	responseProcessors     []ResponseProcessor
	phaseResultsProcessors []PhaseResultsProcessor

	metrics *pipelineMetrics
	totals  *operationTotals
	logger  logger.Logger
}

// NoopPipeline is applied when a request resolves to no pipeline.
var NoopPipeline = &Pipeline{
	id:          NoopPipelineID,
	description: "pipeline that does not transform anything",
	metrics:     newPipelineMetrics(),
	totals:      &operationTotals{},
	logger:      logger.NewNoopLogger(),
}

func newPipeline(
	id string,
	configMap map[string]any,
	factories *ProcessorFactories,
	metrics *pipelineMetrics,
	totals *operationTotals,
	log logger.Logger,
) (*Pipeline, error) {
	// The parse consumes keys; work on a copy so callers keep theirs.
	config := maps.Clone(configMap)

	description, err := ReadOptionalString("", "", config, descriptionKey)
	if err != nil {
		return nil, err
	}
	version, err := readOptionalVersion(config)
	if err != nil {
		return nil, err
	}
	requestConfigs, err := readOptionalList(config, RequestProcessorsKey)
	if err != nil {
		return nil, err
	}
	responseConfigs, err := readOptionalList(config, ResponseProcessorsKey)
	if err != nil {
		return nil, err
	}
	phaseConfigs, err := readOptionalList(config, PhaseResultsProcessorsKey)
	if err != nil {
		return nil, err
	}
	if len(config) > 0 {
		return nil, unusedParametersError("pipeline", id, config)
	}

	p := &Pipeline{
		id:          id,
		description: description,
		version:     version,
		metrics:     metrics,
		totals:      totals,
		logger:      log,
	}
	p.requestProcessors, err = buildRequestProcessors(requestConfigs, factories.request)
	if err != nil {
		return nil, err
	}
	p.responseProcessors, err = buildResponseProcessors(responseConfigs, factories.response)
	if err != nil {
		return nil, err
	}
	p.phaseResultsProcessors, err = buildPhaseResultsProcessors(phaseConfigs, factories.phaseResults)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// BuildPipeline builds a standalone pipeline from a raw definition map,
// checking the id and every processor configuration against factories.
// The result carries throwaway metrics and a noop logger; a service
// rebinds both when it adopts a definition. Tooling uses BuildPipeline
// to validate definitions without a running service.
func BuildPipeline(id string, definition map[string]any, factories *ProcessorFactories) (*Pipeline, error) {
	if id == NoopPipelineID || id == AdHocPipelineID {
		return nil, fmt.Errorf("search pipeline id [%s] is reserved", id)
	}
	if n := len(id); n > MaxPipelineIDBytes {
		return nil, fmt.Errorf("search pipeline id [%s] exceeds maximum length of %d UTF-8 bytes (actual: %d bytes)", id, MaxPipelineIDBytes, n)
	}
	return newPipeline(id, definition, factories, newPipelineMetrics(), &operationTotals{}, logger.NewNoopLogger())
}

func (p *Pipeline) ID() string          { return p.id }
func (p *Pipeline) Description() string { return p.description }

// Version returns the optional version declared by the definition.
func (p *Pipeline) Version() *int64 { return p.version }

// processorEntry is one parsed {type: config} element with the common
// parameters already extracted.
type processorEntry struct {
	typ           string
	tag           string
	description   string
	ignoreFailure bool
	config        map[string]any
}

func parseProcessorEntry(entry map[string]any) (processorEntry, error) {
	if len(entry) != 1 {
		keys := sortedKeys(entry)
		return processorEntry{}, newConfigurationError("", "", "", fmt.Sprintf("processor entry must have exactly one key naming the processor type, but found [%s]", strings.Join(keys, ", ")))
	}
	var parsed processorEntry
	for processorType, rawConfig := range entry {
		config, ok := rawConfig.(map[string]any)
		if !ok {
			return processorEntry{}, newConfigurationError(processorType, "", "", fmt.Sprintf("processor config isn't a map, but of type [%T]", rawConfig))
		}
		parsed.typ = processorType
		parsed.config = maps.Clone(config)
	}

	var err error
	if parsed.tag, err = ReadOptionalString(parsed.typ, "", parsed.config, tagKey); err != nil {
		return processorEntry{}, err
	}
	if parsed.description, err = ReadOptionalString(parsed.typ, parsed.tag, parsed.config, descriptionKey); err != nil {
		return processorEntry{}, err
	}
	if parsed.ignoreFailure, err = ReadBool(parsed.typ, parsed.tag, parsed.config, ignoreFailureKey, false); err != nil {
		return processorEntry{}, err
	}
	return parsed, nil
}

func buildRequestProcessors(configs []map[string]any, factories map[string]RequestProcessorFactory) ([]RequestProcessor, error) {
	processors := make([]RequestProcessor, 0, len(configs))
	for _, raw := range configs {
		entry, err := parseProcessorEntry(raw)
		if err != nil {
			return nil, err
		}
		factory, ok := factories[entry.typ]
		if !ok {
			return nil, fmt.Errorf("no processor type exists with name [%s]", entry.typ)
		}
		processor, err := factory(entry.tag, entry.description, entry.ignoreFailure, entry.config)
		if err != nil {
			return nil, err
		}
		if err := CheckUnusedParameters(entry.typ, entry.tag, entry.config); err != nil {
			return nil, err
		}
		processors = append(processors, processor)
	}
	return processors, nil
}

func buildResponseProcessors(configs []map[string]any, factories map[string]ResponseProcessorFactory) ([]ResponseProcessor, error) {
	processors := make([]ResponseProcessor, 0, len(configs))
	for _, raw := range configs {
		entry, err := parseProcessorEntry(raw)
		if err != nil {
			return nil, err
		}
		factory, ok := factories[entry.typ]
		if !ok {
			return nil, fmt.Errorf("no processor type exists with name [%s]", entry.typ)
		}
		processor, err := factory(entry.tag, entry.description, entry.ignoreFailure, entry.config)
		if err != nil {
			return nil, err
		}
		if err := CheckUnusedParameters(entry.typ, entry.tag, entry.config); err != nil {
			return nil, err
		}
		processors = append(processors, processor)
	}
	return processors, nil
}

func buildPhaseResultsProcessors(configs []map[string]any, factories map[string]PhaseResultsProcessorFactory) ([]PhaseResultsProcessor, error) {
	processors := make([]PhaseResultsProcessor, 0, len(configs))
	for _, raw := range configs {
		entry, err := parseProcessorEntry(raw)
		if err != nil {
			return nil, err
		}
		factory, ok := factories[entry.typ]
		if !ok {
			return nil, fmt.Errorf("no processor type exists with name [%s]", entry.typ)
		}
		processor, err := factory(entry.tag, entry.description, entry.ignoreFailure, entry.config)
		if err != nil {
			return nil, err
		}
		if err := CheckUnusedParameters(entry.typ, entry.tag, entry.config); err != nil {
			return nil, err
		}
		processors = append(processors, processor)
	}
	return processors, nil
}

func readOptionalVersion(config map[string]any) (*int64, error) {
	value, ok := config[versionKey]
	delete(config, versionKey)
	if !ok || value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case int:
		version := int64(v)
		return &version, nil
	case int64:
		return &v, nil
	case float64:
		if v != math.Trunc(v) {
			return nil, newConfigurationError("", "", versionKey, fmt.Sprintf("property [%v] cannot be converted to an int", v))
		}
		version := int64(v)
		return &version, nil
	default:
		return nil, newConfigurationError("", "", versionKey, fmt.Sprintf("property [%v] cannot be converted to an int", value))
	}
}

// TransformRequest runs the request processor chain. req is not
// mutated; the transformed request is returned. The run is timed and
// counted even when a processor fails.
func (p *Pipeline) TransformRequest(ctx context.Context, req *search.Request, pctx *ProcessingContext) (*search.Request, error) {
	if len(p.requestProcessors) == 0 {
		return req, nil
	}

	start := time.Now()
	p.metrics.request.Before()
	p.totals.request.Before()

	current := req
	var err error
	for _, processor := range p.requestProcessors {
		current, err = p.runRequestProcessor(ctx, processor, current, pctx)
		if err != nil {
			break
		}
	}

	took := time.Since(start)
	success := err == nil
	p.metrics.request.After(took, success)
	p.totals.request.After(took, success)
	pipelineExecutionsCounter.WithLabelValues(stageRequest, statusLabel(success)).Inc()

	if err != nil {
		return nil, err
	}
	return current, nil
}

func (p *Pipeline) runRequestProcessor(ctx context.Context, processor RequestProcessor, req *search.Request, pctx *ProcessingContext) (*search.Request, error) {
	om := p.metrics.requestProcessor(processorKey(processor))
	om.Before()
	start := time.Now()

	var (
		output *search.Request
		err    error
	)
	var catcher panics.Catcher
	catcher.Try(func() {
		output, err = processor.ProcessRequest(ctx, req, pctx)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		err = fmt.Errorf("request processor [%s] panicked: %v", processor.Type(), recovered.Value)
	}

	took := time.Since(start)
	om.After(took, err == nil)
	p.observeProcessor(processor, stageRequest, took, err, pctx)

	if err != nil {
		if processor.IgnoreFailure() {
			p.logger.Warn("search pipeline processor failure ignored",
				zap.String("pipeline_id", p.id),
				zap.String("processor_type", processor.Type()),
				zap.String("processor_tag", processor.Tag()),
				zap.Error(err),
			)
			return req, nil
		}
		return nil, processingError(p.id, processor, err)
	}
	return output, nil
}

// TransformResponse runs the response processor chain. req is the
// request as transformed by the request chain.
func (p *Pipeline) TransformResponse(ctx context.Context, req *search.Request, resp *search.Response, pctx *ProcessingContext) (*search.Response, error) {
	if len(p.responseProcessors) == 0 {
		return resp, nil
	}

	start := time.Now()
	p.metrics.response.Before()
	p.totals.response.Before()

	current := resp
	var err error
	for _, processor := range p.responseProcessors {
		current, err = p.runResponseProcessor(ctx, processor, req, current, pctx)
		if err != nil {
			break
		}
	}

	took := time.Since(start)
	success := err == nil
	p.metrics.response.After(took, success)
	p.totals.response.After(took, success)
	pipelineExecutionsCounter.WithLabelValues(stageResponse, statusLabel(success)).Inc()

	if err != nil {
		return nil, err
	}
	return current, nil
}

func (p *Pipeline) runResponseProcessor(ctx context.Context, processor ResponseProcessor, req *search.Request, resp *search.Response, pctx *ProcessingContext) (*search.Response, error) {
	om := p.metrics.responseProcessor(processorKey(processor))
	om.Before()
	start := time.Now()

	var (
		output *search.Response
		err    error
	)
	var catcher panics.Catcher
	catcher.Try(func() {
		output, err = processor.ProcessResponse(ctx, req, resp, pctx)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		err = fmt.Errorf("response processor [%s] panicked: %v", processor.Type(), recovered.Value)
	}

	took := time.Since(start)
	om.After(took, err == nil)
	p.observeProcessor(processor, stageResponse, took, err, pctx)

	if err != nil {
		if processor.IgnoreFailure() {
			p.logger.Warn("search pipeline processor failure ignored",
				zap.String("pipeline_id", p.id),
				zap.String("processor_type", processor.Type()),
				zap.String("processor_tag", processor.Tag()),
				zap.Error(err),
			)
			return resp, nil
		}
		return nil, processingError(p.id, processor, err)
	}
	return output, nil
}

// TransformSearchPhaseResults runs the phase results processors
// registered for the transition from currentPhase to nextPhase,
// mutating results in place.
func (p *Pipeline) TransformSearchPhaseResults(ctx context.Context, req *search.Request, results *search.PhaseResults, currentPhase, nextPhase search.Phase, pctx *ProcessingContext) error {
	if len(p.phaseResultsProcessors) == 0 {
		return nil
	}
	var matched []PhaseResultsProcessor
	for _, processor := range p.phaseResultsProcessors {
		if processor.BeforePhase() == currentPhase && processor.AfterPhase() == nextPhase {
			matched = append(matched, processor)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	start := time.Now()
	p.metrics.phaseResults.Before()
	p.totals.phaseResults.Before()

	var err error
	for _, processor := range matched {
		if err = p.runPhaseResultsProcessor(ctx, processor, req, results, pctx); err != nil {
			break
		}
	}

	took := time.Since(start)
	success := err == nil
	p.metrics.phaseResults.After(took, success)
	p.totals.phaseResults.After(took, success)
	pipelineExecutionsCounter.WithLabelValues(stagePhaseResults, statusLabel(success)).Inc()

	return err
}

func (p *Pipeline) runPhaseResultsProcessor(ctx context.Context, processor PhaseResultsProcessor, req *search.Request, results *search.PhaseResults, pctx *ProcessingContext) error {
	om := p.metrics.phaseResultsProcessor(processorKey(processor))
	om.Before()
	start := time.Now()

	var err error
	var catcher panics.Catcher
	catcher.Try(func() {
		err = processor.ProcessPhaseResults(ctx, req, results, pctx)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		err = fmt.Errorf("phase results processor [%s] panicked: %v", processor.Type(), recovered.Value)
	}

	took := time.Since(start)
	om.After(took, err == nil)
	p.observeProcessor(processor, stagePhaseResults, took, err, pctx)

	if err != nil {
		if processor.IgnoreFailure() {
			p.logger.Warn("search pipeline processor failure ignored",
				zap.String("pipeline_id", p.id),
				zap.String("processor_type", processor.Type()),
				zap.String("processor_tag", processor.Tag()),
				zap.Error(err),
			)
			return nil
		}
		return processingError(p.id, processor, err)
	}
	return nil
}

func (p *Pipeline) observeProcessor(processor Processor, stage string, took time.Duration, err error, pctx *ProcessingContext) {
	processorDurationHistogram.WithLabelValues(processor.Type(), stage, statusLabel(err == nil)).Observe(took.Seconds())
	if pctx.Verbose() {
		detail := ProcessorExecutionDetail{
			ProcessorName: processor.Type(),
			Tag:           processor.Tag(),
			Duration:      took,
			Status:        ExecutionSuccess,
		}
		if err != nil {
			detail.Status = ExecutionFailure
			detail.Error = err.Error()
		}
		pctx.addDetail(detail)
	}
}

func (p *Pipeline) processorKeySets() (request, response, phaseResults map[string]struct{}) {
	request = make(map[string]struct{}, len(p.requestProcessors))
	for _, processor := range p.requestProcessors {
		request[processorKey(processor)] = struct{}{}
	}
	response = make(map[string]struct{}, len(p.responseProcessors))
	for _, processor := range p.responseProcessors {
		response[processorKey(processor)] = struct{}{}
	}
	phaseResults = make(map[string]struct{}, len(p.phaseResultsProcessors))
	for _, processor := range p.phaseResultsProcessors {
		phaseResults[processorKey(processor)] = struct{}{}
	}
	return request, response, phaseResults
}
