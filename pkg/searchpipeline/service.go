// Package searchpipeline resolves, manages, and executes search
// pipelines: chains of request, response, and phase results processors
// that transform searches as they execute. Pipeline definitions are
// stored in the replicated cluster state; every node builds the same
// executable registry from it.
package searchpipeline

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/gannet-search/gannet/internal/utils"
	"github.com/gannet-search/gannet/pkg/cluster"
	"github.com/gannet-search/gannet/pkg/logger"
	"github.com/gannet-search/gannet/pkg/search"
)

var tracer = otel.Tracer("gannet/pkg/searchpipeline")

// MaxPipelineIDBytes bounds the UTF-8 encoded length of a stored
// pipeline id.
const MaxPipelineIDBytes = 512

// IndexDefaultPipelineSetting is the index setting naming the pipeline
// applied to searches that target the index without naming one.
const IndexDefaultPipelineSetting = "index.search.default_pipeline"

const (
	putPipelineThrottlingKey    = "put-search-pipeline"
	deletePipelineThrottlingKey = "delete-search-pipeline"
)

// pipelineHolder pairs a stored configuration with the pipeline built
// from it.
type pipelineHolder struct {
	configuration PipelineConfiguration
	pipeline      *Pipeline
}

// Service resolves, manages, and executes search pipelines. Stored
// pipelines live in the replicated cluster state; the service keeps an
// executable registry in sync with it and serves searches from an
// atomic snapshot.
type Service struct {
	logger    logger.Logger
	cluster   cluster.Service
	factories *ProcessorFactories
	infos     *cluster.InfoRegistry[Info]
	searcher  search.Searcher

	putKey    cluster.ThrottlingKey
	deleteKey cluster.ThrottlingKey

	pipelines atomic.Pointer[map[string]pipelineHolder]
	state     atomic.Pointer[cluster.State]
	applyMu   sync.Mutex

	metrics        *serviceMetrics
	adhoc          *adhocCache
	adhocCacheSize int64
}

var _ cluster.StateApplier = (*Service)(nil)

type ServiceOpt func(*Service)

// WithLogger sets the service logger. Defaults to a noop logger.
func WithLogger(l logger.Logger) ServiceOpt {
	return func(s *Service) {
		s.logger = l
	}
}

// WithSearcher sets the searcher Execute delegates to.
func WithSearcher(searcher search.Searcher) ServiceOpt {
	return func(s *Service) {
		s.searcher = searcher
	}
}

// WithAdHocCacheSize bounds the inline pipeline cache. Values <= 0
// disable caching.
func WithAdHocCacheSize(size int64) ServiceOpt {
	return func(s *Service) {
		s.adhocCacheSize = size
	}
}

// WithInfoRegistry replaces the registry used to gather processor
// capabilities for validation. The local node's capabilities are
// registered on it.
func WithInfoRegistry(r *cluster.InfoRegistry[Info]) ServiceOpt {
	return func(s *Service) {
		s.infos = r
	}
}

// NewService wires a pipeline service to clusterService. It registers
// itself as a state applier; register it before the cluster service
// starts so it observes the recovered state.
func NewService(clusterService cluster.Service, factories *ProcessorFactories, opts ...ServiceOpt) (*Service, error) {
	s := &Service{
		logger:         logger.NewNoopLogger(),
		cluster:        clusterService,
		factories:      factories,
		metrics:        newServiceMetrics(),
		adhocCacheSize: defaultAdHocCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.infos == nil {
		s.infos = cluster.NewInfoRegistry[Info]()
	}
	s.infos.Register(cluster.InfoClientFunc[Info]{
		ClientNode: clusterService.LocalNode(),
		InfoFunc: func(ctx context.Context) (Info, error) {
			return s.Info(), nil
		},
	})

	if s.adhocCacheSize > 0 {
		cache, err := newAdhocCache(s.adhocCacheSize)
		if err != nil {
			return nil, fmt.Errorf("build ad hoc pipeline cache: %w", err)
		}
		s.adhoc = cache
	}

	empty := map[string]pipelineHolder{}
	s.pipelines.Store(&empty)
	state := clusterService.State()
	s.state.Store(&state)

	s.putKey = clusterService.RegisterThrottlingKey(putPipelineThrottlingKey, true)
	s.deleteKey = clusterService.RegisterThrottlingKey(deletePipelineThrottlingKey, true)
	clusterService.AddStateApplier(s)

	// Catch up with state committed before the applier registration.
	s.ApplyClusterState(cluster.ChangedEvent{State: state, PreviousState: state})

	return s, nil
}

// Close releases the service's resources. It does not close the
// cluster service.
func (s *Service) Close() {
	if s.adhoc != nil {
		s.adhoc.close()
	}
}

// Info describes the processor types this node can run.
func (s *Service) Info() Info {
	return s.factories.Info()
}

// Stats snapshots the execution metrics of every stored pipeline.
func (s *Service) Stats() *Stats {
	return buildStats(&s.metrics.totals, *s.pipelines.Load())
}

// ApplyClusterState synchronizes the executable registry with the
// pipelines stored in the new state. Rebuild failures keep the
// previous generation of the affected pipeline serving and are logged,
// never propagated.
func (s *Service) ApplyClusterState(event cluster.ChangedEvent) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if current := s.state.Load(); current != nil && event.State.Version < current.Version {
		return
	}
	s.state.Store(&event.State)

	if event.State.Blocks.StateNotRecovered {
		return
	}
	metadata, ok := MetadataFrom(event.State)
	if !ok {
		return
	}
	if err := s.updatePipelines(metadata); err != nil {
		s.logger.Warn("failed to update search pipelines", zap.Error(err))
	}
}

func (s *Service) updatePipelines(metadata Metadata) error {
	existing := *s.pipelines.Load()
	var updated map[string]pipelineHolder
	var errs *multierror.Error

	for id, config := range metadata.Pipelines {
		if previous, ok := existing[id]; ok && previous.configuration.Equal(config) {
			continue
		}
		if updated == nil {
			updated = maps.Clone(existing)
		}
		pipeline, err := s.buildPipeline(id, config)
		if err != nil {
			// The previous generation, if any, keeps serving.
			errs = multierror.Append(errs, fmt.Errorf("error updating pipeline with id [%s]: %w", id, err))
			continue
		}
		updated[id] = pipelineHolder{configuration: config, pipeline: pipeline}
	}

	for id := range existing {
		if _, ok := metadata.Pipelines[id]; !ok {
			if updated == nil {
				updated = maps.Clone(existing)
			}
			delete(updated, id)
			s.metrics.drop(id)
		}
	}

	if updated != nil {
		s.pipelines.Store(&updated)
	}
	return errs.ErrorOrNil()
}

func (s *Service) buildPipeline(id string, config PipelineConfiguration) (*Pipeline, error) {
	configMap, err := config.ConfigMap()
	if err != nil {
		return nil, err
	}
	pipeline, err := newPipeline(id, configMap, s.factories, newPipelineMetrics(), &s.metrics.totals, s.logger)
	if err != nil {
		return nil, err
	}
	// Bind the id's long-lived aggregate so counters survive rebuilds.
	pipeline.metrics = s.metrics.pipeline(id)
	pipeline.metrics.prune(pipeline.processorKeySets())
	return pipeline, nil
}

// PutPipeline validates config against the processor capabilities of
// every known node and stores it in the cluster state. The returned
// error is nil once the new state is committed and applied locally.
func (s *Service) PutPipeline(ctx context.Context, config PipelineConfiguration) error {
	ctx, span := tracer.Start(ctx, "searchpipeline.PutPipeline")
	defer span.End()
	span.SetAttributes(attribute.String("pipeline_id", config.ID))

	infos, err := s.infos.Gather(ctx)
	if err != nil {
		return fmt.Errorf("gather search pipeline info: %w", err)
	}
	if err := s.validatePipeline(infos, config); err != nil {
		return err
	}

	return s.cluster.SubmitStateUpdateTask(ctx, "put-search-pipeline-"+config.ID, s.putKey, func(state cluster.State) (cluster.State, error) {
		metadata, _ := MetadataFrom(state)
		return state.WithCustom(metadata.WithPipeline(config)), nil
	})
}

func (s *Service) validatePipeline(infos map[cluster.Node]Info, config PipelineConfiguration) error {
	if len(infos) == 0 {
		return errors.New("search pipeline info is empty")
	}
	configMap, err := config.ConfigMap()
	if err != nil {
		return err
	}
	// Throwaway build: validation must not touch live counters.
	pipeline, err := BuildPipeline(config.ID, configMap, s.factories)
	if err != nil {
		return err
	}

	nodes := make([]cluster.Node, 0, len(infos))
	for node := range infos {
		nodes = append(nodes, node)
	}
	slices.SortFunc(nodes, func(a, b cluster.Node) int {
		return cmp.Compare(a.ID, b.ID)
	})

	var errs *multierror.Error
	for _, node := range nodes {
		info := infos[node]
		for _, processor := range pipeline.requestProcessors {
			if !info.Contains(RequestProcessorsKey, processor.Type()) {
				errs = multierror.Append(errs, newConfigurationError(processor.Type(), processor.Tag(), "", fmt.Sprintf("processor type [%s] is not installed on node [%s]", processor.Type(), node.ID)))
			}
		}
		for _, processor := range pipeline.responseProcessors {
			if !info.Contains(ResponseProcessorsKey, processor.Type()) {
				errs = multierror.Append(errs, newConfigurationError(processor.Type(), processor.Tag(), "", fmt.Sprintf("processor type [%s] is not installed on node [%s]", processor.Type(), node.ID)))
			}
		}
		for _, processor := range pipeline.phaseResultsProcessors {
			if !info.Contains(PhaseResultsProcessorsKey, processor.Type()) {
				errs = multierror.Append(errs, newConfigurationError(processor.Type(), processor.Tag(), "", fmt.Sprintf("processor type [%s] is not installed on node [%s]", processor.Type(), node.ID)))
			}
		}
	}
	return errs.ErrorOrNil()
}

// DeletePipeline removes stored pipelines. id may be a '*' wildcard
// pattern; a pattern matching nothing fails with ErrPipelineNotFound
// unless it is the match-all pattern.
func (s *Service) DeletePipeline(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "searchpipeline.DeletePipeline")
	defer span.End()
	span.SetAttributes(attribute.String("pipeline_id", id))

	return s.cluster.SubmitStateUpdateTask(ctx, "delete-search-pipeline-"+id, s.deleteKey, func(state cluster.State) (cluster.State, error) {
		metadata, _ := MetadataFrom(state)

		var toRemove []string
		if utils.IsSimpleMatchPattern(id) {
			for pipelineID := range metadata.Pipelines {
				if utils.SimpleMatch(id, pipelineID) {
					toRemove = append(toRemove, pipelineID)
				}
			}
		} else if _, ok := metadata.Pipelines[id]; ok {
			toRemove = append(toRemove, id)
		}

		if len(toRemove) == 0 {
			if utils.IsMatchAllPattern(id) {
				// Deleting everything from an empty registry is a no-op.
				return state, nil
			}
			return state, fmt.Errorf("pipeline [%s] is missing: %w", id, ErrPipelineNotFound)
		}
		return state.WithCustom(metadata.WithoutPipelines(toRemove...)), nil
	})
}

// PipelinesFromState returns the configurations stored in state that
// match ids. '*' wildcards are allowed, no ids returns every pipeline,
// and concrete ids that are not stored are omitted. Results are sorted
// by id.
func PipelinesFromState(state cluster.State, ids ...string) []PipelineConfiguration {
	metadata, ok := MetadataFrom(state)
	if !ok {
		return nil
	}

	matched := map[string]PipelineConfiguration{}
	if len(ids) == 0 {
		maps.Copy(matched, metadata.Pipelines)
	} else {
		for _, id := range ids {
			if utils.IsSimpleMatchPattern(id) {
				for pipelineID, config := range metadata.Pipelines {
					if utils.SimpleMatch(id, pipelineID) {
						matched[pipelineID] = config
					}
				}
			} else if config, ok := metadata.Pipelines[id]; ok {
				matched[id] = config
			}
		}
	}

	out := make([]PipelineConfiguration, 0, len(matched))
	for _, id := range sortedKeys(matched) {
		out = append(out, matched[id])
	}
	return out
}

// GetPipelines reads stored configurations from the latest applied
// cluster state.
func (s *Service) GetPipelines(ids ...string) []PipelineConfiguration {
	state := s.state.Load()
	if state == nil {
		return nil
	}
	return PipelinesFromState(*state, ids...)
}

// Resolve determines the pipeline for req and applies its request
// processors, returning the transformed request bound to the pipeline.
// Priority: the request's inline definition, then its named pipeline,
// then the default pipeline shared by every targeted index.
func (s *Service) Resolve(ctx context.Context, req *search.Request) (*PipelinedRequest, error) {
	ctx, span := tracer.Start(ctx, "searchpipeline.Resolve")
	defer span.End()

	pipeline := NoopPipeline

	hasInline := req.Source != nil && req.Source.SearchPipeline != nil
	if hasInline && req.Pipeline != "" {
		return nil, errors.New("both named and inline search pipeline were specified; please specify only one")
	}

	if hasInline {
		adhoc, err := s.adhocPipeline(req.Source.SearchPipeline)
		if err != nil {
			return nil, &ProcessingError{PipelineID: AdHocPipelineID, Err: err}
		}
		pipeline = adhoc
	} else {
		pipelineID := req.Pipeline
		if pipelineID == "" {
			pipelineID = s.defaultPipelineForIndices(req.Indices)
		}
		if pipelineID != "" && pipelineID != NoopPipelineID {
			holder, ok := (*s.pipelines.Load())[pipelineID]
			if !ok {
				return nil, fmt.Errorf("pipeline [%s] is not defined: %w", pipelineID, ErrPipelineNotFound)
			}
			pipeline = holder.pipeline
		}
	}

	verbose := req.Source != nil && req.Source.Verbose
	if verbose && pipeline.ID() == NoopPipelineID {
		return nil, errors.New("the verbose pipeline option requires a search pipeline to be defined")
	}

	span.SetAttributes(attribute.String("pipeline_id", pipeline.ID()))

	pctx := NewProcessingContext(verbose)
	transformed, err := pipeline.TransformRequest(ctx, req, pctx)
	if err != nil {
		return nil, err
	}
	return &PipelinedRequest{Request: transformed, pipeline: pipeline, pctx: pctx}, nil
}

// defaultPipelineForIndices resolves the index default pipeline for the
// targeted indices. Every concrete index must agree on the same
// default; any disagreement, including indices without one, disables
// the default.
func (s *Service) defaultPipelineForIndices(expressions []string) string {
	if len(expressions) == 0 {
		return NoopPipelineID
	}
	state := s.state.Load()
	if state == nil {
		return NoopPipelineID
	}
	concrete, err := state.Metadata.ResolveIndices(expressions...)
	if err != nil {
		s.logger.Debug("default search pipeline not applied",
			zap.Strings("indices", expressions),
			zap.Error(err),
		)
		return NoopPipelineID
	}
	if len(concrete) == 0 {
		return NoopPipelineID
	}

	pipelineID := NoopPipelineID
	for i, name := range concrete {
		current := state.Metadata.Indices[name].Setting(IndexDefaultPipelineSetting)
		if current == "" {
			current = NoopPipelineID
		}
		if i == 0 {
			pipelineID = current
			continue
		}
		if pipelineID != current {
			return NoopPipelineID
		}
	}
	return pipelineID
}

// adhocPipeline builds, or fetches from cache, the pipeline defined
// inline in a request.
func (s *Service) adhocPipeline(definition map[string]any) (*Pipeline, error) {
	canonical, err := json.Marshal(definition)
	if err != nil {
		return nil, fmt.Errorf("encode inline pipeline definition: %w", err)
	}

	var key uint64
	if s.adhoc != nil {
		key = adhocCacheKey(canonical)
		if pipeline, ok := s.adhoc.get(key); ok {
			return pipeline, nil
		}
	}

	pipeline, err := newPipeline(AdHocPipelineID, definition, s.factories, newPipelineMetrics(), &s.metrics.totals, s.logger)
	if err != nil {
		return nil, err
	}
	if s.adhoc != nil {
		s.adhoc.put(key, pipeline)
	}
	return pipeline, nil
}

// Execute resolves the pipeline for req, runs the search through the
// configured searcher, and returns the transformed response.
func (s *Service) Execute(ctx context.Context, req *search.Request) (*search.Response, error) {
	ctx, span := tracer.Start(ctx, "searchpipeline.Execute")
	defer span.End()

	if s.searcher == nil {
		return nil, errors.New("no searcher configured")
	}
	pipelined, err := s.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := s.searcher.Search(ctx, pipelined.Request, pipelined)
	if err != nil {
		return nil, err
	}
	return pipelined.TransformResponse(ctx, resp)
}
