package searchpipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gannet-search/gannet/pkg/cluster"
	"github.com/gannet-search/gannet/pkg/logger"
	"github.com/gannet-search/gannet/pkg/search"
	"github.com/gannet-search/gannet/pkg/storage/memory"
)

// singlePhaseSearcher returns a canned response and records the request
// it received.
type singlePhaseSearcher struct {
	response *search.Response
	err      error

	mu      sync.Mutex
	lastReq *search.Request
}

func (s *singlePhaseSearcher) Search(_ context.Context, req *search.Request, _ search.PhaseTransformer) (*search.Response, error) {
	s.mu.Lock()
	s.lastReq = req
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.response.ShallowCopy(), nil
}

func (s *singlePhaseSearcher) received() *search.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReq
}

// twoPhaseSearcher drives the query to fetch transition through the
// transformer and builds hits from the transformed docs.
type twoPhaseSearcher struct{}

func (s *twoPhaseSearcher) Search(ctx context.Context, _ *search.Request, transformer search.PhaseTransformer) (*search.Response, error) {
	results := &search.PhaseResults{
		Results: []*search.QuerySearchResult{
			{ShardID: 0, Docs: []search.ScoreDoc{{Doc: 1, Score: 1}, {Doc: 2, Score: 2}}},
		},
	}
	if err := transformer.TransformPhaseResults(ctx, results, search.PhaseQuery, search.PhaseFetch); err != nil {
		return nil, err
	}

	resp := &search.Response{
		Hits: search.Hits{Total: &search.TotalHits{Relation: search.TotalHitsEqual}},
	}
	for _, shard := range results.Results {
		for _, doc := range shard.Docs {
			resp.Hits.Hits = append(resp.Hits.Hits, search.Hit{ID: fmt.Sprintf("doc-%d", doc.Doc), Score: doc.Score})
			if doc.Score > resp.Hits.MaxScore {
				resp.Hits.MaxScore = doc.Score
			}
		}
	}
	resp.Hits.Total.Value = int64(len(resp.Hits.Hits))
	return resp, nil
}

func cannedResponse() *search.Response {
	return &search.Response{
		Hits: search.Hits{
			Total:    &search.TotalHits{Value: 2, Relation: search.TotalHitsEqual},
			MaxScore: 2,
			Hits: []search.Hit{
				{ID: "1", Score: 2},
				{ID: "2", Score: 1},
			},
		},
	}
}

func newTestService(t *testing.T, opts ...ServiceOpt) (*Service, *cluster.LocalService) {
	t.Helper()
	clusterSvc := cluster.NewLocalService()

	svc, err := NewService(clusterSvc, testFactories(t), opts...)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	require.NoError(t, clusterSvc.Start(context.Background()))
	t.Cleanup(clusterSvc.Close)

	return svc, clusterSvc
}

func jsonConfig(id, body string) PipelineConfiguration {
	return PipelineConfiguration{ID: id, Config: []byte(body), Encoding: EncodingJSON}
}

func setSizeConfig(id string, size int) PipelineConfiguration {
	return jsonConfig(id, fmt.Sprintf(`{"request_processors":[{"set_size":{"size":%d}}]}`, size))
}

func putIndex(t *testing.T, clusterSvc *cluster.LocalService, name, defaultPipeline string) {
	t.Helper()
	key := clusterSvc.RegisterThrottlingKey("test-setup", false)
	err := clusterSvc.SubmitStateUpdateTask(context.Background(), "put-index-"+name, key, func(state cluster.State) (cluster.State, error) {
		im := cluster.IndexMetadata{}
		if defaultPipeline != "" {
			im.Settings = map[string]string{IndexDefaultPipelineSetting: defaultPipeline}
		}
		return state.WithIndex(name, im), nil
	})
	require.NoError(t, err)
}

func putRawConfig(t *testing.T, clusterSvc *cluster.LocalService, config PipelineConfiguration) {
	t.Helper()
	key := clusterSvc.RegisterThrottlingKey("test-setup", false)
	err := clusterSvc.SubmitStateUpdateTask(context.Background(), "put-raw-"+config.ID, key, func(state cluster.State) (cluster.State, error) {
		metadata, _ := MetadataFrom(state)
		return state.WithCustom(metadata.WithPipeline(config)), nil
	})
	require.NoError(t, err)
}

func TestPutPipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("stores_and_builds", func(t *testing.T) {
		svc, _ := newTestService(t)

		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p", 5)))

		stored := svc.GetPipelines()
		require.Len(t, stored, 1)
		require.Equal(t, "p", stored[0].ID)

		resolved, err := svc.Resolve(ctx, &search.Request{Pipeline: "p", Source: search.NewSource()})
		require.NoError(t, err)
		require.Equal(t, "p", resolved.PipelineID())
		require.Equal(t, 5, resolved.Source.Size)
	})

	t.Run("replaces_an_existing_pipeline", func(t *testing.T) {
		svc, _ := newTestService(t)

		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p", 5)))
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p", 9)))

		resolved, err := svc.Resolve(ctx, &search.Request{Pipeline: "p", Source: search.NewSource()})
		require.NoError(t, err)
		require.Equal(t, 9, resolved.Source.Size)
	})

	t.Run("accepts_a_512_byte_id", func(t *testing.T) {
		svc, _ := newTestService(t)
		id := strings.Repeat("a", 512)

		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig(id, 5)))
		require.Len(t, svc.GetPipelines(id), 1)
	})

	t.Run("rejects_a_513_byte_id", func(t *testing.T) {
		svc, _ := newTestService(t)
		id := strings.Repeat("a", 513)

		err := svc.PutPipeline(ctx, setSizeConfig(id, 5))
		require.Error(t, err)
		require.ErrorContains(t, err, "exceeds maximum length of 512 UTF-8 bytes (actual: 513 bytes)")
		require.Empty(t, svc.GetPipelines())
	})

	t.Run("id_length_counts_utf8_bytes_not_runes", func(t *testing.T) {
		svc, _ := newTestService(t)

		// Two bytes per rune: 256 runes fit, 257 do not.
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig(strings.Repeat("é", 256), 5)))

		err := svc.PutPipeline(ctx, setSizeConfig(strings.Repeat("é", 257), 5))
		require.Error(t, err)
		require.ErrorContains(t, err, "(actual: 514 bytes)")
	})

	t.Run("rejects_reserved_ids", func(t *testing.T) {
		svc, _ := newTestService(t)

		for _, id := range []string{NoopPipelineID, AdHocPipelineID} {
			err := svc.PutPipeline(ctx, setSizeConfig(id, 5))
			require.Error(t, err)
			require.ErrorContains(t, err, "is reserved")
		}
	})

	t.Run("rejects_unknown_processor_types", func(t *testing.T) {
		svc, _ := newTestService(t)

		err := svc.PutPipeline(ctx, jsonConfig("p", `{"request_processors":[{"nope":{}}]}`))
		require.Error(t, err)
		require.ErrorContains(t, err, "no processor type exists with name [nope]")
	})

	t.Run("rejects_unparseable_documents", func(t *testing.T) {
		svc, _ := newTestService(t)

		err := svc.PutPipeline(ctx, jsonConfig("p", `{`))
		require.Error(t, err)
		require.ErrorContains(t, err, "parse pipeline [p] definition")
	})

	t.Run("validates_against_every_node", func(t *testing.T) {
		registry := cluster.NewInfoRegistry[Info]()
		registry.Register(cluster.InfoClientFunc[Info]{
			ClientNode: cluster.Node{ID: "remote-1", Name: "remote"},
			InfoFunc: func(context.Context) (Info, error) {
				// The remote node has no processors installed.
				return Info{}, nil
			},
		})
		svc, _ := newTestService(t, WithInfoRegistry(registry))

		err := svc.PutPipeline(ctx, setSizeConfig("p", 5))
		require.Error(t, err)
		require.ErrorContains(t, err, "processor type [set_size] is not installed on node [remote-1]")
		require.Empty(t, svc.GetPipelines())
	})

	t.Run("fails_without_any_node_info", func(t *testing.T) {
		registry := cluster.NewInfoRegistry[Info]()
		svc, clusterSvc := newTestService(t, WithInfoRegistry(registry))
		registry.Deregister(clusterSvc.LocalNode().ID)

		err := svc.PutPipeline(ctx, setSizeConfig("p", 5))
		require.Error(t, err)
		require.ErrorContains(t, err, "search pipeline info is empty")
	})

	t.Run("concurrent_puts_all_commit", func(t *testing.T) {
		svc, _ := newTestService(t)

		const writers = 20
		errs := make(chan error, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				errs <- svc.PutPipeline(ctx, setSizeConfig(fmt.Sprintf("p-%02d", n), n+1))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		require.Len(t, svc.GetPipelines(), writers)
	})
}

func TestDeletePipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes_a_stored_pipeline", func(t *testing.T) {
		svc, _ := newTestService(t)
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p", 5)))

		require.NoError(t, svc.DeletePipeline(ctx, "p"))
		require.Empty(t, svc.GetPipelines())

		_, err := svc.Resolve(ctx, &search.Request{Pipeline: "p"})
		require.ErrorIs(t, err, ErrPipelineNotFound)
	})

	t.Run("wildcard_deletes_matching_ids", func(t *testing.T) {
		svc, _ := newTestService(t)
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("logs-1", 5)))
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("logs-2", 5)))
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("metrics-1", 5)))

		require.NoError(t, svc.DeletePipeline(ctx, "logs-*"))

		stored := svc.GetPipelines()
		require.Len(t, stored, 1)
		require.Equal(t, "metrics-1", stored[0].ID)
	})

	t.Run("match_all_on_empty_registry_is_a_noop", func(t *testing.T) {
		svc, _ := newTestService(t)

		require.NoError(t, svc.DeletePipeline(ctx, "*"))
	})

	t.Run("concrete_missing_id_errors", func(t *testing.T) {
		svc, _ := newTestService(t)

		err := svc.DeletePipeline(ctx, "ghost")
		require.ErrorIs(t, err, ErrPipelineNotFound)
		require.ErrorContains(t, err, "pipeline [ghost] is missing")
	})

	t.Run("wildcard_matching_nothing_errors", func(t *testing.T) {
		svc, _ := newTestService(t)
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p", 5)))

		err := svc.DeletePipeline(ctx, "nope-*")
		require.ErrorIs(t, err, ErrPipelineNotFound)
	})
}

func TestGetPipelines(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("logs-1", 1)))
	require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("logs-2", 2)))
	require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("metrics-1", 3)))

	t.Run("no_ids_returns_everything_sorted", func(t *testing.T) {
		stored := svc.GetPipelines()
		require.Len(t, stored, 3)
		require.Equal(t, "logs-1", stored[0].ID)
		require.Equal(t, "logs-2", stored[1].ID)
		require.Equal(t, "metrics-1", stored[2].ID)
	})

	t.Run("wildcard_filters", func(t *testing.T) {
		stored := svc.GetPipelines("logs-*")
		require.Len(t, stored, 2)
	})

	t.Run("missing_concrete_ids_are_omitted", func(t *testing.T) {
		stored := svc.GetPipelines("logs-1", "ghost")
		require.Len(t, stored, 1)
		require.Equal(t, "logs-1", stored[0].ID)
	})

	t.Run("duplicate_matches_collapse", func(t *testing.T) {
		stored := svc.GetPipelines("logs-1", "logs-*")
		require.Len(t, stored, 2)
	})
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("noop_when_nothing_is_specified", func(t *testing.T) {
		svc, _ := newTestService(t)
		req := &search.Request{Source: search.NewSource()}

		resolved, err := svc.Resolve(ctx, req)
		require.NoError(t, err)
		require.Equal(t, NoopPipelineID, resolved.PipelineID())
		require.Same(t, req, resolved.Request)
	})

	t.Run("unknown_named_pipeline_errors", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Resolve(ctx, &search.Request{Pipeline: "ghost"})
		require.ErrorIs(t, err, ErrPipelineNotFound)
		require.ErrorContains(t, err, "pipeline [ghost] is not defined")
	})

	t.Run("named_and_inline_conflict", func(t *testing.T) {
		svc, _ := newTestService(t)
		req := &search.Request{
			Pipeline: "p",
			Source:   &search.Source{SearchPipeline: map[string]any{}},
		}

		_, err := svc.Resolve(ctx, req)
		require.Error(t, err)
		require.ErrorContains(t, err, "both named and inline search pipeline were specified")
	})

	t.Run("inline_pipeline_applies", func(t *testing.T) {
		svc, _ := newTestService(t)
		req := &search.Request{
			Source: &search.Source{
				Size: -1,
				From: -1,
				SearchPipeline: map[string]any{
					"request_processors": []any{
						map[string]any{"set_size": map[string]any{"size": float64(42)}},
					},
				},
			},
		}

		resolved, err := svc.Resolve(ctx, req)
		require.NoError(t, err)
		require.Equal(t, AdHocPipelineID, resolved.PipelineID())
		require.Equal(t, 42, resolved.Source.Size)
	})

	t.Run("invalid_inline_pipeline_is_a_processing_error", func(t *testing.T) {
		svc, _ := newTestService(t)
		req := &search.Request{
			Source: &search.Source{
				SearchPipeline: map[string]any{
					"request_processors": []any{
						map[string]any{"nope": map[string]any{}},
					},
				},
			},
		}

		_, err := svc.Resolve(ctx, req)
		require.Error(t, err)

		var processingErr *ProcessingError
		require.ErrorAs(t, err, &processingErr)
		require.Equal(t, AdHocPipelineID, processingErr.PipelineID)
	})

	t.Run("verbose_without_a_pipeline_errors", func(t *testing.T) {
		svc, _ := newTestService(t)
		req := &search.Request{Source: &search.Source{Verbose: true}}

		_, err := svc.Resolve(ctx, req)
		require.Error(t, err)
		require.ErrorContains(t, err, "verbose pipeline")
	})
}

func TestResolveIndexDefaults(t *testing.T) {
	ctx := context.Background()

	t.Run("index_default_applies", func(t *testing.T) {
		svc, clusterSvc := newTestService(t)
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p", 5)))
		putIndex(t, clusterSvc, "logs", "p")

		resolved, err := svc.Resolve(ctx, &search.Request{Indices: []string{"logs"}, Source: search.NewSource()})
		require.NoError(t, err)
		require.Equal(t, "p", resolved.PipelineID())
		require.Equal(t, 5, resolved.Source.Size)
	})

	t.Run("agreeing_defaults_apply", func(t *testing.T) {
		svc, clusterSvc := newTestService(t)
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p", 5)))
		putIndex(t, clusterSvc, "logs-1", "p")
		putIndex(t, clusterSvc, "logs-2", "p")

		resolved, err := svc.Resolve(ctx, &search.Request{Indices: []string{"logs-*"}, Source: search.NewSource()})
		require.NoError(t, err)
		require.Equal(t, "p", resolved.PipelineID())
	})

	t.Run("conflicting_defaults_resolve_to_none", func(t *testing.T) {
		svc, clusterSvc := newTestService(t)
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p1", 5)))
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p2", 7)))
		putIndex(t, clusterSvc, "logs", "p1")
		putIndex(t, clusterSvc, "metrics", "p2")

		resolved, err := svc.Resolve(ctx, &search.Request{Indices: []string{"logs", "metrics"}, Source: search.NewSource()})
		require.NoError(t, err)
		require.Equal(t, NoopPipelineID, resolved.PipelineID())
	})

	t.Run("index_without_a_default_disables_the_rest", func(t *testing.T) {
		svc, clusterSvc := newTestService(t)
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p1", 5)))
		putIndex(t, clusterSvc, "logs", "p1")
		putIndex(t, clusterSvc, "events", "")

		resolved, err := svc.Resolve(ctx, &search.Request{Indices: []string{"logs", "events"}, Source: search.NewSource()})
		require.NoError(t, err)
		require.Equal(t, NoopPipelineID, resolved.PipelineID())
	})

	t.Run("named_none_bypasses_index_defaults", func(t *testing.T) {
		svc, clusterSvc := newTestService(t)
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p", 5)))
		putIndex(t, clusterSvc, "logs", "p")

		resolved, err := svc.Resolve(ctx, &search.Request{Indices: []string{"logs"}, Pipeline: NoopPipelineID, Source: search.NewSource()})
		require.NoError(t, err)
		require.Equal(t, NoopPipelineID, resolved.PipelineID())
		require.Equal(t, -1, resolved.Source.Size)
	})

	t.Run("unknown_index_resolves_to_none", func(t *testing.T) {
		svc, _ := newTestService(t)

		resolved, err := svc.Resolve(ctx, &search.Request{Indices: []string{"ghost"}, Source: search.NewSource()})
		require.NoError(t, err)
		require.Equal(t, NoopPipelineID, resolved.PipelineID())
	})

	t.Run("default_naming_a_missing_pipeline_errors", func(t *testing.T) {
		svc, clusterSvc := newTestService(t)
		putIndex(t, clusterSvc, "logs", "ghost")

		_, err := svc.Resolve(ctx, &search.Request{Indices: []string{"logs"}, Source: search.NewSource()})
		require.ErrorIs(t, err, ErrPipelineNotFound)
		require.ErrorContains(t, err, "pipeline [ghost] is not defined")
	})
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("transforms_request_and_response", func(t *testing.T) {
		searcher := &singlePhaseSearcher{response: cannedResponse()}
		svc, _ := newTestService(t, WithSearcher(searcher))
		require.NoError(t, svc.PutPipeline(ctx, jsonConfig("p", `{
			"request_processors": [{"set_size": {"size": 5}}],
			"response_processors": [{"scale_scores": {"factor": 2.0}}]
		}`)))

		resp, err := svc.Execute(ctx, &search.Request{Pipeline: "p", Source: search.NewSource()})
		require.NoError(t, err)

		require.Equal(t, 5, searcher.received().Source.Size)
		require.Equal(t, float64(4), resp.Hits.Hits[0].Score)
		require.Equal(t, float64(2), resp.Hits.Hits[1].Score)
		require.Equal(t, float64(4), resp.Hits.MaxScore)
	})

	t.Run("transforms_phase_results", func(t *testing.T) {
		svc, _ := newTestService(t, WithSearcher(&twoPhaseSearcher{}))
		require.NoError(t, svc.PutPipeline(ctx, jsonConfig("p", `{
			"phase_results_processors": [{"double_scores": {}}]
		}`)))

		resp, err := svc.Execute(ctx, &search.Request{Pipeline: "p", Source: search.NewSource()})
		require.NoError(t, err)

		require.Len(t, resp.Hits.Hits, 2)
		require.Equal(t, float64(2), resp.Hits.Hits[0].Score)
		require.Equal(t, float64(4), resp.Hits.Hits[1].Score)
	})

	t.Run("verbose_trace_is_attached_to_the_response", func(t *testing.T) {
		searcher := &singlePhaseSearcher{response: cannedResponse()}
		svc, _ := newTestService(t, WithSearcher(searcher))
		require.NoError(t, svc.PutPipeline(ctx, jsonConfig("p", `{
			"request_processors": [{"set_size": {"size": 5}}],
			"response_processors": [{"scale_scores": {"factor": 2.0}}]
		}`)))

		req := &search.Request{Pipeline: "p", Source: &search.Source{Size: -1, From: -1, Verbose: true}}
		resp, err := svc.Execute(ctx, req)
		require.NoError(t, err)

		trace, ok := resp.Ext[VerboseTraceExtKey].([]ProcessorExecutionDetail)
		require.True(t, ok)
		require.Len(t, trace, 2)
		require.Equal(t, "set_size", trace[0].ProcessorName)
		require.Equal(t, "scale_scores", trace[1].ProcessorName)
	})

	t.Run("no_searcher_configured", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Execute(ctx, &search.Request{})
		require.Error(t, err)
		require.ErrorContains(t, err, "no searcher configured")
	})

	t.Run("searcher_errors_propagate", func(t *testing.T) {
		searcher := &singlePhaseSearcher{err: errors.New("shard unavailable")}
		svc, _ := newTestService(t, WithSearcher(searcher))

		_, err := svc.Execute(ctx, &search.Request{})
		require.ErrorContains(t, err, "shard unavailable")
	})

	t.Run("response_stage_failure_is_a_processing_error", func(t *testing.T) {
		searcher := &singlePhaseSearcher{response: cannedResponse()}
		svc, _ := newTestService(t, WithSearcher(searcher))
		require.NoError(t, svc.PutPipeline(ctx, jsonConfig("p", `{
			"response_processors": [{"fail_response": {"message": "bad hit"}}]
		}`)))

		_, err := svc.Execute(ctx, &search.Request{Pipeline: "p"})
		require.Error(t, err)

		var processingErr *ProcessingError
		require.ErrorAs(t, err, &processingErr)
		require.Equal(t, "p", processingErr.PipelineID)
	})
}

func TestApplyClusterState(t *testing.T) {
	ctx := context.Background()

	t.Run("metrics_survive_configuration_changes", func(t *testing.T) {
		svc, _ := newTestService(t)
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p", 5)))

		_, err := svc.Resolve(ctx, &search.Request{Pipeline: "p", Source: search.NewSource()})
		require.NoError(t, err)

		// Changing the definition rebuilds the pipeline; the counters
		// keep going.
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p", 9)))

		resolved, err := svc.Resolve(ctx, &search.Request{Pipeline: "p", Source: search.NewSource()})
		require.NoError(t, err)
		require.Equal(t, 9, resolved.Source.Size)

		stats := svc.Stats()
		require.Len(t, stats.Pipelines, 1)
		require.Equal(t, int64(2), stats.Pipelines[0].Request.Count)
		require.Len(t, stats.Pipelines[0].RequestProcessors, 1)
		require.Equal(t, int64(2), stats.Pipelines[0].RequestProcessors[0].Stats.Count)
	})

	t.Run("deleting_a_pipeline_drops_its_metrics", func(t *testing.T) {
		svc, _ := newTestService(t)
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p", 5)))

		_, err := svc.Resolve(ctx, &search.Request{Pipeline: "p", Source: search.NewSource()})
		require.NoError(t, err)

		require.NoError(t, svc.DeletePipeline(ctx, "p"))
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p", 5)))

		stats := svc.Stats()
		require.Len(t, stats.Pipelines, 1)
		require.Equal(t, int64(0), stats.Pipelines[0].Request.Count)
	})

	t.Run("broken_update_keeps_the_previous_pipeline", func(t *testing.T) {
		log, logs := logger.NewObserverLogger("warn")
		clusterSvc := cluster.NewLocalService()
		svc, err := NewService(clusterSvc, testFactories(t), WithLogger(log))
		require.NoError(t, err)
		t.Cleanup(svc.Close)
		require.NoError(t, clusterSvc.Start(ctx))
		t.Cleanup(clusterSvc.Close)

		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p", 5)))

		// Store a definition that does not build, bypassing put
		// validation the way a peer with different plugins could.
		putRawConfig(t, clusterSvc, jsonConfig("p", `{"request_processors":[{"nope":{}}]}`))

		resolved, err := svc.Resolve(ctx, &search.Request{Pipeline: "p", Source: search.NewSource()})
		require.NoError(t, err)
		require.Equal(t, 5, resolved.Source.Size)

		var found bool
		for _, entry := range logs.All() {
			if entry.Message == "failed to update search pipelines" {
				found = true
			}
		}
		require.True(t, found)
	})

	t.Run("recovers_stored_pipelines_across_restarts", func(t *testing.T) {
		store := memory.New()

		first := cluster.NewLocalService(cluster.WithStateStore(store))
		firstSvc, err := NewService(first, testFactories(t))
		require.NoError(t, err)
		require.NoError(t, first.Start(ctx))
		require.NoError(t, firstSvc.PutPipeline(ctx, setSizeConfig("p", 5)))
		first.Close()
		firstSvc.Close()

		second := cluster.NewLocalService(cluster.WithStateStore(store))
		secondSvc, err := NewService(second, testFactories(t))
		require.NoError(t, err)
		t.Cleanup(secondSvc.Close)
		require.NoError(t, second.Start(ctx))
		t.Cleanup(second.Close)

		resolved, err := secondSvc.Resolve(ctx, &search.Request{Pipeline: "p", Source: search.NewSource()})
		require.NoError(t, err)
		require.Equal(t, 5, resolved.Source.Size)
	})
}

func TestAdHocPipelineCache(t *testing.T) {
	ctx := context.Background()

	inlineRequest := func() *search.Request {
		return &search.Request{
			Source: &search.Source{
				Size: -1,
				From: -1,
				SearchPipeline: map[string]any{
					"request_processors": []any{
						map[string]any{"set_size": map[string]any{"size": float64(3)}},
					},
				},
			},
		}
	}

	t.Run("equivalent_definitions_share_a_pipeline", func(t *testing.T) {
		svc, _ := newTestService(t)

		first, err := svc.Resolve(ctx, inlineRequest())
		require.NoError(t, err)
		second, err := svc.Resolve(ctx, inlineRequest())
		require.NoError(t, err)

		require.Same(t, first.pipeline, second.pipeline)
	})

	t.Run("different_definitions_build_different_pipelines", func(t *testing.T) {
		svc, _ := newTestService(t)

		first, err := svc.Resolve(ctx, inlineRequest())
		require.NoError(t, err)

		other := inlineRequest()
		other.Source.SearchPipeline = map[string]any{
			"request_processors": []any{
				map[string]any{"set_size": map[string]any{"size": float64(4)}},
			},
		}
		second, err := svc.Resolve(ctx, other)
		require.NoError(t, err)

		require.NotSame(t, first.pipeline, second.pipeline)
		require.Equal(t, 4, second.Source.Size)
	})

	t.Run("disabled_cache_rebuilds_every_time", func(t *testing.T) {
		svc, _ := newTestService(t, WithAdHocCacheSize(0))

		first, err := svc.Resolve(ctx, inlineRequest())
		require.NoError(t, err)
		second, err := svc.Resolve(ctx, inlineRequest())
		require.NoError(t, err)

		require.NotSame(t, first.pipeline, second.pipeline)
	})
}

func TestStats(t *testing.T) {
	ctx := context.Background()

	t.Run("empty_service", func(t *testing.T) {
		svc, _ := newTestService(t)

		stats := svc.Stats()
		require.Empty(t, stats.Pipelines)
		require.Equal(t, int64(0), stats.TotalRequest.Count)
	})

	t.Run("orders_pipelines_by_id", func(t *testing.T) {
		svc, _ := newTestService(t)
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("zulu", 1)))
		require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("alpha", 2)))

		stats := svc.Stats()
		require.Len(t, stats.Pipelines, 2)
		require.Equal(t, "alpha", stats.Pipelines[0].ID)
		require.Equal(t, "zulu", stats.Pipelines[1].ID)
	})

	t.Run("ad_hoc_executions_count_in_totals_only", func(t *testing.T) {
		svc, _ := newTestService(t)

		req := &search.Request{
			Source: &search.Source{
				Size: -1,
				From: -1,
				SearchPipeline: map[string]any{
					"request_processors": []any{
						map[string]any{"set_size": map[string]any{"size": float64(3)}},
					},
				},
			},
		}
		_, err := svc.Resolve(ctx, req)
		require.NoError(t, err)

		stats := svc.Stats()
		require.Empty(t, stats.Pipelines)
		require.Equal(t, int64(1), stats.TotalRequest.Count)
	})
}

func TestServiceInfo(t *testing.T) {
	svc, _ := newTestService(t)

	info := svc.Info()
	require.Contains(t, info.RequestProcessors, "set_size")
	require.Contains(t, info.ResponseProcessors, "scale_scores")
	require.Contains(t, info.PhaseResultsProcessors, "double_scores")
}

func TestServiceLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	clusterSvc := cluster.NewLocalService()
	svc, err := NewService(clusterSvc, testFactories(t), WithAdHocCacheSize(0))
	require.NoError(t, err)
	require.NoError(t, clusterSvc.Start(ctx))

	require.NoError(t, svc.PutPipeline(ctx, setSizeConfig("p", 5)))

	clusterSvc.Close()
	svc.Close()
}
