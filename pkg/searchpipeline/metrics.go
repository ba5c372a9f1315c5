package searchpipeline

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gannet-search/gannet/internal/build"
)

var (
	processorDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: build.ProjectName,
		Name:      "search_pipeline_processor_duration_seconds",
		Help:      "A histogram measuring the execution time of individual search pipeline processors.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"processor_type", "stage", "status"})

	pipelineExecutionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "search_pipeline_executions_total",
		Help:      "The total number of search pipeline stage executions.",
	}, []string{"stage", "status"})
)

const (
	stageRequest      = "request"
	stageResponse     = "response"
	stagePhaseResults = "phase_results"

	statusSuccess = "success"
	statusFailure = "failure"
)

// OperationMetrics counts executions of one timed operation. The zero
// value is ready to use. Counters are updated with atomics so the hot
// path never takes a lock.
type OperationMetrics struct {
	count    atomic.Int64
	failed   atomic.Int64
	current  atomic.Int64
	duration atomic.Int64
}

// Before marks an execution as started.
func (m *OperationMetrics) Before() {
	m.current.Add(1)
}

// After marks an execution as finished. It must be called exactly once
// per Before, whether the operation succeeded or not.
func (m *OperationMetrics) After(took time.Duration, success bool) {
	m.current.Add(-1)
	m.count.Add(1)
	m.duration.Add(int64(took))
	if !success {
		m.failed.Add(1)
	}
}

func (m *OperationMetrics) Stats() OperationStats {
	return OperationStats{
		Count:   m.count.Load(),
		Time:    time.Duration(m.duration.Load()),
		Current: m.current.Load(),
		Failed:  m.failed.Load(),
	}
}

// OperationStats is a point-in-time snapshot of one operation's
// counters.
type OperationStats struct {
	Count   int64         `json:"count"`
	Time    time.Duration `json:"time_in_nanos"`
	Current int64         `json:"current"`
	Failed  int64         `json:"failed"`
}

// operationTotals aggregates stage executions across every pipeline of
// a service, ad hoc pipelines included.
type operationTotals struct {
	request      OperationMetrics
	response     OperationMetrics
	phaseResults OperationMetrics
}

// pipelineMetrics holds the counters of one pipeline id. The service
// owns these by id, not by pipeline instance, so a rebuilt pipeline
// keeps counting where its predecessor stopped.
type pipelineMetrics struct {
	request      OperationMetrics
	response     OperationMetrics
	phaseResults OperationMetrics

	mu                 sync.RWMutex
	requestProcessors  map[string]*OperationMetrics
	responseProcessors map[string]*OperationMetrics
	phaseProcessors    map[string]*OperationMetrics
}

func newPipelineMetrics() *pipelineMetrics {
	return &pipelineMetrics{
		requestProcessors:  map[string]*OperationMetrics{},
		responseProcessors: map[string]*OperationMetrics{},
		phaseProcessors:    map[string]*OperationMetrics{},
	}
}

func (m *pipelineMetrics) requestProcessor(key string) *OperationMetrics {
	return m.processor(m.requestProcessors, key)
}

func (m *pipelineMetrics) responseProcessor(key string) *OperationMetrics {
	return m.processor(m.responseProcessors, key)
}

func (m *pipelineMetrics) phaseResultsProcessor(key string) *OperationMetrics {
	return m.processor(m.phaseProcessors, key)
}

func (m *pipelineMetrics) processor(processors map[string]*OperationMetrics, key string) *OperationMetrics {
	m.mu.RLock()
	om, ok := processors[key]
	m.mu.RUnlock()
	if ok {
		return om
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if om, ok := processors[key]; ok {
		return om
	}
	om = &OperationMetrics{}
	processors[key] = om
	return om
}

// prune drops the counters of processors that no longer exist after a
// pipeline was rebuilt from a changed configuration. Counters of
// surviving processors are untouched.
func (m *pipelineMetrics) prune(request, response, phaseResults map[string]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.DeleteFunc(m.requestProcessors, func(key string, _ *OperationMetrics) bool {
		_, keep := request[key]
		return !keep
	})
	maps.DeleteFunc(m.responseProcessors, func(key string, _ *OperationMetrics) bool {
		_, keep := response[key]
		return !keep
	})
	maps.DeleteFunc(m.phaseProcessors, func(key string, _ *OperationMetrics) bool {
		_, keep := phaseResults[key]
		return !keep
	})
}

// serviceMetrics is the metrics root of a service: process-wide totals
// plus the per-pipeline aggregates keyed by id.
type serviceMetrics struct {
	totals operationTotals

	mu        sync.Mutex
	pipelines map[string]*pipelineMetrics
}

func newServiceMetrics() *serviceMetrics {
	return &serviceMetrics{pipelines: map[string]*pipelineMetrics{}}
}

// pipeline returns the aggregate for id, creating it on first use. The
// same aggregate is handed to every rebuild of the pipeline.
func (s *serviceMetrics) pipeline(id string) *pipelineMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.pipelines[id]; ok {
		return m
	}
	m := newPipelineMetrics()
	s.pipelines[id] = m
	return m
}

func (s *serviceMetrics) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pipelines, id)
}

// processorKey identifies a processor instance within its pipeline:
// "type" alone, or "type:tag" when a tag is set.
func processorKey(p Processor) string {
	if tag := p.Tag(); tag != "" {
		return p.Type() + ":" + tag
	}
	return p.Type()
}

func statusLabel(success bool) string {
	if success {
		return statusSuccess
	}
	return statusFailure
}
