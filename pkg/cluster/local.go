package cluster

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/gannet-search/gannet/internal/build"
	"github.com/gannet-search/gannet/pkg/logger"
	"github.com/gannet-search/gannet/pkg/storage"
	"github.com/gannet-search/gannet/pkg/storage/memory"
)

const (
	defaultMaxPendingTasksPerKey = 64
	taskQueueSize                = 256
)

var (
	throttledTasksCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "cluster_state_tasks_throttled_total",
		Help:      "The total number of cluster state update tasks rejected because their throttling key had too many pending tasks.",
	}, []string{"key"})

	committedUpdatesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "cluster_state_updates_committed_total",
		Help:      "The total number of committed cluster state updates.",
	})
)

type stateUpdateTask struct {
	source string
	key    ThrottlingKey
	update func(State) (State, error)
	result chan error
}

// LocalService is the single-node implementation of [Service]: one
// executor goroutine serializes every state update, commits through a
// [storage.StateStore], and notifies appliers before acking the task.
type LocalService struct {
	logger     logger.Logger
	store      storage.StateStore
	localNode  Node
	maxPending int

	state atomic.Pointer[State]

	mu       sync.Mutex
	appliers []StateApplier
	pending  map[string]int

	tasks   chan *stateUpdateTask
	stopped chan struct{}
	done    chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

var _ Service = (*LocalService)(nil)

// LocalServiceOpt configures a LocalService.
type LocalServiceOpt func(*LocalService)

// WithLogger sets the logger. Defaults to a noop logger.
func WithLogger(l logger.Logger) LocalServiceOpt {
	return func(s *LocalService) {
		s.logger = l
	}
}

// WithStateStore sets the store committed states are persisted to.
// Defaults to an in-memory store. The service does not close the store.
func WithStateStore(store storage.StateStore) LocalServiceOpt {
	return func(s *LocalService) {
		s.store = store
	}
}

// WithLocalNode sets the node descriptor for this process.
func WithLocalNode(node Node) LocalServiceOpt {
	return func(s *LocalService) {
		s.localNode = node
	}
}

// WithMaxPendingTasksPerKey bounds the pending tasks per throttled key.
// Values <= 0 disable the bound.
func WithMaxPendingTasksPerKey(n int) LocalServiceOpt {
	return func(s *LocalService) {
		s.maxPending = n
	}
}

// NewLocalService constructs a LocalService. Call Start before
// submitting tasks and Close when done.
func NewLocalService(opts ...LocalServiceOpt) *LocalService {
	s := &LocalService{
		logger:     logger.NewNoopLogger(),
		store:      memory.New(),
		localNode:  Node{ID: ulid.Make().String(), Name: "local"},
		maxPending: defaultMaxPendingTasksPerKey,
		pending:    make(map[string]int),
		tasks:      make(chan *stateUpdateTask, taskQueueSize),
		stopped:    make(chan struct{}),
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	initial := State{Blocks: Blocks{StateNotRecovered: true}}
	s.state.Store(&initial)

	return s
}

// Start loads the persisted state, lifts the not-recovered block, and
// starts the task executor. Appliers registered before Start observe the
// recovery transition.
func (s *LocalService) Start(ctx context.Context) error {
	var startErr error

	s.startOnce.Do(func() {
		recovered := State{}

		doc, err := s.store.Load(ctx)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			startErr = fmt.Errorf("load persisted cluster state: %w", err)
			return
		default:
			recovered, err = DecodeState(doc.Body)
			if err != nil {
				startErr = fmt.Errorf("recover cluster state: %w", err)
				return
			}
		}

		previous := *s.state.Load()
		s.state.Store(&recovered)
		s.logger.Info("cluster state recovered", zap.Int64("version", recovered.Version))
		s.notifyAppliers(ChangedEvent{State: recovered, PreviousState: previous})

		s.started.Store(true)
		go s.run()
	})

	return startErr
}

// Close stops the executor and fails queued tasks. It does not close the
// state store.
func (s *LocalService) Close() {
	s.stopOnce.Do(func() {
		close(s.stopped)
	})
	if s.started.Load() {
		<-s.done
	}
}

// State implements Service.
func (s *LocalService) State() State {
	return *s.state.Load()
}

// LocalNode implements Service.
func (s *LocalService) LocalNode() Node {
	return s.localNode
}

// AddStateApplier implements Service.
func (s *LocalService) AddStateApplier(applier StateApplier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appliers = append(s.appliers, applier)
}

// RegisterThrottlingKey implements Service.
func (s *LocalService) RegisterThrottlingKey(name string, throttled bool) ThrottlingKey {
	return ThrottlingKey{name: name, throttled: throttled}
}

// SubmitStateUpdateTask implements Service.
func (s *LocalService) SubmitStateUpdateTask(ctx context.Context, source string, key ThrottlingKey, update func(State) (State, error)) error {
	if err := s.acquirePending(key); err != nil {
		throttledTasksCounter.WithLabelValues(key.name).Inc()
		return err
	}

	task := &stateUpdateTask{
		source: source,
		key:    key,
		update: update,
		result: make(chan error, 1),
	}

	select {
	case s.tasks <- task:
	case <-s.stopped:
		s.releasePending(key)
		return ErrServiceStopped
	case <-ctx.Done():
		s.releasePending(key)
		return ctx.Err()
	}

	select {
	case err := <-task.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		// The executor exited; a result delivered in the same instant
		// still wins.
		select {
		case err := <-task.result:
			return err
		default:
			return ErrServiceStopped
		}
	}
}

func (s *LocalService) acquirePending(key ThrottlingKey) error {
	if !key.throttled {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxPending > 0 && s.pending[key.name] >= s.maxPending {
		return &TooManyPendingTasksError{Key: key.name, Pending: s.pending[key.name], Limit: s.maxPending}
	}
	s.pending[key.name]++

	return nil
}

func (s *LocalService) releasePending(key ThrottlingKey) {
	if !key.throttled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[key.name]--
}

func (s *LocalService) run() {
	defer close(s.done)

	for {
		select {
		case <-s.stopped:
			for {
				select {
				case task := <-s.tasks:
					s.releasePending(task.key)
					task.result <- ErrServiceStopped
				default:
					return
				}
			}
		case task := <-s.tasks:
			s.runTask(task)
		}
	}
}

func (s *LocalService) runTask(task *stateUpdateTask) {
	defer s.releasePending(task.key)

	current := *s.state.Load()

	next, err := task.update(current)
	if err != nil {
		s.logger.Warn("cluster state update task failed",
			zap.String("source", task.source), zap.Error(err))
		task.result <- err
		return
	}

	if reflect.DeepEqual(next, current) {
		task.result <- nil
		return
	}

	next.Version = current.Version + 1

	body, err := EncodeState(next)
	if err != nil {
		task.result <- fmt.Errorf("encode cluster state: %w", err)
		return
	}

	// Persistence is not cut short when the submitter stops waiting.
	err = s.store.Save(context.Background(), &storage.StateDocument{
		Version: next.Version,
		Body:    body,
	})
	if err != nil {
		s.logger.Error("persist cluster state",
			zap.String("source", task.source), zap.Error(err))
		task.result <- fmt.Errorf("persist cluster state: %w", err)
		return
	}

	s.state.Store(&next)
	committedUpdatesCounter.Inc()
	s.notifyAppliers(ChangedEvent{State: next, PreviousState: current})

	task.result <- nil
}

func (s *LocalService) notifyAppliers(event ChangedEvent) {
	s.mu.Lock()
	appliers := slices.Clone(s.appliers)
	s.mu.Unlock()

	for _, applier := range appliers {
		applier.ApplyClusterState(event)
	}
}
