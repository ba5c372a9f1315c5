package cluster

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/gannet-search/gannet/internal/concurrency"
)

const defaultGatherConcurrency = 8

// Node identifies one process participating in the cluster.
type Node struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// InfoClient reports one node's capability document of type T.
type InfoClient[T any] interface {
	Node() Node
	Info(ctx context.Context) (T, error)
}

// InfoClientFunc adapts a node and a function to the InfoClient interface.
type InfoClientFunc[T any] struct {
	ClientNode Node
	InfoFunc   func(ctx context.Context) (T, error)
}

func (c InfoClientFunc[T]) Node() Node {
	return c.ClientNode
}

func (c InfoClientFunc[T]) Info(ctx context.Context) (T, error) {
	return c.InfoFunc(ctx)
}

// InfoRegistry gathers the capability documents of every registered
// node. Gathering fans out on a bounded pool; concurrent gathers under
// administrative load collapse into one in-flight round.
type InfoRegistry[T any] struct {
	maxConcurrency int

	mu      sync.RWMutex
	clients map[string]InfoClient[T]

	group singleflight.Group
}

// InfoRegistryOpt configures an InfoRegistry.
type InfoRegistryOpt[T any] func(*InfoRegistry[T])

// WithGatherConcurrency bounds the number of nodes queried at once.
func WithGatherConcurrency[T any](n int) InfoRegistryOpt[T] {
	return func(r *InfoRegistry[T]) {
		r.maxConcurrency = n
	}
}

// NewInfoRegistry constructs an empty registry.
func NewInfoRegistry[T any](opts ...InfoRegistryOpt[T]) *InfoRegistry[T] {
	r := &InfoRegistry[T]{
		maxConcurrency: defaultGatherConcurrency,
		clients:        make(map[string]InfoClient[T]),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds or replaces the client for its node.
func (r *InfoRegistry[T]) Register(client InfoClient[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.Node().ID] = client
}

// Deregister removes the client registered for the node id.
func (r *InfoRegistry[T]) Deregister(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, nodeID)
}

// Nodes returns the registered nodes ordered by id.
func (r *InfoRegistry[T]) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]Node, 0, len(r.clients))
	for _, client := range r.clients {
		nodes = append(nodes, client.Node())
	}
	slices.SortFunc(nodes, func(a, b Node) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return nodes
}

// Gather returns the capability document of every registered node. One
// unreachable node fails the whole round.
func (r *InfoRegistry[T]) Gather(ctx context.Context) (map[Node]T, error) {
	v, err, _ := r.group.Do("gather", func() (interface{}, error) {
		r.mu.RLock()
		clients := make([]InfoClient[T], 0, len(r.clients))
		for _, client := range r.clients {
			clients = append(clients, client)
		}
		r.mu.RUnlock()

		var outMu sync.Mutex
		out := make(map[Node]T, len(clients))

		err := concurrency.ForEach(ctx, clients, r.maxConcurrency, func(ctx context.Context, client InfoClient[T]) error {
			info, err := client.Info(ctx)
			if err != nil {
				return fmt.Errorf("gather info from node [%s]: %w", client.Node().ID, err)
			}

			outMu.Lock()
			out[client.Node()] = info
			outMu.Unlock()
			return nil
		})
		if err != nil {
			return nil, err
		}

		return out, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(map[Node]T), nil
}
