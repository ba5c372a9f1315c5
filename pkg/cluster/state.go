// Package cluster provides the replicated cluster state model and the
// coordination service that feature services build on: committed state
// snapshots, serialized state update tasks, and node capability info.
package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gannet-search/gannet/internal/utils"
)

// ErrIndexNotFound is returned when a concrete index name does not exist
// in the cluster metadata.
var ErrIndexNotFound = errors.New("index not found")

// State is one committed, immutable version of the cluster state.
// Holders never mutate it; updates produce a new value.
type State struct {
	Version  int64
	Blocks   Blocks
	Metadata Metadata
}

// Blocks carries cluster-wide operation gates.
type Blocks struct {
	// StateNotRecovered is set until the persisted state has been
	// loaded after startup. Appliers skip work while it is set.
	StateNotRecovered bool
}

// Metadata is the durable part of the cluster state.
type Metadata struct {
	Indices map[string]IndexMetadata
	Customs map[string]Custom
}

// IndexMetadata holds the settings of one index.
type IndexMetadata struct {
	Settings map[string]string `json:"settings,omitempty"`
}

// Setting returns the raw value of an index setting, or "" when unset.
func (im IndexMetadata) Setting(key string) string {
	return im.Settings[key]
}

// Custom is a named metadata section owned by a feature. Implementations
// must be JSON-marshalable and register a decoder via RegisterCustom.
type Custom interface {
	CustomName() string
}

// Custom returns the named custom section, or nil when absent.
func (s State) Custom(name string) Custom {
	return s.Metadata.Customs[name]
}

// WithCustom returns a copy of the state with the custom section
// replaced. The input state is left untouched.
func (s State) WithCustom(custom Custom) State {
	next := s
	next.Metadata.Customs = make(map[string]Custom, len(s.Metadata.Customs)+1)
	for name, c := range s.Metadata.Customs {
		next.Metadata.Customs[name] = c
	}
	next.Metadata.Customs[custom.CustomName()] = custom
	return next
}

// WithIndex returns a copy of the state with the index metadata replaced.
func (s State) WithIndex(name string, im IndexMetadata) State {
	next := s
	next.Metadata.Indices = make(map[string]IndexMetadata, len(s.Metadata.Indices)+1)
	for n, m := range s.Metadata.Indices {
		next.Metadata.Indices[n] = m
	}
	next.Metadata.Indices[name] = im
	return next
}

// ResolveIndices expands index expressions against the metadata, where
// '*' is the only wildcard. No expressions means all indices. A concrete
// name that does not exist yields ErrIndexNotFound; a wildcard matching
// nothing is allowed. The result is sorted and free of duplicates.
func (m Metadata) ResolveIndices(expressions ...string) ([]string, error) {
	if len(expressions) == 0 {
		expressions = []string{"*"}
	}

	seen := make(map[string]struct{})
	var concrete []string

	for _, expr := range expressions {
		if utils.IsSimpleMatchPattern(expr) {
			for name := range m.Indices {
				if _, ok := seen[name]; ok {
					continue
				}
				if utils.SimpleMatch(expr, name) {
					seen[name] = struct{}{}
					concrete = append(concrete, name)
				}
			}
			continue
		}

		if _, ok := m.Indices[expr]; !ok {
			return nil, fmt.Errorf("index [%s]: %w", expr, ErrIndexNotFound)
		}
		if _, ok := seen[expr]; !ok {
			seen[expr] = struct{}{}
			concrete = append(concrete, expr)
		}
	}

	slices.Sort(concrete)
	return concrete, nil
}

// stateDocument is the wire form of a State for persistence.
type stateDocument struct {
	Version int64                      `json:"version"`
	Indices map[string]IndexMetadata   `json:"indices,omitempty"`
	Customs map[string]json.RawMessage `json:"customs,omitempty"`
}

// CustomDecoder turns the serialized form of a custom section back into
// its typed value.
type CustomDecoder func(data []byte) (Custom, error)

var customDecoders sync.Map

// RegisterCustom registers the decoder for a named custom section.
// Feature packages register at init time; a duplicate name panics.
func RegisterCustom(name string, decode CustomDecoder) {
	if _, loaded := customDecoders.LoadOrStore(name, decode); loaded {
		panic(fmt.Sprintf("cluster state custom [%s] is already registered", name))
	}
}

// EncodeState serializes a state for persistence.
func EncodeState(s State) ([]byte, error) {
	doc := stateDocument{
		Version: s.Version,
		Indices: s.Metadata.Indices,
	}

	if len(s.Metadata.Customs) > 0 {
		doc.Customs = make(map[string]json.RawMessage, len(s.Metadata.Customs))
		for name, custom := range s.Metadata.Customs {
			raw, err := json.Marshal(custom)
			if err != nil {
				return nil, fmt.Errorf("encode cluster state custom [%s]: %w", name, err)
			}
			doc.Customs[name] = raw
		}
	}

	return json.Marshal(doc)
}

// DecodeState deserializes a persisted state, resolving custom sections
// through the registered decoders.
func DecodeState(data []byte) (State, error) {
	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return State{}, fmt.Errorf("decode cluster state: %w", err)
	}

	s := State{
		Version:  doc.Version,
		Metadata: Metadata{Indices: doc.Indices},
	}

	if len(doc.Customs) > 0 {
		s.Metadata.Customs = make(map[string]Custom, len(doc.Customs))
		for name, raw := range doc.Customs {
			decoder, ok := customDecoders.Load(name)
			if !ok {
				return State{}, fmt.Errorf("no decoder registered for cluster state custom [%s]", name)
			}
			custom, err := decoder.(CustomDecoder)(raw)
			if err != nil {
				return State{}, fmt.Errorf("decode cluster state custom [%s]: %w", name, err)
			}
			s.Metadata.Customs[name] = custom
		}
	}

	return s, nil
}
