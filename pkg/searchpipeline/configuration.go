package searchpipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"sigs.k8s.io/yaml"

	"github.com/gannet-search/gannet/pkg/cluster"
)

// MetadataCustomName is the cluster state custom section holding the
// stored pipeline configurations.
const MetadataCustomName = "search_pipelines"

// Encoding identifies the serialization of a pipeline definition
// document.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingYAML Encoding = "yaml"
)

// PipelineConfiguration is the stored form of one pipeline definition:
// the raw document plus its id and encoding. The document is kept
// verbatim so that Get returns exactly what was put.
type PipelineConfiguration struct {
	ID       string   `json:"id"`
	Config   []byte   `json:"config"`
	Encoding Encoding `json:"encoding"`
}

// ConfigMap parses the definition document into a generic map. YAML
// documents are converted through JSON so both encodings produce the
// same value types.
func (c PipelineConfiguration) ConfigMap() (map[string]any, error) {
	var m map[string]any
	switch c.Encoding {
	case EncodingYAML:
		if err := yaml.Unmarshal(c.Config, &m); err != nil {
			return nil, fmt.Errorf("parse pipeline [%s] definition: %w", c.ID, err)
		}
	default:
		if err := json.Unmarshal(c.Config, &m); err != nil {
			return nil, fmt.Errorf("parse pipeline [%s] definition: %w", c.ID, err)
		}
	}
	return m, nil
}

// Equal reports whether two configurations define the same pipeline:
// the same id and the same parsed document, independent of encoding and
// formatting.
func (c PipelineConfiguration) Equal(other PipelineConfiguration) bool {
	if c.ID != other.ID {
		return false
	}
	m1, err1 := c.ConfigMap()
	m2, err2 := other.ConfigMap()
	if err1 != nil || err2 != nil {
		return c.Encoding == other.Encoding && bytes.Equal(c.Config, other.Config)
	}
	return reflect.DeepEqual(m1, m2)
}

// Metadata is the cluster state custom section that stores every
// pipeline configuration, keyed by id.
type Metadata struct {
	Pipelines map[string]PipelineConfiguration `json:"pipelines"`
}

var _ cluster.Custom = Metadata{}

func (Metadata) CustomName() string {
	return MetadataCustomName
}

func init() {
	cluster.RegisterCustom(MetadataCustomName, func(data []byte) (cluster.Custom, error) {
		var m Metadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s metadata: %w", MetadataCustomName, err)
		}
		return m, nil
	})
}

// MetadataFrom extracts the pipeline section from a cluster state. ok
// is false when the state has never stored one.
func MetadataFrom(state cluster.State) (Metadata, bool) {
	custom := state.Custom(MetadataCustomName)
	if custom == nil {
		return Metadata{}, false
	}
	m, ok := custom.(Metadata)
	return m, ok
}

// WithPipeline returns a copy of the metadata with the configuration
// inserted or replaced.
func (m Metadata) WithPipeline(config PipelineConfiguration) Metadata {
	pipelines := maps.Clone(m.Pipelines)
	if pipelines == nil {
		pipelines = map[string]PipelineConfiguration{}
	}
	pipelines[config.ID] = config
	return Metadata{Pipelines: pipelines}
}

// WithoutPipelines returns a copy of the metadata with the ids removed.
func (m Metadata) WithoutPipelines(ids ...string) Metadata {
	pipelines := maps.Clone(m.Pipelines)
	for _, id := range ids {
		delete(pipelines, id)
	}
	return Metadata{Pipelines: pipelines}
}

// Diff describes how the stored pipelines changed between two metadata
// versions.
type Diff struct {
	// Upserted holds the configurations that are new or whose parsed
	// document changed.
	Upserted map[string]PipelineConfiguration
	// Deleted holds the ids present before and absent now, sorted.
	Deleted []string
}

func (m Metadata) Diff(previous Metadata) Diff {
	d := Diff{Upserted: map[string]PipelineConfiguration{}}
	for id, config := range m.Pipelines {
		if prev, ok := previous.Pipelines[id]; !ok || !prev.Equal(config) {
			d.Upserted[id] = config
		}
	}
	for id := range previous.Pipelines {
		if _, ok := m.Pipelines[id]; !ok {
			d.Deleted = append(d.Deleted, id)
		}
	}
	slices.Sort(d.Deleted)
	return d
}
