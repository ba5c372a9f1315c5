package searchpipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrPipelineNotFound is returned when an operation names a concrete
// pipeline id that is not stored in the cluster state.
var ErrPipelineNotFound = errors.New("pipeline not found")

// ConfigurationError reports an invalid pipeline or processor
// definition. It is returned while building pipelines, never while
// executing them.
type ConfigurationError struct {
	ProcessorType string
	Tag           string
	Property      string
	Reason        string
}

var _ error = (*ConfigurationError)(nil)

func newConfigurationError(processorType, tag, property, reason string) *ConfigurationError {
	return &ConfigurationError{
		ProcessorType: processorType,
		Tag:           tag,
		Property:      property,
		Reason:        reason,
	}
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	if e.ProcessorType != "" {
		b.WriteString("processor [")
		b.WriteString(e.ProcessorType)
		if e.Tag != "" {
			b.WriteString(":")
			b.WriteString(e.Tag)
		}
		b.WriteString("] ")
	}
	if e.Property != "" {
		b.WriteString("[")
		b.WriteString(e.Property)
		b.WriteString("] ")
	}
	b.WriteString(e.Reason)
	return b.String()
}

// ProcessingError reports a failure raised while a pipeline was
// executing. ProcessorType and Tag identify the failing processor when
// the failure happened inside one.
type ProcessingError struct {
	PipelineID    string
	ProcessorType string
	Tag           string
	Err           error
}

var _ error = (*ProcessingError)(nil)

func (e *ProcessingError) Error() string {
	var b strings.Builder
	b.WriteString("search pipeline [")
	b.WriteString(e.PipelineID)
	b.WriteString("]")
	if e.ProcessorType != "" {
		b.WriteString(" processor [")
		b.WriteString(e.ProcessorType)
		if e.Tag != "" {
			b.WriteString(":")
			b.WriteString(e.Tag)
		}
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func processingError(pipelineID string, processor Processor, err error) *ProcessingError {
	pe := &ProcessingError{PipelineID: pipelineID, Err: err}
	if processor != nil {
		pe.ProcessorType = processor.Type()
		pe.Tag = processor.Tag()
	}
	return pe
}

func unusedParametersError(kind, name string, config map[string]any) error {
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return fmt.Errorf("%s [%s] doesn't support one or more provided configuration parameters [%s]", kind, name, strings.Join(keys, ", "))
}
