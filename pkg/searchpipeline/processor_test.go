package searchpipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// overlapPlugin registers a request processor type that testPlugin
// already provides.
type overlapPlugin struct{}

func (overlapPlugin) RequestProcessors() map[string]RequestProcessorFactory {
	return map[string]RequestProcessorFactory{
		"set_size": func(tag, description string, ignoreFailure bool, config map[string]any) (RequestProcessor, error) {
			return &setSizeProcessor{Base: NewBase(tag, description, ignoreFailure)}, nil
		},
	}
}

func (overlapPlugin) ResponseProcessors() map[string]ResponseProcessorFactory {
	return nil
}

func (overlapPlugin) PhaseResultsProcessors() map[string]PhaseResultsProcessorFactory {
	return nil
}

func TestNewProcessorFactories(t *testing.T) {
	t.Run("merges_plugins", func(t *testing.T) {
		factories, err := NewProcessorFactories(testPlugin{})
		require.NoError(t, err)

		info := factories.Info()
		require.Equal(t, []string{"fail_request", "panic_request", "set_size"}, info.RequestProcessors)
		require.Equal(t, []string{"fail_response", "scale_scores"}, info.ResponseProcessors)
		require.Equal(t, []string{"double_scores", "fail_phase"}, info.PhaseResultsProcessors)
	})

	t.Run("duplicate_type_is_rejected", func(t *testing.T) {
		_, err := NewProcessorFactories(testPlugin{}, overlapPlugin{})
		require.Error(t, err)
		require.ErrorContains(t, err, "search processor [set_size] is already registered")
	})

	t.Run("no_plugins_is_an_empty_registry", func(t *testing.T) {
		factories, err := NewProcessorFactories()
		require.NoError(t, err)

		info := factories.Info()
		require.Empty(t, info.RequestProcessors)
		require.Empty(t, info.ResponseProcessors)
		require.Empty(t, info.PhaseResultsProcessors)
	})
}

func TestInfoContains(t *testing.T) {
	info := Info{
		RequestProcessors:      []string{"filter_query", "oversample"},
		ResponseProcessors:     []string{"truncate_hits"},
		PhaseResultsProcessors: []string{"normalize_scores"},
	}

	require.True(t, info.Contains(RequestProcessorsKey, "filter_query"))
	require.False(t, info.Contains(RequestProcessorsKey, "truncate_hits"))
	require.True(t, info.Contains(ResponseProcessorsKey, "truncate_hits"))
	require.True(t, info.Contains(PhaseResultsProcessorsKey, "normalize_scores"))
	require.False(t, info.Contains("bogus_section", "filter_query"))
}
