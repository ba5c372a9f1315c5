package processors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gannet-search/gannet/pkg/search"
	"github.com/gannet-search/gannet/pkg/searchpipeline"
)

func newScriptProcessor(t *testing.T, source string) searchpipeline.RequestProcessor {
	t.Helper()
	p, err := newScript("", "", false, map[string]any{"source": source})
	require.NoError(t, err)
	return p
}

func TestScript(t *testing.T) {
	ctx := context.Background()

	t.Run("mutates_size_and_from", func(t *testing.T) {
		p := newScriptProcessor(t, `{"size": size + 10, "from": 5}`)
		src := search.NewSource()
		src.Size = 10
		req := &search.Request{Source: src}

		transformed, err := p.ProcessRequest(ctx, req, searchpipeline.NewProcessingContext(false))
		require.NoError(t, err)
		require.Equal(t, 20, transformed.Source.Size)
		require.Equal(t, 5, transformed.Source.From)
	})

	t.Run("rewrites_the_query", func(t *testing.T) {
		p := newScriptProcessor(t, `{"query": {"term": {"tenant": "acme"}}}`)
		req := &search.Request{Source: search.NewSource()}

		transformed, err := p.ProcessRequest(ctx, req, searchpipeline.NewProcessingContext(false))
		require.NoError(t, err)
		require.Equal(t, map[string]any{"term": map[string]any{"tenant": "acme"}}, transformed.Source.Query)
	})

	t.Run("sees_indices_and_query", func(t *testing.T) {
		p := newScriptProcessor(t, `indices[0] == "logs" && "match" in query ? {"size": 1} : {"size": 2}`)
		src := search.NewSource()
		src.Query = map[string]any{"match": map[string]any{"title": "go"}}
		req := &search.Request{Indices: []string{"logs"}, Source: src}

		transformed, err := p.ProcessRequest(ctx, req, searchpipeline.NewProcessingContext(false))
		require.NoError(t, err)
		require.Equal(t, 1, transformed.Source.Size)
	})

	t.Run("reads_context_attributes", func(t *testing.T) {
		p := newScriptProcessor(t, `{"size": attributes["boost"]}`)
		pctx := searchpipeline.NewProcessingContext(false)
		pctx.SetAttribute("boost", 3)

		transformed, err := p.ProcessRequest(ctx, &search.Request{Source: search.NewSource()}, pctx)
		require.NoError(t, err)
		require.Equal(t, 3, transformed.Source.Size)
	})

	t.Run("empty_mutation_map_is_a_noop", func(t *testing.T) {
		p := newScriptProcessor(t, `{}`)
		src := search.NewSource()
		src.Size = 7
		req := &search.Request{Source: src}

		transformed, err := p.ProcessRequest(ctx, req, searchpipeline.NewProcessingContext(false))
		require.NoError(t, err)
		require.Equal(t, 7, transformed.Source.Size)
	})

	t.Run("does_not_mutate_the_original_request", func(t *testing.T) {
		p := newScriptProcessor(t, `{"size": 99}`)
		src := search.NewSource()
		src.Size = 7
		req := &search.Request{Source: src}

		_, err := p.ProcessRequest(ctx, req, searchpipeline.NewProcessingContext(false))
		require.NoError(t, err)
		require.Equal(t, 7, req.Source.Size)
	})

	t.Run("compile_error_is_a_configuration_error", func(t *testing.T) {
		_, err := newScript("tagged", "", false, map[string]any{"source": `{"size": siz +}`})
		require.Error(t, err)

		var confErr *searchpipeline.ConfigurationError
		require.ErrorAs(t, err, &confErr)
		require.Equal(t, ScriptType, confErr.ProcessorType)
		require.Equal(t, "tagged", confErr.Tag)
		require.Equal(t, "source", confErr.Property)
	})

	t.Run("non_map_output_is_rejected_at_build", func(t *testing.T) {
		_, err := newScript("", "", false, map[string]any{"source": `size`})
		require.Error(t, err)
		require.ErrorContains(t, err, "expected a map expression output")
	})

	t.Run("dynamic_non_map_output_fails_at_runtime", func(t *testing.T) {
		p := newScriptProcessor(t, `attributes["mut"]`)
		pctx := searchpipeline.NewProcessingContext(false)
		pctx.SetAttribute("mut", 7)

		_, err := p.ProcessRequest(ctx, &search.Request{Source: search.NewSource()}, pctx)
		require.Error(t, err)
		require.ErrorContains(t, err, "failed to convert script output to a map")
	})

	t.Run("evaluation_error_is_reported", func(t *testing.T) {
		p := newScriptProcessor(t, `attributes["missing"]`)

		_, err := p.ProcessRequest(ctx, &search.Request{Source: search.NewSource()}, searchpipeline.NewProcessingContext(false))
		require.Error(t, err)
		require.ErrorContains(t, err, "failed to evaluate script expression")
	})

	t.Run("unsupported_field_is_rejected", func(t *testing.T) {
		p := newScriptProcessor(t, `{"pipeline": "other"}`)

		_, err := p.ProcessRequest(ctx, &search.Request{Source: search.NewSource()}, searchpipeline.NewProcessingContext(false))
		require.Error(t, err)
		require.ErrorContains(t, err, "script returned an unsupported request field [pipeline]")
	})

	t.Run("non_integer_size_is_rejected", func(t *testing.T) {
		p := newScriptProcessor(t, `{"size": 1.5}`)

		_, err := p.ProcessRequest(ctx, &search.Request{Source: search.NewSource()}, searchpipeline.NewProcessingContext(false))
		require.Error(t, err)
		require.ErrorContains(t, err, "script set [size] to a non-integer value [1.5]")
	})

	t.Run("missing_source_property", func(t *testing.T) {
		_, err := newScript("", "", false, map[string]any{})
		require.Error(t, err)

		var confErr *searchpipeline.ConfigurationError
		require.ErrorAs(t, err, &confErr)
		require.Equal(t, "source", confErr.Property)
	})
}
