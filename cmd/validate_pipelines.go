package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"sigs.k8s.io/yaml"

	"github.com/gannet-search/gannet/pkg/searchpipeline"
	"github.com/gannet-search/gannet/pkg/searchpipeline/processors"
)

func NewValidatePipelinesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-pipelines <file> [file...]",
		Short: "Validate search pipeline definition files against the built-in processor registry",
		Long: `Build every pipeline definition in the given files against the built-in
processor registry and report the results. A definitions file is a JSON or
YAML object mapping pipeline ids to pipeline definitions.`,
		RunE: runValidatePipelines,
		Args: cobra.MinimumNArgs(1),
	}
}

// pipelineValidationResult is the outcome of building one definition.
type pipelineValidationResult struct {
	File  string `json:"file"`
	ID    string `json:"id"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func runValidatePipelines(cmd *cobra.Command, args []string) error {
	factories, err := searchpipeline.NewProcessorFactories(processors.Plugin{})
	if err != nil {
		return err
	}

	results := make([]pipelineValidationResult, 0)
	for _, file := range args {
		fileResults, err := validatePipelineFile(file, factories)
		if err != nil {
			return err
		}
		results = append(results, fileResults...)
	}

	// print validation results in json format to allow piping to other commands, e.g. jq
	marshalled, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("error gathering validation results: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(marshalled))

	return nil
}

// validatePipelineFile builds every definition in one file. Results keep
// the document order of the file.
func validatePipelineFile(file string, factories *searchpipeline.ProcessorFactories) ([]pipelineValidationResult, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline definitions from [%s]: %w", file, err)
	}

	// YAML documents pass through a JSON conversion so both encodings
	// produce the same value types.
	doc, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pipeline definitions in [%s]: %v", file, err)
	}
	parsed := gjson.ParseBytes(doc)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("pipeline definitions in [%s] must be an object keyed by pipeline id", file)
	}

	var results []pipelineValidationResult
	parsed.ForEach(func(key, value gjson.Result) bool {
		result := pipelineValidationResult{File: file, ID: key.String()}
		definition, ok := value.Value().(map[string]any)
		if !ok {
			result.Error = fmt.Sprintf("pipeline [%s] definition must be an object", key.String())
		} else if _, err := searchpipeline.BuildPipeline(key.String(), definition, factories); err != nil {
			result.Error = err.Error()
		} else {
			result.Valid = true
		}
		results = append(results, result)
		return true
	})
	return results, nil
}
