package processors

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common"

	"github.com/gannet-search/gannet/pkg/searchpipeline"
)

var celBaseEnv *cel.Env

func init() {
	env, err := cel.NewEnv(cel.EagerlyValidateDeclarations(true))
	if err != nil {
		panic(fmt.Sprintf("failed to construct CEL base env: %v", err))
	}
	celBaseEnv = env
}

// compileExpression compiles source in an environment extended with the
// given variables. Compilation failures are reported as configuration
// errors on the property carrying the expression.
func compileExpression(processorType, tag, property, source string, vars ...cel.EnvOption) (cel.Program, *cel.Ast, error) {
	env, err := celBaseEnv.Extend(vars...)
	if err != nil {
		return nil, nil, &searchpipeline.ConfigurationError{
			ProcessorType: processorType,
			Tag:           tag,
			Property:      property,
			Reason:        fmt.Sprintf("failed to construct expression environment: %v", err),
		}
	}

	ast, issues := env.CompileSource(common.NewStringSource(source, processorType))
	if issues != nil {
		if err := issues.Err(); err != nil {
			return nil, nil, &searchpipeline.ConfigurationError{
				ProcessorType: processorType,
				Tag:           tag,
				Property:      property,
				Reason:        fmt.Sprintf("failed to compile expression: %v", err),
			}
		}
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, nil, &searchpipeline.ConfigurationError{
			ProcessorType: processorType,
			Tag:           tag,
			Property:      property,
			Reason:        fmt.Sprintf("expression construction: %v", err),
		}
	}

	return prg, ast, nil
}

func requireBoolOutput(processorType, tag, property string, ast *cel.Ast) error {
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return &searchpipeline.ConfigurationError{
			ProcessorType: processorType,
			Tag:           tag,
			Property:      property,
			Reason:        fmt.Sprintf("expected a bool expression output, but got '%s'", ast.OutputType()),
		}
	}
	return nil
}
