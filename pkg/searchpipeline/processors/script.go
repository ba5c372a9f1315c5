package processors

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"slices"

	"github.com/google/cel-go/cel"
	celtypes "github.com/google/cel-go/common/types"
	"golang.org/x/exp/maps"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/gannet-search/gannet/pkg/search"
	"github.com/gannet-search/gannet/pkg/searchpipeline"
)

// script evaluates a CEL expression against the request and applies the
// returned map of field mutations. The expression sees size, from,
// indices, query, and the attributes stored on the processing context
// by earlier processors. Unset size and from appear as -1; an absent
// query appears as an empty map.
type script struct {
	searchpipeline.Base
	program cel.Program
}

func newScript(tag, description string, ignoreFailure bool, config map[string]any) (searchpipeline.RequestProcessor, error) {
	source, err := searchpipeline.ReadString(ScriptType, tag, config, "source")
	if err != nil {
		return nil, err
	}

	prg, ast, err := compileExpression(ScriptType, tag, "source", source,
		cel.Variable("size", cel.IntType),
		cel.Variable("from", cel.IntType),
		cel.Variable("indices", cel.ListType(cel.StringType)),
		cel.Variable("query", cel.DynType),
		cel.Variable("attributes", cel.DynType),
	)
	if err != nil {
		return nil, err
	}
	if kind := ast.OutputType().Kind(); kind != celtypes.MapKind && kind != celtypes.DynKind {
		return nil, &searchpipeline.ConfigurationError{
			ProcessorType: ScriptType,
			Tag:           tag,
			Property:      "source",
			Reason:        fmt.Sprintf("expected a map expression output, but got '%s'", ast.OutputType()),
		}
	}

	return &script{
		Base:    searchpipeline.NewBase(tag, description, ignoreFailure),
		program: prg,
	}, nil
}

func (p *script) Type() string { return ScriptType }

func (p *script) ProcessRequest(_ context.Context, req *search.Request, pctx *searchpipeline.ProcessingContext) (*search.Request, error) {
	transformed := req.ShallowCopy()
	if transformed.Source == nil {
		transformed.Source = search.NewSource()
	}

	query := transformed.Source.Query
	if query == nil {
		query = map[string]any{}
	}
	activation := map[string]any{
		"size":       transformed.Source.Size,
		"from":       transformed.Source.From,
		"indices":    transformed.Indices,
		"query":      query,
		"attributes": pctx.Attributes(),
	}

	out, _, err := p.program.Eval(activation)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate script expression: %v", err)
	}
	// Conversion through a proto struct normalizes nested CEL values to
	// plain maps and JSON numbers.
	native, err := out.ConvertToNative(reflect.TypeOf(&structpb.Struct{}))
	if err != nil {
		return nil, fmt.Errorf("failed to convert script output to a map: %v", err)
	}
	mutations := native.(*structpb.Struct).AsMap()

	// Apply in key order so that a bad mutation is reported
	// deterministically.
	keys := maps.Keys(mutations)
	slices.Sort(keys)
	for _, key := range keys {
		value := mutations[key]
		switch key {
		case "size":
			size, err := mutationInt(key, value)
			if err != nil {
				return nil, err
			}
			transformed.Source.Size = size
		case "from":
			from, err := mutationInt(key, value)
			if err != nil {
				return nil, err
			}
			transformed.Source.From = from
		case "query":
			queryValue, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("script set [query] to a value of type [%T], expected a map", value)
			}
			transformed.Source.Query = queryValue
		default:
			return nil, fmt.Errorf("script returned an unsupported request field [%s]", key)
		}
	}

	return transformed, nil
}

func mutationInt(key string, value any) (int, error) {
	switch v := value.(type) {
	case int64:
		return int(v), nil
	case int:
		return v, nil
	case float64:
		if math.Trunc(v) != v {
			return 0, fmt.Errorf("script set [%s] to a non-integer value [%v]", key, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("script set [%s] to a value of type [%T], expected an int", key, value)
	}
}
