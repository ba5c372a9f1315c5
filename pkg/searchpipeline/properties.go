package searchpipeline

import (
	"fmt"
	"math"
)

// The Read* helpers extract typed properties from a processor
// configuration, removing each key as it is consumed. Keys still
// present after a factory returns fail pipeline creation, so factories
// must read every parameter they accept through these helpers.

// ReadString extracts a required string property.
func ReadString(processorType, tag string, config map[string]any, property string) (string, error) {
	value, ok := config[property]
	delete(config, property)
	if !ok || value == nil {
		return "", newConfigurationError(processorType, tag, property, "required property is missing")
	}
	s, ok := value.(string)
	if !ok {
		return "", newConfigurationError(processorType, tag, property, fmt.Sprintf("property isn't a string, but of type [%T]", value))
	}
	return s, nil
}

// ReadOptionalString extracts a string property, returning "" when it
// is absent.
func ReadOptionalString(processorType, tag string, config map[string]any, property string) (string, error) {
	value, ok := config[property]
	delete(config, property)
	if !ok || value == nil {
		return "", nil
	}
	s, ok := value.(string)
	if !ok {
		return "", newConfigurationError(processorType, tag, property, fmt.Sprintf("property isn't a string, but of type [%T]", value))
	}
	return s, nil
}

// ReadBool extracts a bool property, returning defaultValue when it is
// absent.
func ReadBool(processorType, tag string, config map[string]any, property string, defaultValue bool) (bool, error) {
	value, ok := config[property]
	delete(config, property)
	if !ok || value == nil {
		return defaultValue, nil
	}
	b, ok := value.(bool)
	if !ok {
		return false, newConfigurationError(processorType, tag, property, fmt.Sprintf("property isn't a boolean, but of type [%T]", value))
	}
	return b, nil
}

// ReadInt extracts an integer property, returning defaultValue when it
// is absent. JSON and YAML decoding produce float64 numbers; integral
// values are accepted.
func ReadInt(processorType, tag string, config map[string]any, property string, defaultValue int) (int, error) {
	value, ok := config[property]
	delete(config, property)
	if !ok || value == nil {
		return defaultValue, nil
	}
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, newConfigurationError(processorType, tag, property, fmt.Sprintf("property [%v] cannot be converted to an int", v))
		}
		return int(v), nil
	default:
		return 0, newConfigurationError(processorType, tag, property, fmt.Sprintf("property [%v] cannot be converted to an int", value))
	}
}

// ReadFloat extracts a floating point property, returning defaultValue
// when it is absent.
func ReadFloat(processorType, tag string, config map[string]any, property string, defaultValue float64) (float64, error) {
	value, ok := config[property]
	delete(config, property)
	if !ok || value == nil {
		return defaultValue, nil
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, newConfigurationError(processorType, tag, property, fmt.Sprintf("property [%v] cannot be converted to a float", value))
	}
}

// ReadMap extracts a required object property.
func ReadMap(processorType, tag string, config map[string]any, property string) (map[string]any, error) {
	value, ok := config[property]
	delete(config, property)
	if !ok || value == nil {
		return nil, newConfigurationError(processorType, tag, property, "required property is missing")
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, newConfigurationError(processorType, tag, property, fmt.Sprintf("property isn't a map, but of type [%T]", value))
	}
	return m, nil
}

// ReadOptionalMap extracts an object property, returning nil when it is
// absent.
func ReadOptionalMap(processorType, tag string, config map[string]any, property string) (map[string]any, error) {
	value, ok := config[property]
	delete(config, property)
	if !ok || value == nil {
		return nil, nil
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, newConfigurationError(processorType, tag, property, fmt.Sprintf("property isn't a map, but of type [%T]", value))
	}
	return m, nil
}

// ReadOptionalStringSlice extracts a list-of-strings property,
// returning nil when it is absent.
func ReadOptionalStringSlice(processorType, tag string, config map[string]any, property string) ([]string, error) {
	value, ok := config[property]
	delete(config, property)
	if !ok || value == nil {
		return nil, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, newConfigurationError(processorType, tag, property, fmt.Sprintf("property isn't a list, but of type [%T]", value))
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, newConfigurationError(processorType, tag, property, fmt.Sprintf("property isn't a list of strings, it contains an element of type [%T]", item))
		}
		out = append(out, s)
	}
	return out, nil
}

// CheckUnusedParameters fails when the factory left keys it does not
// understand in the configuration.
func CheckUnusedParameters(processorType, tag string, config map[string]any) error {
	if len(config) == 0 {
		return nil
	}
	return unusedParametersError("processor", processorType, config)
}

// readOptionalList extracts a list property whose elements are objects,
// the shape of the request_processors, response_processors, and
// phase_results_processors sections.
func readOptionalList(config map[string]any, property string) ([]map[string]any, error) {
	value, ok := config[property]
	delete(config, property)
	if !ok || value == nil {
		return nil, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, newConfigurationError("", "", property, fmt.Sprintf("property isn't a list, but of type [%T]", value))
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, newConfigurationError("", "", property, fmt.Sprintf("property isn't a list of maps, it contains an element of type [%T]", item))
		}
		out = append(out, m)
	}
	return out, nil
}
