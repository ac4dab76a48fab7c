package graphspec

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/c360/csp/errors"
	"github.com/c360/csp/value"
)

// parseType parses a type signature as rendered by value.Type.String:
// "bool", "int64", "float64", "timestamp", "duration", "string",
// "struct:Name", "enum:Name", or "array<elem>" with elem itself a type
// signature. This is the declarative document's type syntax; the
// document names types by this string, not by a nested JSON Schema
// object, since every Type value already has exactly this rendering.
func parseType(s string) (value.Type, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "bool":
		return value.Type{Kind: value.KindBool}, nil
	case s == "int64":
		return value.Type{Kind: value.KindInt64}, nil
	case s == "float64":
		return value.Type{Kind: value.KindFloat64}, nil
	case s == "timestamp":
		return value.Type{Kind: value.KindTimestamp}, nil
	case s == "duration":
		return value.Type{Kind: value.KindDuration}, nil
	case s == "string":
		return value.Type{Kind: value.KindString}, nil
	case strings.HasPrefix(s, "struct:"):
		return value.Type{Kind: value.KindStruct, Name: strings.TrimPrefix(s, "struct:")}, nil
	case strings.HasPrefix(s, "enum:"):
		return value.Type{Kind: value.KindEnum, Name: strings.TrimPrefix(s, "enum:")}, nil
	case strings.HasPrefix(s, "array<") && strings.HasSuffix(s, ">"):
		inner := s[len("array<") : len(s)-1]
		elem, err := parseType(inner)
		if err != nil {
			return value.Type{}, err
		}
		return value.Type{Kind: value.KindArray, Elem: &elem}, nil
	default:
		return value.Type{}, errors.WrapInvalid(fmt.Errorf("unrecognized type signature %q", s),
			"graphspec", "parseType", "edge type parsing")
	}
}

// configToValue converts a YAML-decoded config document (already a plain
// map[string]any/[]any/scalar tree, per yaml.v3's default unmarshal into
// any) into a value.Value struct, the form node.Registry.Create's factory
// functions receive. nil becomes the zero Value (KindInvalid), matching a
// node kind with no configuration.
func configToValue(doc any) (value.Value, error) {
	switch v := doc.(type) {
	case nil:
		return value.Value{}, nil
	case bool:
		return value.Bool(v), nil
	case int:
		return value.Int64(int64(v)), nil
	case int64:
		return value.Int64(v), nil
	case float64:
		return value.Float64(v), nil
	case string:
		return value.String(v), nil
	case time.Time:
		return value.Timestamp(v), nil
	case []any:
		elems := make([]value.Value, len(v))
		for i, e := range v {
			cv, err := configToValue(e)
			if err != nil {
				return value.Value{}, err
			}
			elems[i] = cv
		}
		return value.Array(elems...), nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys) // deterministic field order for a map-sourced struct
		fields := make([]value.Field, 0, len(keys))
		for _, k := range keys {
			cv, err := configToValue(v[k])
			if err != nil {
				return value.Value{}, err
			}
			fields = append(fields, value.Field{Name: k, Value: cv})
		}
		return value.Struct("", fields...), nil
	default:
		return value.Value{}, errors.WrapInvalid(fmt.Errorf("unsupported config value type %T", v),
			"graphspec", "configToValue", "node/adapter config conversion")
	}
}
