// Package value defines the TypedValue payload carried on every edge: a
// closed set of scalar, struct, array, and enum kinds known at graph-build
// time, plus the validation and JSON codec every adapter and node shares.
package value

import (
	"fmt"
	"time"
)

// Kind identifies which field of a Value is populated. The set is closed;
// adding a new kind touches this file, Validate, and the JSON codec
// together, deliberately; nodes and adapters switch over it exhaustively.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindTimestamp
	KindDuration
	KindString
	KindStruct
	KindArray
	KindEnum
)

// String renders the kind name used in error messages and the wire format's
// type discriminator field.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindTimestamp:
		return "timestamp"
	case KindDuration:
		return "duration"
	case KindString:
		return "string"
	case KindStruct:
		return "struct"
	case KindArray:
		return "array"
	case KindEnum:
		return "enum"
	default:
		return "invalid"
	}
}

// Type names the logical type of a value: its Kind plus, for structs and
// enums, the symbolic name assigned at graph build. Two edges type-check
// against each other by comparing Type values, not Go types. Neither the
// scheduler nor the topology builder runs that comparison, so no
// TypeMismatch is raised when a graph is wired.
type Type struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name,omitempty"` // struct/enum symbolic name; empty for scalars
	Elem *Type  `json:"elem,omitempty"` // element type, set only when Kind == KindArray
}

// String renders a human-readable type signature, e.g. "struct:GPSFix" or
// "array<float64>".
func (t Type) String() string {
	switch t.Kind {
	case KindStruct, KindEnum:
		if t.Name != "" {
			return fmt.Sprintf("%s:%s", t.Kind, t.Name)
		}
		return t.Kind.String()
	case KindArray:
		if t.Elem != nil {
			return fmt.Sprintf("array<%s>", t.Elem.String())
		}
		return "array<?>"
	default:
		return t.Kind.String()
	}
}

// Equal reports whether two types are structurally identical. Struct and
// enum types compare by symbolic name only; field-level shape is the
// node kind's concern, not the edge's.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindStruct, KindEnum:
		return t.Name == o.Name
	case KindArray:
		if t.Elem == nil || o.Elem == nil {
			return t.Elem == o.Elem
		}
		return t.Elem.Equal(*o.Elem)
	default:
		return true
	}
}

// Field is one named member of a Struct value, ordered as declared;
// structs are ordered named field records, not maps.
type Field struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Value is the tagged-union payload carried by every edge. Exactly the
// field matching Kind is meaningful; the others are zero. Construct one
// with the Bool/Int64/.../Enum constructors rather than setting fields
// directly; they also set Kind.
type Value struct {
	Kind Kind

	boolVal    bool
	int64Val   int64
	floatVal   float64
	timeVal    time.Time
	durVal     time.Duration
	stringVal  string
	structName string
	structVal  []Field
	arrayVal   []Value
	enumName   string // symbolic enum type name
	enumTag    string // selected member
}

// Bool constructs a KindBool value.
func Bool(v bool) Value { return Value{Kind: KindBool, boolVal: v} }

// Int64 constructs a KindInt64 value.
func Int64(v int64) Value { return Value{Kind: KindInt64, int64Val: v} }

// Float64 constructs a KindFloat64 value.
func Float64(v float64) Value { return Value{Kind: KindFloat64, floatVal: v} }

// Timestamp constructs a KindTimestamp value.
func Timestamp(v time.Time) Value { return Value{Kind: KindTimestamp, timeVal: v} }

// Dur constructs a KindDuration value.
func Dur(v time.Duration) Value { return Value{Kind: KindDuration, durVal: v} }

// String constructs a KindString value.
func String(v string) Value { return Value{Kind: KindString, stringVal: v} }

// Struct constructs a KindStruct value from ordered fields. typeName is the
// symbolic struct type name used by Type.Equal for wiring checks.
func Struct(typeName string, fields ...Field) Value {
	return Value{Kind: KindStruct, structName: typeName, structVal: fields}
}

// Array constructs a KindArray value. Elements should share a single Type;
// Validate enforces homogeneity.
func Array(elems ...Value) Value { return Value{Kind: KindArray, arrayVal: elems} }

// Enum constructs a KindEnum value: typeName identifies the enum's
// declared Type.Name, tag is the selected member.
func Enum(typeName, tag string) Value {
	return Value{Kind: KindEnum, enumName: typeName, enumTag: tag}
}

// AsBool returns the bool payload. ok is false if Kind != KindBool.
func (v Value) AsBool() (bool, bool) { return v.boolVal, v.Kind == KindBool }

// AsInt64 returns the int64 payload. ok is false if Kind != KindInt64.
func (v Value) AsInt64() (int64, bool) { return v.int64Val, v.Kind == KindInt64 }

// AsFloat64 returns the float64 payload. ok is false if Kind != KindFloat64.
func (v Value) AsFloat64() (float64, bool) { return v.floatVal, v.Kind == KindFloat64 }

// AsTimestamp returns the time payload. ok is false if Kind != KindTimestamp.
func (v Value) AsTimestamp() (time.Time, bool) { return v.timeVal, v.Kind == KindTimestamp }

// AsDuration returns the duration payload. ok is false if Kind != KindDuration.
func (v Value) AsDuration() (time.Duration, bool) { return v.durVal, v.Kind == KindDuration }

// AsString returns the string payload. ok is false if Kind != KindString.
func (v Value) AsString() (string, bool) { return v.stringVal, v.Kind == KindString }

// AsStruct returns the ordered field list. ok is false if Kind != KindStruct.
func (v Value) AsStruct() ([]Field, bool) { return v.structVal, v.Kind == KindStruct }

// AsArray returns the element list. ok is false if Kind != KindArray.
func (v Value) AsArray() ([]Value, bool) { return v.arrayVal, v.Kind == KindArray }

// AsEnum returns the (typeName, tag) pair. ok is false if Kind != KindEnum.
func (v Value) AsEnum() (typeName, tag string, ok bool) {
	return v.enumName, v.enumTag, v.Kind == KindEnum
}

// Field looks up a struct field by name. ok is false if v is not a struct
// or has no field with that name.
func (v Value) Field(name string) (Value, bool) {
	for _, f := range v.structVal {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Validate checks internal consistency: struct field values and array
// element values validate recursively, arrays must be homogeneous in Kind,
// and enum values must carry a non-empty type name and tag. It does not
// check a value against a declared edge Type; that is TypeOf(v).Equal(t),
// which neither the topology builder nor edge.Buffer.Write performs.
func (v Value) Validate() error {
	switch v.Kind {
	case KindBool, KindInt64, KindFloat64, KindTimestamp, KindDuration, KindString:
		return nil
	case KindStruct:
		seen := make(map[string]struct{}, len(v.structVal))
		for _, f := range v.structVal {
			if f.Name == "" {
				return fmt.Errorf("value: struct field with empty name")
			}
			if _, dup := seen[f.Name]; dup {
				return fmt.Errorf("value: duplicate struct field %q", f.Name)
			}
			seen[f.Name] = struct{}{}
			if err := f.Value.Validate(); err != nil {
				return fmt.Errorf("value: field %q: %w", f.Name, err)
			}
		}
		return nil
	case KindArray:
		if len(v.arrayVal) == 0 {
			return nil
		}
		want := v.arrayVal[0].Kind
		for i, e := range v.arrayVal {
			if e.Kind != want {
				return fmt.Errorf("value: array element %d has kind %s, want %s", i, e.Kind, want)
			}
			if err := e.Validate(); err != nil {
				return fmt.Errorf("value: array element %d: %w", i, err)
			}
		}
		return nil
	case KindEnum:
		if v.enumName == "" || v.enumTag == "" {
			return fmt.Errorf("value: enum requires both type name and tag")
		}
		return nil
	default:
		return fmt.Errorf("value: invalid kind %d", v.Kind)
	}
}

// TypeOf derives the Type of a value. For arrays, the element type is taken
// from the first element (empty arrays yield a nil Elem and must be
// type-checked by the declared edge type instead).
func TypeOf(v Value) Type {
	switch v.Kind {
	case KindStruct:
		return Type{Kind: KindStruct, Name: v.structName}
	case KindArray:
		if len(v.arrayVal) == 0 {
			return Type{Kind: KindArray}
		}
		elem := TypeOf(v.arrayVal[0])
		return Type{Kind: KindArray, Elem: &elem}
	case KindEnum:
		return Type{Kind: KindEnum, Name: v.enumName}
	default:
		return Type{Kind: v.Kind}
	}
}
