package value

import (
	"encoding/json"
	"fmt"
)

// wireValue is the tagged-wrapper shape a Value marshals to: the kind
// discriminator plus whichever field actually carries the payload. Structs
// and arrays nest wireValue recursively.
type wireValue struct {
	Kind  string      `json:"kind"`
	Bool  *bool       `json:"bool,omitempty"`
	Int   *int64      `json:"int,omitempty"`
	Float *float64    `json:"float,omitempty"`
	Time  *string     `json:"time,omitempty"` // RFC3339Nano
	Dur   *string     `json:"dur,omitempty"`  // time.Duration.String()
	Str   *string     `json:"str,omitempty"`
	Name  string      `json:"name,omitempty"` // struct/enum type name
	Tag   string      `json:"tag,omitempty"`  // enum member
	Struct []wireField `json:"struct,omitempty"`
	Array  []wireValue `json:"array,omitempty"`
}

type wireField struct {
	Name  string    `json:"name"`
	Value wireValue `json:"value"`
}

// MarshalJSON implements json.Marshaler with the tagged-union wire format
// described in wireValue.
func (v Value) MarshalJSON() ([]byte, error) {
	w, err := toWire(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func toWire(v Value) (wireValue, error) {
	w := wireValue{Kind: v.Kind.String()}
	switch v.Kind {
	case KindBool:
		w.Bool = &v.boolVal
	case KindInt64:
		w.Int = &v.int64Val
	case KindFloat64:
		w.Float = &v.floatVal
	case KindTimestamp:
		s := v.timeVal.Format(timeLayout)
		w.Time = &s
	case KindDuration:
		s := v.durVal.String()
		w.Dur = &s
	case KindString:
		w.Str = &v.stringVal
	case KindStruct:
		w.Name = v.structName
		w.Struct = make([]wireField, len(v.structVal))
		for i, f := range v.structVal {
			fw, err := toWire(f.Value)
			if err != nil {
				return wireValue{}, fmt.Errorf("value: marshal field %q: %w", f.Name, err)
			}
			w.Struct[i] = wireField{Name: f.Name, Value: fw}
		}
	case KindArray:
		w.Array = make([]wireValue, len(v.arrayVal))
		for i, e := range v.arrayVal {
			ew, err := toWire(e)
			if err != nil {
				return wireValue{}, fmt.Errorf("value: marshal array element %d: %w", i, err)
			}
			w.Array[i] = ew
		}
	case KindEnum:
		w.Name = v.enumName
		w.Tag = v.enumTag
	default:
		return wireValue{}, fmt.Errorf("value: cannot marshal invalid kind")
	}
	return w, nil
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

// UnmarshalJSON implements json.Unmarshaler, reconstructing a Value from
// the tagged-union wire format.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("value: unmarshal: %w", err)
	}
	out, err := fromWire(w)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func fromWire(w wireValue) (Value, error) {
	switch w.Kind {
	case "bool":
		if w.Bool == nil {
			return Value{}, fmt.Errorf("value: bool kind missing bool field")
		}
		return Bool(*w.Bool), nil
	case "int64":
		if w.Int == nil {
			return Value{}, fmt.Errorf("value: int64 kind missing int field")
		}
		return Int64(*w.Int), nil
	case "float64":
		if w.Float == nil {
			return Value{}, fmt.Errorf("value: float64 kind missing float field")
		}
		return Float64(*w.Float), nil
	case "timestamp":
		if w.Time == nil {
			return Value{}, fmt.Errorf("value: timestamp kind missing time field")
		}
		t, err := parseTime(*w.Time)
		if err != nil {
			return Value{}, fmt.Errorf("value: parse timestamp: %w", err)
		}
		return Timestamp(t), nil
	case "duration":
		if w.Dur == nil {
			return Value{}, fmt.Errorf("value: duration kind missing dur field")
		}
		d, err := parseDuration(*w.Dur)
		if err != nil {
			return Value{}, fmt.Errorf("value: parse duration: %w", err)
		}
		return Dur(d), nil
	case "string":
		if w.Str == nil {
			return Value{}, fmt.Errorf("value: string kind missing str field")
		}
		return String(*w.Str), nil
	case "struct":
		fields := make([]Field, len(w.Struct))
		for i, wf := range w.Struct {
			fv, err := fromWire(wf.Value)
			if err != nil {
				return Value{}, fmt.Errorf("value: unmarshal field %q: %w", wf.Name, err)
			}
			fields[i] = Field{Name: wf.Name, Value: fv}
		}
		return Struct(w.Name, fields...), nil
	case "array":
		elems := make([]Value, len(w.Array))
		for i, we := range w.Array {
			ev, err := fromWire(we)
			if err != nil {
				return Value{}, fmt.Errorf("value: unmarshal array element %d: %w", i, err)
			}
			elems[i] = ev
		}
		return Array(elems...), nil
	case "enum":
		return Enum(w.Name, w.Tag), nil
	default:
		return Value{}, fmt.Errorf("value: unknown wire kind %q", w.Kind)
	}
}
