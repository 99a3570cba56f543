package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// OPAQUE VALUES
// =============================================================================

// OpaqueKind tags the variant held by an OpaqueValue.
type OpaqueKind int

const (
	OpaqueNull OpaqueKind = iota
	OpaqueBool
	OpaqueInt
	OpaqueFloat
	OpaqueString
	OpaqueArray
	OpaqueObject
)

// OpaqueValue is a tagged variant over primitives, arrays and objects. It
// carries pass-through context (episode context, language_specific fields)
// without committing the core contracts to any particular JSON library.
type OpaqueValue struct {
	kind OpaqueKind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []OpaqueValue
	obj  map[string]OpaqueValue
}

// Null returns the null value.
func Null() OpaqueValue { return OpaqueValue{kind: OpaqueNull} }

// Bool wraps a boolean.
func Bool(v bool) OpaqueValue { return OpaqueValue{kind: OpaqueBool, b: v} }

// Int wraps an integer.
func Int(v int64) OpaqueValue { return OpaqueValue{kind: OpaqueInt, i: v} }

// Float wraps a float.
func Float(v float64) OpaqueValue { return OpaqueValue{kind: OpaqueFloat, f: v} }

// String wraps a string.
func String(v string) OpaqueValue { return OpaqueValue{kind: OpaqueString, s: v} }

// Array wraps a slice of values.
func Array(vs ...OpaqueValue) OpaqueValue { return OpaqueValue{kind: OpaqueArray, arr: vs} }

// Object wraps a string-keyed map of values.
func Object(m map[string]OpaqueValue) OpaqueValue { return OpaqueValue{kind: OpaqueObject, obj: m} }

// Kind returns the variant tag.
func (v OpaqueValue) Kind() OpaqueKind { return v.kind }

// IsNull reports whether the value is null (including the zero value).
func (v OpaqueValue) IsNull() bool { return v.kind == OpaqueNull }

// AsBool returns the boolean payload.
func (v OpaqueValue) AsBool() (bool, bool) { return v.b, v.kind == OpaqueBool }

// AsInt returns the integer payload.
func (v OpaqueValue) AsInt() (int64, bool) { return v.i, v.kind == OpaqueInt }

// AsFloat returns the float payload; integers convert losslessly.
func (v OpaqueValue) AsFloat() (float64, bool) {
	switch v.kind {
	case OpaqueFloat:
		return v.f, true
	case OpaqueInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsString returns the string payload.
func (v OpaqueValue) AsString() (string, bool) { return v.s, v.kind == OpaqueString }

// AsArray returns the array payload.
func (v OpaqueValue) AsArray() ([]OpaqueValue, bool) { return v.arr, v.kind == OpaqueArray }

// AsObject returns the object payload.
func (v OpaqueValue) AsObject() (map[string]OpaqueValue, bool) { return v.obj, v.kind == OpaqueObject }

// Get returns the named field of an object value.
func (v OpaqueValue) Get(key string) (OpaqueValue, bool) {
	if v.kind != OpaqueObject {
		return OpaqueValue{}, false
	}
	ov, ok := v.obj[key]
	return ov, ok
}

// Equal reports structural equality.
func (v OpaqueValue) Equal(o OpaqueValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case OpaqueNull:
		return true
	case OpaqueBool:
		return v.b == o.b
	case OpaqueInt:
		return v.i == o.i
	case OpaqueFloat:
		return v.f == o.f
	case OpaqueString:
		return v.s == o.s
	case OpaqueArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for idx := range v.arr {
			if !v.arr[idx].Equal(o.arr[idx]) {
				return false
			}
		}
		return true
	case OpaqueObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, vv := range v.obj {
			ov, ok := o.obj[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders a compact debug representation.
func (v OpaqueValue) String() string {
	switch v.kind {
	case OpaqueNull:
		return "null"
	case OpaqueBool:
		return fmt.Sprintf("%t", v.b)
	case OpaqueInt:
		return fmt.Sprintf("%d", v.i)
	case OpaqueFloat:
		return fmt.Sprintf("%g", v.f)
	case OpaqueString:
		return fmt.Sprintf("%q", v.s)
	case OpaqueArray:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case OpaqueObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%q:%s", k, v.obj[k].String())
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	return "?"
}

// MarshalJSON implements json.Marshaler.
func (v OpaqueValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case OpaqueNull:
		return []byte("null"), nil
	case OpaqueBool:
		return json.Marshal(v.b)
	case OpaqueInt:
		return json.Marshal(v.i)
	case OpaqueFloat:
		return json.Marshal(v.f)
	case OpaqueString:
		return json.Marshal(v.s)
	case OpaqueArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case OpaqueObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	}
	return nil, fmt.Errorf("unknown opaque kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler. Numbers without a fractional
// part decode as integers so round-trips preserve the variant.
func (v *OpaqueValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := fromInterface(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromInterface(raw interface{}) (OpaqueValue, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil && !strings.ContainsAny(t.String(), ".eE") {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return OpaqueValue{}, err
		}
		return Float(f), nil
	case string:
		return String(t), nil
	case []interface{}:
		arr := make([]OpaqueValue, len(t))
		for i, e := range t {
			ov, err := fromInterface(e)
			if err != nil {
				return OpaqueValue{}, err
			}
			arr[i] = ov
		}
		return OpaqueValue{kind: OpaqueArray, arr: arr}, nil
	case map[string]interface{}:
		obj := make(map[string]OpaqueValue, len(t))
		for k, e := range t {
			ov, err := fromInterface(e)
			if err != nil {
				return OpaqueValue{}, err
			}
			obj[k] = ov
		}
		return OpaqueValue{kind: OpaqueObject, obj: obj}, nil
	}
	return OpaqueValue{}, fmt.Errorf("unsupported value type %T", raw)
}
