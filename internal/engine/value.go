package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

var errInvalidJSON = errors.New("engine: invalid json value")

type ValueType uint8

const (
	ValueNull ValueType = iota
	ValueNumber
	ValueText
	ValueBool
	ValueJSON
)

// Value is a dataset metric: a number, text, bool or an arbitrary JSON document.
type Value struct {
	typ  ValueType
	num  float64
	text string
	b    bool
	raw  json.RawMessage
}

func Null() Value { return Value{} }

// Number returns Null for NaN and infinities.
func Number(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}
	}
	return Value{typ: ValueNumber, num: f}
}

func Text(s string) Value { return Value{typ: ValueText, text: s} }

func Bool(b bool) Value { return Value{typ: ValueBool, b: b} }

// JSON wraps a raw document. Scalars are unwrapped into their typed variants.
func JSON(raw []byte) Value {
	var v Value
	if err := v.UnmarshalJSON(raw); err != nil {
		return Value{}
	}
	return v
}

// ValueOf converts a decoded JSON value (or a Go scalar) into a Value.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Value{}
	case Value:
		return t
	case string:
		return Text(t)
	case bool:
		return Bool(t)
	case json.RawMessage:
		return JSON(t)
	}
	if f, ok := ToNumber(x); ok {
		return Number(f)
	}
	raw, err := json.Marshal(x)
	if err != nil {
		return Value{}
	}
	return JSON(raw)
}

func (v Value) Type() ValueType { return v.typ }

func (v Value) IsNull() bool { return v.typ == ValueNull }

func (v Value) Float() (float64, bool) { return v.num, v.typ == ValueNumber }

func (v Value) String() string {
	switch v.typ {
	case ValueText:
		return v.text
	case ValueNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.b)
	case ValueJSON:
		return string(v.raw)
	}
	return ""
}

// Interface returns the plain Go representation used by encoding/json.
func (v Value) Interface() any {
	switch v.typ {
	case ValueNumber:
		return v.num
	case ValueText:
		return v.text
	case ValueBool:
		return v.b
	case ValueJSON:
		var out any
		if err := json.Unmarshal(v.raw, &out); err != nil {
			return nil
		}
		return out
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case ValueNumber:
		return json.Marshal(v.num)
	case ValueText:
		return json.Marshal(v.text)
	case ValueBool:
		return json.Marshal(v.b)
	case ValueJSON:
		var buf bytes.Buffer
		if err := json.Compact(&buf, v.raw); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '{', '[':
		raw, err := canonicalJSON(data)
		if err != nil {
			return err
		}
		*v = Value{typ: ValueJSON, raw: raw}
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return err
		}
		*v = Number(f)
	}
	return nil
}

// canonicalJSON re-encodes a document with sorted object keys and no
// insignificant whitespace. Numbers keep their literal text.
func canonicalJSON(data []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil || dec.More() {
		return nil, errInvalidJSON
	}
	return json.Marshal(doc)
}
