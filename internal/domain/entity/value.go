package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// ValueKind identifies the variant held by a Value.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueString
	ValueNumber
	ValueBool
	ValueDate
	ValueList
	ValueMap
)

var valueKindTags = map[ValueKind]string{
	ValueNull:   "null",
	ValueString: "str",
	ValueNumber: "num",
	ValueBool:   "bool",
	ValueDate:   "date",
	ValueList:   "list",
	ValueMap:    "map",
}

func (k ValueKind) String() string {
	if tag, ok := valueKindTags[k]; ok {
		return tag
	}
	return fmt.Sprintf("ValueKind(%d)", uint8(k))
}

// Value is one entry of an article's extra metadata: a string, number, boolean,
// date, list or string-keyed map. The zero Value is null.
//
// Values round-trip exactly through EncodeValue/DecodeValue, including nested
// lists and maps. Plain JSON (MarshalJSON/UnmarshalJSON) is used for ingestion
// input and API output and does not preserve the Date kind. Integers too large
// for a float64 keep their decimal digits through both codecs.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	// literal holds the digits of an integer that num only approximates
	literal string
	b       bool
	date    time.Time
	list    []Value
	m       map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{} }

// String returns a string Value.
func String(s string) Value { return Value{kind: ValueString, str: s} }

// Number returns a numeric Value.
func Number(f float64) Value { return Value{kind: ValueNumber, num: f} }

// NumberLiteral returns a numeric Value for a JSON number literal such as
// "12" or "9007199254740993". Integers that a float64 cannot hold keep their
// exact digits.
func NumberLiteral(s string) (Value, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("number %q: %w", s, err)
	}
	return Value{kind: ValueNumber, num: f, literal: inexactInteger(s, f)}, nil
}

// inexactInteger returns s when it is an integer literal that f does not
// represent exactly, and "" otherwise.
func inexactInteger(s string, f float64) string {
	if strings.ContainsAny(s, ".eE") || math.IsInf(f, 0) || math.IsNaN(f) {
		return ""
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return ""
	}
	approx, _ := big.NewFloat(f).Int(nil)
	if approx.Cmp(n) == 0 {
		return ""
	}
	return n.String()
}

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: ValueBool, b: b} }

// Date returns a date Value.
func Date(t time.Time) Value { return Value{kind: ValueDate, date: t} }

// List returns a list Value holding items in order.
func List(items ...Value) Value {
	return Value{kind: ValueList, list: append([]Value(nil), items...)}
}

// Map returns a map Value. The map is copied.
func Map(fields map[string]Value) Value {
	m := make(map[string]Value, len(fields))
	for k, v := range fields {
		m[k] = v
	}
	return Value{kind: ValueMap, m: m}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == ValueNull }

// Str returns the string held by v.
func (v Value) Str() (string, bool) { return v.str, v.kind == ValueString }

// Num returns the number held by v, rounded to the nearest float64.
func (v Value) Num() (float64, bool) { return v.num, v.kind == ValueNumber }

// Literal returns the exact decimal form of the number held by v.
func (v Value) Literal() (string, bool) {
	if v.kind != ValueNumber {
		return "", false
	}
	if v.literal != "" {
		return v.literal, true
	}
	return strconv.FormatFloat(v.num, 'g', -1, 64), true
}

// Boolean returns the boolean held by v.
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == ValueBool }

// Time returns the date held by v.
func (v Value) Time() (time.Time, bool) { return v.date, v.kind == ValueDate }

// Items returns the list elements of v, or nil when v is not a list.
func (v Value) Items() []Value {
	if v.kind != ValueList {
		return nil
	}
	return v.list
}

// Fields returns the map entries of v, or nil when v is not a map.
func (v Value) Fields() map[string]Value {
	if v.kind != ValueMap {
		return nil
	}
	return v.m
}

// Get looks up key in a map Value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != ValueMap {
		return Value{}, false
	}
	got, ok := v.m[key]
	return got, ok
}

// Equal reports deep equality. NaN numbers compare equal to each other and
// dates compare by instant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case ValueNull:
		return true
	case ValueString:
		return v.str == o.str
	case ValueNumber:
		if v.literal != "" || o.literal != "" {
			return v.literal == o.literal
		}
		if math.IsNaN(v.num) && math.IsNaN(o.num) {
			return true
		}
		return v.num == o.num
	case ValueBool:
		return v.b == o.b
	case ValueDate:
		return v.date.Equal(o.date)
	case ValueList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case ValueMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, a := range v.m {
			b, ok := o.m[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

/* ───────── tagged codec ───────── */

// wireValue is the tagged storage form of a Value.
type wireValue struct {
	T string               `json:"t"`
	S string               `json:"s,omitempty"`
	L []wireValue          `json:"l,omitempty"`
	M map[string]wireValue `json:"m,omitempty"`
}

func toWire(v Value) wireValue {
	w := wireValue{T: v.kind.String()}
	switch v.kind {
	case ValueString:
		w.S = v.str
	case ValueNumber:
		w.S, _ = v.Literal()
	case ValueBool:
		w.S = strconv.FormatBool(v.b)
	case ValueDate:
		w.S = v.date.Format(time.RFC3339Nano)
	case ValueList:
		w.L = make([]wireValue, len(v.list))
		for i, item := range v.list {
			w.L[i] = toWire(item)
		}
	case ValueMap:
		w.M = make(map[string]wireValue, len(v.m))
		for k, item := range v.m {
			w.M[k] = toWire(item)
		}
	}
	return w
}

func fromWire(w wireValue) (Value, error) {
	switch w.T {
	case "null":
		return Null(), nil
	case "str":
		return String(w.S), nil
	case "num":
		v, err := NumberLiteral(w.S)
		if err != nil {
			return Value{}, fmt.Errorf("decode %w", err)
		}
		return v, nil
	case "bool":
		b, err := strconv.ParseBool(w.S)
		if err != nil {
			return Value{}, fmt.Errorf("decode bool %q: %w", w.S, err)
		}
		return Bool(b), nil
	case "date":
		t, err := time.Parse(time.RFC3339Nano, w.S)
		if err != nil {
			return Value{}, fmt.Errorf("decode date %q: %w", w.S, err)
		}
		return Date(t), nil
	case "list":
		items := make([]Value, len(w.L))
		for i, item := range w.L {
			v, err := fromWire(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{kind: ValueList, list: items}, nil
	case "map":
		m := make(map[string]Value, len(w.M))
		for k, item := range w.M {
			v, err := fromWire(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Value{kind: ValueMap, m: m}, nil
	default:
		return Value{}, fmt.Errorf("decode value: unknown tag %q", w.T)
	}
}

// EncodeValue serializes v to its opaque storage string.
func EncodeValue(v Value) (string, error) {
	b, err := json.Marshal(toWire(v))
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(b), nil
}

// DecodeValue parses a string produced by EncodeValue.
func DecodeValue(s string) (Value, error) {
	var w wireValue
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}
	return fromWire(w)
}

// EncodeExtra serializes a record's extra fields. A nil or empty map encodes to "".
func EncodeExtra(extra map[string]Value) (string, error) {
	if len(extra) == 0 {
		return "", nil
	}
	return EncodeValue(Map(extra))
}

// DecodeExtra parses a string produced by EncodeExtra. "" decodes to nil.
func DecodeExtra(s string) (map[string]Value, error) {
	if s == "" {
		return nil, nil
	}
	v, err := DecodeValue(s)
	if err != nil {
		return nil, err
	}
	if v.kind != ValueMap {
		return nil, fmt.Errorf("decode extra: expected map, got %s", v.kind)
	}
	return v.m, nil
}

/* ───────── plain JSON ───────── */

// plainDateLayout is used for dates without a clock component.
const plainDateLayout = "2006-01-02"

// MarshalJSON renders v as ordinary JSON. Dates become strings, non-finite
// numbers become null.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.plain())
}

func (v Value) plain() any {
	switch v.kind {
	case ValueString:
		return v.str
	case ValueNumber:
		if v.literal != "" {
			return json.Number(v.literal)
		}
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return nil
		}
		return v.num
	case ValueBool:
		return v.b
	case ValueDate:
		if v.date.Equal(v.date.Truncate(24 * time.Hour)) {
			return v.date.UTC().Format(plainDateLayout)
		}
		return v.date.Format(time.RFC3339Nano)
	case ValueList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.plain()
		}
		return out
	case ValueMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.plain()
		}
		return out
	default:
		return nil
	}
}

// UnmarshalJSON reads ordinary JSON into v. Strings stay strings; no date
// detection is attempted.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts a decoded JSON tree (as produced by encoding/json) into a Value.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case float64:
		return Number(x), nil
	case int:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case json.Number:
		return NumberLiteral(x.String())
	case time.Time:
		return Date(x), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{kind: ValueList, list: items}, nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Value{kind: ValueMap, m: m}, nil
	default:
		return Value{}, fmt.Errorf("unsupported extra value type %T", raw)
	}
}

// ExtraEqual reports whether two extra maps hold equal values.
func ExtraEqual(a, b map[string]Value) bool {
	return Map(a).Equal(Map(b))
}
