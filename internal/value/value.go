// Package value implements the structured value exchanged between the
// controller and its agents, together with its text codec and the
// name=value block codec used for environment blocks and color tables.
package value

import (
	"math"
	"sort"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	// KindUnset is the zero Value. Storing it into an Object deletes the key.
	KindUnset Kind = iota
	KindNull
	KindBool
	KindInt
	KindDouble
	KindString
	KindArray
	KindObject
)

var kindNames = [...]string{
	KindUnset:  "unset",
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindDouble: "double",
	KindString: "string",
	KindArray:  "array",
	KindObject: "object",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is an immutable tagged value. The zero Value is unset.
//
// Collections are copied on the way in and on the way out, so a Value
// never aliases a slice or Object owned by a caller.
type Value struct {
	kind Kind
	b    bool
	i    int64
	d    float64
	s    string
	arr  []Value
	obj  Object
}

// NullValue returns the null value.
func NullValue() Value { return Value{kind: KindNull} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// IntValue wraps an integer.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// DoubleValue wraps a float.
func DoubleValue(d float64) Value { return Value{kind: KindDouble, d: d} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// ArrayValue wraps a copy of items.
func ArrayValue(items ...Value) Value {
	return Value{kind: KindArray, arr: append([]Value(nil), items...)}
}

// ObjectValue wraps a copy of o.
func ObjectValue(o Object) Value {
	return Value{kind: KindObject, obj: o.Clone()}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsUnset reports whether v is the zero Value.
func (v Value) IsUnset() bool { return v.kind == KindUnset }

// Bool returns the boolean payload, or false for other kinds.
func (v Value) Bool() bool { return v.kind == KindBool && v.b }

// Int returns the integer payload. Integral doubles are converted.
func (v Value) Int() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindDouble:
		if v.d == math.Trunc(v.d) && v.d >= math.MinInt64 && v.d <= math.MaxInt64 {
			return int64(v.d), true
		}
	}
	return 0, false
}

// Double returns the numeric payload as a float.
func (v Value) Double() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindDouble:
		return v.d, true
	}
	return 0, false
}

// Str returns the string payload, or "" for other kinds.
func (v Value) Str() string {
	if v.kind == KindString {
		return v.s
	}
	return ""
}

// Array returns a copy of the array payload.
func (v Value) Array() []Value {
	if v.kind != KindArray {
		return nil
	}
	return append([]Value(nil), v.arr...)
}

// Object returns a copy of the object payload. Non-objects yield an
// empty Object.
func (v Value) Object() Object {
	if v.kind != KindObject {
		return Object{}
	}
	return v.obj.Clone()
}

// Equal reports structural equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindUnset, KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindDouble:
		return v.d == o.d
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.obj.Equal(o.obj)
	}
	return false
}

// Object maps string keys to values. The zero Object is empty and ready
// to use. Objects are not safe for concurrent mutation.
type Object struct {
	m map[string]Value
}

// NewObject returns an empty Object.
func NewObject() Object { return Object{m: make(map[string]Value)} }

// Get returns the value stored at key, or Unset.
func (o Object) Get(key string) Value { return o.m[key] }

// Has reports whether key is present.
func (o Object) Has(key string) bool {
	_, ok := o.m[key]
	return ok
}

// Set stores v at key. Setting Unset removes the key.
func (o *Object) Set(key string, v Value) {
	if v.kind == KindUnset {
		delete(o.m, key)
		return
	}
	if o.m == nil {
		o.m = make(map[string]Value)
	}
	o.m[key] = v
}

// SetString is shorthand for Set(key, StringValue(s)).
func (o *Object) SetString(key, s string) { o.Set(key, StringValue(s)) }

// Delete removes key.
func (o *Object) Delete(key string) { delete(o.m, key) }

// Len returns the number of keys.
func (o Object) Len() int { return len(o.m) }

// Keys returns the keys in sorted order.
func (o Object) Keys() []string {
	keys := make([]string, 0, len(o.m))
	for k := range o.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetString returns the string stored at key, or "".
func (o Object) GetString(key string) string { return o.m[key].Str() }

// Child returns a copy of the object stored at key.
func (o Object) Child(key string) Object { return o.m[key].Object() }

// Clone returns a copy of o that shares no mutable state with it.
func (o Object) Clone() Object {
	if o.m == nil {
		return Object{}
	}
	c := Object{m: make(map[string]Value, len(o.m))}
	for k, v := range o.m {
		c.m[k] = v
	}
	return c
}

// Equal reports structural equality.
func (o Object) Equal(other Object) bool {
	if len(o.m) != len(other.m) {
		return false
	}
	for k, v := range o.m {
		ov, ok := other.m[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// StringMap returns the string-valued entries of o.
func (o Object) StringMap() map[string]string {
	out := make(map[string]string, len(o.m))
	for k, v := range o.m {
		if v.kind == KindString {
			out[k] = v.s
		}
	}
	return out
}

// FromStringMap builds an Object of string values.
func FromStringMap(m map[string]string) Object {
	o := Object{m: make(map[string]Value, len(m))}
	for k, v := range m {
		o.m[k] = StringValue(v)
	}
	return o
}
