// Package value implements the tagged polymorphic value type every entry in
// the store carries (spec §3 "Value"), plus the VersionedValue envelope that
// attaches a monotonic version and a timestamp to it.
package value

import "fmt"

// Kind discriminates which variant of the tagged union a Value holds.
type Kind byte

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
)

// Value is a tagged union over null, boolean, signed 64-bit integer, 64-bit
// float, UTF-8 string, byte string, ordered sequence of Value, and mapping
// from string to Value. There is no implicit numeric coercion between Int
// and Float — callers compare Kind explicitly.
type Value struct {
	kind Kind

	b    bool
	i    int64
	f    float64
	s    string
	by   []byte
	list []Value
	m    map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps a signed 64-bit integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a 64-bit float.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a UTF-8 string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes wraps an opaque byte string. The slice is stored by reference;
// callers must not mutate it after passing it in.
func Bytes(b []byte) Value { return Value{kind: KindBytes, by: b} }

// List wraps an ordered sequence of Values.
func List(items []Value) Value { return Value{kind: KindList, list: items} }

// Map wraps a mapping from string to Value.
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns v's boolean payload and whether v was a KindBool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns v's integer payload and whether v was a KindInt. No
// coercion from KindFloat is performed.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns v's float payload and whether v was a KindFloat. No
// coercion from KindInt is performed.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsString returns v's string payload and whether v was a KindString.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsBytes returns v's byte-string payload and whether v was a KindBytes.
func (v Value) AsBytes() ([]byte, bool) { return v.by, v.kind == KindBytes }

// AsList returns v's list payload and whether v was a KindList.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsMap returns v's map payload and whether v was a KindMap.
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// Equal performs a structural, kind-aware comparison. Values of different
// Kind are never equal, even if the two variants happen to be numerically
// comparable (no implicit coercion, per §3).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindString:
		return a.s == b.s
	case KindBytes:
		if len(a.by) != len(b.by) {
			return false
		}
		for i := range a.by {
			if a.by[i] != b.by[i] {
				return false
			}
		}
		return true
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindBytes:
		return fmt.Sprintf("%x", v.by)
	case KindList:
		return fmt.Sprintf("%v", v.list)
	case KindMap:
		return fmt.Sprintf("%v", v.m)
	default:
		return "<invalid>"
	}
}
