package threadlet

import (
	"fmt"
	"iter"
	"strconv"
	"time"
)

// ValueKind is the closed set of types an attribute value can hold.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
	KindBool
	KindDuration
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindDuration:
		return "duration"
	default:
		return "unknown"
	}
}

// Value is a small tagged value stored in an attribute bag.
// The zero Value is the empty string.
type Value struct {
	kind ValueKind
	s    string
	n    int64
	f    float64
}

func StringValue(v string) Value          { return Value{kind: KindString, s: v} }
func IntValue(v int64) Value              { return Value{kind: KindInt, n: v} }
func FloatValue(v float64) Value          { return Value{kind: KindFloat, f: v} }
func DurationValue(v time.Duration) Value { return Value{kind: KindDuration, n: int64(v)} }
func BoolValue(v bool) Value {
	if v {
		return Value{kind: KindBool, n: 1}
	}
	return Value{kind: KindBool}
}

// AnyValue converts common Go types to a Value. Anything outside the closed
// set is stored as its fmt representation.
func AnyValue(v any) Value {
	switch x := v.(type) {
	case Value:
		return x
	case string:
		return StringValue(x)
	case int:
		return IntValue(int64(x))
	case int32:
		return IntValue(int64(x))
	case int64:
		return IntValue(x)
	case uint:
		return IntValue(int64(x))
	case uint32:
		return IntValue(int64(x))
	case float32:
		return FloatValue(float64(x))
	case float64:
		return FloatValue(x)
	case bool:
		return BoolValue(x)
	case time.Duration:
		return DurationValue(x)
	case nil:
		return Value{}
	default:
		return StringValue(fmt.Sprint(x))
	}
}

func (v Value) Kind() ValueKind { return v.kind }

// Int64 returns the integer value. Floats are truncated; other kinds yield 0.
func (v Value) Int64() int64 {
	switch v.kind {
	case KindInt, KindDuration, KindBool:
		return v.n
	case KindFloat:
		return int64(v.f)
	default:
		return 0
	}
}

func (v Value) Float64() float64 {
	switch v.kind {
	case KindFloat:
		return v.f
	case KindInt:
		return float64(v.n)
	case KindDuration:
		return time.Duration(v.n).Seconds()
	default:
		return 0
	}
}

func (v Value) Bool() bool {
	switch v.kind {
	case KindBool, KindInt:
		return v.n != 0
	case KindString:
		b, _ := strconv.ParseBool(v.s)
		return b
	default:
		return false
	}
}

func (v Value) Duration() time.Duration {
	switch v.kind {
	case KindDuration, KindInt:
		return time.Duration(v.n)
	case KindFloat:
		return time.Duration(v.f * float64(time.Second))
	case KindString:
		d, _ := time.ParseDuration(v.s)
		return d
	default:
		return 0
	}
}

// Any returns the value as a plain Go value.
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.n
	case KindFloat:
		return v.f
	case KindBool:
		return v.n != 0
	case KindDuration:
		return time.Duration(v.n)
	default:
		return v.s
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.n, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.n != 0)
	case KindDuration:
		return time.Duration(v.n).String()
	default:
		return ""
	}
}

// Attr is a key/value pair used to seed an attribute bag.
type Attr struct {
	Key   string
	Value Value
}

func String(k, v string) Attr                 { return Attr{Key: k, Value: StringValue(v)} }
func Int(k string, v int) Attr                { return Attr{Key: k, Value: IntValue(int64(v))} }
func Int64(k string, v int64) Attr            { return Attr{Key: k, Value: IntValue(v)} }
func Float64(k string, v float64) Attr        { return Attr{Key: k, Value: FloatValue(v)} }
func Bool(k string, v bool) Attr              { return Attr{Key: k, Value: BoolValue(v)} }
func Duration(k string, v time.Duration) Attr { return Attr{Key: k, Value: DurationValue(v)} }
func Any(k string, v any) Attr                { return Attr{Key: k, Value: AnyValue(v)} }

// Attrs is an insertion-ordered string-keyed bag attached to events and
// tasklets. It is not safe for concurrent use; it belongs to whichever
// goroutine currently owns the item (normally the run loop).
type Attrs struct {
	keys []string
	m    map[string]Value
}

func (a *Attrs) Len() int { return len(a.keys) }

func (a *Attrs) Has(key string) bool {
	_, ok := a.m[key]
	return ok
}

func (a *Attrs) Get(key string) (Value, bool) {
	v, ok := a.m[key]
	return v, ok
}

// Lookup is Get for callers that treat a missing key as a fault.
func (a *Attrs) Lookup(key string) (Value, error) {
	v, ok := a.m[key]
	if !ok {
		return Value{}, fmt.Errorf("%w: attribute %q", ErrNotFound, key)
	}
	return v, nil
}

func (a *Attrs) Set(key string, v Value) {
	if a.m == nil {
		a.m = make(map[string]Value)
	}
	if _, ok := a.m[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.m[key] = v
}

// Delete removes key and reports whether it was present.
func (a *Attrs) Delete(key string) bool {
	if _, ok := a.m[key]; !ok {
		return false
	}
	delete(a.m, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i], a.keys[i+1:]...)
			break
		}
	}
	return true
}

func (a *Attrs) Update(attrs ...Attr) {
	for _, at := range attrs {
		a.Set(at.Key, at.Value)
	}
}

func (a *Attrs) Keys() []string {
	return append([]string(nil), a.keys...)
}

// All iterates in insertion order.
func (a *Attrs) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		for _, k := range a.keys {
			if !yield(k, a.m[k]) {
				return
			}
		}
	}
}

// Map returns a copy with plain Go values, handy for logging and JSON.
func (a *Attrs) Map() map[string]any {
	out := make(map[string]any, len(a.keys))
	for _, k := range a.keys {
		out[k] = a.m[k].Any()
	}
	return out
}
