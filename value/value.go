package value

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"time"
)

// Tag classifies a Value. Every value crossing the boundary carries exactly one tag.
type Tag uint8

const (
	TagAbsent Tag = iota
	TagBool
	TagInt
	TagFloat
	TagBigInt
	TagString
	TagInstant
	TagObject
	TagFunction
	TagPending
)

var tagNames = [...]string{
	TagAbsent:   "absent",
	TagBool:     "boolean",
	TagInt:      "number",
	TagFloat:    "float",
	TagBigInt:   "bigint",
	TagString:   "string",
	TagInstant:  "instant",
	TagObject:   "object",
	TagFunction: "function",
	TagPending:  "pending",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// Invoker is a callable the managed side can invoke.
type Invoker interface {
	Invoke(ctx context.Context, args []Value) (Value, error)
}

// Value is the tagged union exchanged across the boundary.
// The zero Value is Absent.
type Value struct {
	ref any
	big *big.Int
	t   time.Time
	s   string
	i   int64
	f   float64
	tag Tag
	b   bool
}

// Absent returns the absent value (undefined/null/void).
func Absent() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{tag: TagBool, b: b} }

// Int returns an exact-integer value.
func Int(i int64) Value { return Value{tag: TagInt, i: i} }

// Uint returns an exact-integer value, or a BigInt when u exceeds the int64 range.
func Uint(u uint64) Value {
	if u > math.MaxInt64 {
		return Value{tag: TagBigInt, big: new(big.Int).SetUint64(u)}
	}
	return Value{tag: TagInt, i: int64(u)}
}

// Float returns a floating-point value.
func Float(f float64) Value { return Value{tag: TagFloat, f: f} }

// BigInt returns an arbitrary-precision integer value. The argument is copied.
func BigInt(b *big.Int) Value {
	if b == nil {
		b = new(big.Int)
	}
	return Value{tag: TagBigInt, big: new(big.Int).Set(b)}
}

// String returns a text value.
func String(s string) Value { return Value{tag: TagString, s: s} }

// Instant returns a temporal value normalized to millisecond precision in UTC,
// the precision both sides represent exactly.
func Instant(t time.Time) Value {
	return Value{tag: TagInstant, t: time.UnixMilli(t.UnixMilli()).UTC()}
}

// Object returns an object reference. ref is a home object, a *handle.Proxy,
// or an opaque handle.Handle.
func Object(ref any) Value { return Value{tag: TagObject, ref: ref} }

// Function returns a function reference.
func Function(fn Invoker) Value { return Value{tag: TagFunction, ref: fn} }

// Pending returns a pending-operation reference.
func Pending(ref any) Value { return Value{tag: TagPending, ref: ref} }

// Tag returns the value's classification.
func (v Value) Tag() Tag { return v.tag }

// IsAbsent reports whether v is absent.
func (v Value) IsAbsent() bool { return v.tag == TagAbsent }

// AsBool returns the boolean payload.
func (v Value) AsBool() bool { return v.b }

// AsInt returns the exact-integer payload.
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the float payload. Exact integers are widened.
func (v Value) AsFloat() float64 {
	if v.tag == TagInt {
		return float64(v.i)
	}
	return v.f
}

// AsBigInt returns a copy of the integer payload as a big.Int.
// Exact integers are widened; other tags return nil.
func (v Value) AsBigInt() *big.Int {
	switch v.tag {
	case TagBigInt:
		return new(big.Int).Set(v.big)
	case TagInt:
		return big.NewInt(v.i)
	}
	return nil
}

// AsString returns the text payload.
func (v Value) AsString() string { return v.s }

// AsInstant returns the temporal payload.
func (v Value) AsInstant() time.Time { return v.t }

// Ref returns the object, function or pending payload.
func (v Value) Ref() any { return v.ref }

// AsInvoker returns the function payload.
func (v Value) AsInvoker() (Invoker, bool) {
	if v.tag != TagFunction {
		return nil, false
	}
	fn, ok := v.ref.(Invoker)
	return fn, ok
}

// Equal reports whether two values carry the same tag and payload.
// References compare by identity.
func Equal(a, b Value) bool {
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case TagAbsent:
		return true
	case TagBool:
		return a.b == b.b
	case TagInt:
		return a.i == b.i
	case TagFloat:
		return a.f == b.f || (math.IsNaN(a.f) && math.IsNaN(b.f))
	case TagBigInt:
		return a.big.Cmp(b.big) == 0
	case TagString:
		return a.s == b.s
	case TagInstant:
		return a.t.Equal(b.t)
	default:
		return SameRef(a.ref, b.ref)
	}
}

// SameRef reports whether two references denote the same instance.
// Non-comparable payloads compare by their underlying pointer.
func SameRef(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func:
		return va.Pointer() == vb.Pointer()
	}
	return false
}

func (v Value) String() string {
	switch v.tag {
	case TagAbsent:
		return "absent"
	case TagBool:
		return fmt.Sprintf("%t", v.b)
	case TagInt:
		return fmt.Sprintf("%d", v.i)
	case TagFloat:
		return fmt.Sprintf("%g", v.f)
	case TagBigInt:
		return v.big.String() + "n"
	case TagString:
		return fmt.Sprintf("%q", v.s)
	case TagInstant:
		return v.t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%s(%T)", v.tag, v.ref)
	}
}
