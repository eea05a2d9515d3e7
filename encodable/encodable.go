// Package encodable defines the closed set of value kinds that can cross
// the network boundary between the simulation and remote clients. Every
// value a Property exposes is representable as a Value, and the mapping is
// total and lossless for supported kinds.
package encodable

import (
	"fmt"
	"math"

	"github.com/openstarscape/starsync/errors"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	// KindNull is the absent value.
	KindNull Kind = iota
	// KindBool is a boolean.
	KindBool
	// KindInt is a 64-bit signed integer.
	KindInt
	// KindScalar is a 64-bit floating-point number.
	KindScalar
	// KindText is a UTF-8 string.
	KindText
	// KindList is an ordered collection of Values.
	KindList
	// KindVector is a 3-component spatial value (position, velocity).
	KindVector
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindScalar:
		return "scalar"
	case KindText:
		return "text"
	case KindList:
		return "list"
	case KindVector:
		return "vector"
	default:
		return "unknown"
	}
}

// Value is one immutable encodable value. The zero value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	vec  [3]float64
}

// Null returns the null Value.
func Null() Value {
	return Value{kind: KindNull}
}

// Bool wraps a boolean.
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// Int wraps a 64-bit integer.
func Int(i int64) Value {
	return Value{kind: KindInt, i: i}
}

// Scalar wraps a 64-bit float.
func Scalar(f float64) Value {
	return Value{kind: KindScalar, f: f}
}

// Text wraps a string.
func Text(s string) Value {
	return Value{kind: KindText, s: s}
}

// List wraps an ordered collection. The elements are copied so the caller
// cannot mutate the Value afterwards.
func List(elems ...Value) Value {
	copied := make([]Value, len(elems))
	copy(copied, elems)
	return Value{kind: KindList, list: copied}
}

// Vector wraps a 3-component spatial value.
func Vector(x, y, z float64) Value {
	return Value{kind: KindVector, vec: [3]float64{x, y, z}}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// AsBool returns the boolean, or ErrInvalidValue on kind mismatch.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, kindMismatch(KindBool, v.kind)
	}
	return v.b, nil
}

// AsInt returns the integer, or ErrInvalidValue on kind mismatch.
func (v Value) AsInt() (int64, error) {
	if v.kind != KindInt {
		return 0, kindMismatch(KindInt, v.kind)
	}
	return v.i, nil
}

// AsScalar returns the float. An Int coerces losslessly when it fits in the
// float64 mantissa; anything else is a mismatch.
func (v Value) AsScalar() (float64, error) {
	switch v.kind {
	case KindScalar:
		return v.f, nil
	case KindInt:
		if v.i > (1<<53) || v.i < -(1<<53) {
			return 0, kindMismatch(KindScalar, v.kind)
		}
		return float64(v.i), nil
	default:
		return 0, kindMismatch(KindScalar, v.kind)
	}
}

// AsText returns the string, or ErrInvalidValue on kind mismatch.
func (v Value) AsText() (string, error) {
	if v.kind != KindText {
		return "", kindMismatch(KindText, v.kind)
	}
	return v.s, nil
}

// AsList returns a copy of the elements, or ErrInvalidValue on mismatch.
func (v Value) AsList() ([]Value, error) {
	if v.kind != KindList {
		return nil, kindMismatch(KindList, v.kind)
	}
	copied := make([]Value, len(v.list))
	copy(copied, v.list)
	return copied, nil
}

// AsVector returns the 3 components. A 3-element list of numbers coerces,
// since vectors arrive from clients as plain arrays.
func (v Value) AsVector() ([3]float64, error) {
	switch v.kind {
	case KindVector:
		return v.vec, nil
	case KindList:
		if len(v.list) != 3 {
			return [3]float64{}, kindMismatch(KindVector, v.kind)
		}
		var out [3]float64
		for i, elem := range v.list {
			f, err := elem.AsScalar()
			if err != nil {
				return [3]float64{}, kindMismatch(KindVector, v.kind)
			}
			out[i] = f
		}
		return out, nil
	default:
		return [3]float64{}, kindMismatch(KindVector, v.kind)
	}
}

// Equal reports deep equality. NaN scalars never compare equal, matching
// float semantics.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindScalar:
		return v.f == other.f
	case KindText:
		return v.s == other.s
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindVector:
		return v.vec == other.vec
	default:
		return false
	}
}

// String renders the value for logging.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindScalar:
		return fmt.Sprintf("%g", v.f)
	case KindText:
		return fmt.Sprintf("%q", v.s)
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.list))
	case KindVector:
		return fmt.Sprintf("(%g, %g, %g)", v.vec[0], v.vec[1], v.vec[2])
	default:
		return "unknown"
	}
}

func kindMismatch(want, got Kind) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: want %s, got %s", errors.ErrInvalidValue, want, got),
		"Value", "As"+capitalize(want.String()), "kind check")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

// isIntegral reports whether f carries no fractional part and fits in
// int64. The upper bound is exclusive: math.MaxInt64 is not representable
// as a float64 and rounds up to exactly 2^63, so an inclusive comparison
// would let 2^63 through and the int64 conversion would wrap negative.
// Infinities fail the bounds and NaN fails the Trunc equality.
func isIntegral(f float64) bool {
	return f == math.Trunc(f) && f >= math.MinInt64 && f < 1<<63
}
