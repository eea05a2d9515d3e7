package encodable

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/openstarscape/starsync/errors"
)

// Encoding selects the wire codec for a transport. Stream transports carry
// JSON for debuggability; datagram transports carry CBOR to stay inside the
// payload ceiling.
type Encoding int

const (
	// EncodingJSON is the text codec used on reliable stream transports.
	EncodingJSON Encoding = iota
	// EncodingCBOR is the compact binary codec used on datagram transports.
	EncodingCBOR
)

// String returns the codec name.
func (e Encoding) String() string {
	switch e {
	case EncodingJSON:
		return "json"
	case EncodingCBOR:
		return "cbor"
	default:
		return "unknown"
	}
}

// Marshal serializes v with the selected codec.
func (e Encoding) Marshal(v any) ([]byte, error) {
	switch e {
	case EncodingJSON:
		return json.Marshal(v)
	case EncodingCBOR:
		return cbor.Marshal(v)
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown encoding %d", int(e)),
			"Encoding", "Marshal", "codec selection")
	}
}

// Unmarshal deserializes data with the selected codec.
func (e Encoding) Unmarshal(data []byte, v any) error {
	switch e {
	case EncodingJSON:
		return json.Unmarshal(data, v)
	case EncodingCBOR:
		return cbor.Unmarshal(data, v)
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown encoding %d", int(e)),
			"Encoding", "Unmarshal", "codec selection")
	}
}

// toInterface lowers a Value to the dynamic representation both codecs share.
func (v Value) toInterface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindScalar:
		return v.f
	case KindText:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, elem := range v.list {
			out[i] = elem.toInterface()
		}
		return out
	case KindVector:
		return []any{v.vec[0], v.vec[1], v.vec[2]}
	default:
		return nil
	}
}

// fromInterface lifts a decoded dynamic value into a Value. Numbers with no
// fractional part become Int so the round trip stays lossless; arrays become
// List (AsVector coerces 3-element numeric lists on demand).
func fromInterface(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case int64:
		return Int(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return Null(), errors.WrapInvalid(
				fmt.Errorf("%w: integer %d overflows int64", errors.ErrInvalidValue, x),
				"Value", "fromInterface", "integer range check")
		}
		return Int(int64(x)), nil
	case float64:
		if isIntegral(x) {
			return Int(int64(x)), nil
		}
		return Scalar(x), nil
	case string:
		return Text(x), nil
	case []any:
		elems := make([]Value, len(x))
		for i, e := range x {
			var err error
			if elems[i], err = fromInterface(e); err != nil {
				return Null(), err
			}
		}
		return Value{kind: KindList, list: elems}, nil
	default:
		return Null(), errors.WrapInvalid(
			fmt.Errorf("%w: unsupported wire type %T", errors.ErrInvalidValue, raw),
			"Value", "fromInterface", "type check")
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toInterface())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WrapInvalid(err, "Value", "UnmarshalJSON", "decode")
	}
	decoded, err := fromInterface(normalizeJSONNumbers(raw))
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// MarshalCBOR implements cbor.Marshaler.
func (v Value) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(v.toInterface())
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var raw any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return errors.WrapInvalid(err, "Value", "UnmarshalCBOR", "decode")
	}
	decoded, err := fromInterface(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// normalizeJSONNumbers leaves encoding/json's float64 numbers in place but
// recurses into arrays so nested values decode uniformly.
func normalizeJSONNumbers(raw any) any {
	if arr, ok := raw.([]any); ok {
		for i, e := range arr {
			arr[i] = normalizeJSONNumbers(e)
		}
	}
	return raw
}
