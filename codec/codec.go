// Package codec converts between storage values and attribute values. The
// default codec normalizes driver output (text columns arriving as []byte,
// integers arriving as any width) into the Go value each attribute type
// declares, and encodes attribute values back into driver-friendly storage
// values.
package codec

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/syssam/loom/schema"
	"github.com/syssam/loom/schema/field"
)

// Codec is the default value codec. It is stateless and safe for
// concurrent use.
type Codec struct{}

// New returns the default codec.
func New() *Codec { return &Codec{} }

// Decode converts a raw storage value into the attribute's Go value. Nil
// stays nil regardless of type.
func (Codec) Decode(raw any, attr *schema.Attribute) (any, error) {
	if raw == nil {
		return nil, nil
	}
	// Drivers commonly hand text columns back as []byte.
	if b, ok := raw.([]byte); ok {
		switch attr.Type {
		case field.TypeBytes, field.TypeJSON, field.TypeUUID:
		default:
			raw = string(b)
		}
	}
	v, err := decodeTyped(raw, attr.Type)
	if err != nil {
		return nil, fmt.Errorf("codec: decoding %s value for %q: %w", attr.Type, attr.Name, err)
	}
	return v, nil
}

func decodeTyped(raw any, t field.Type) (any, error) {
	switch t {
	case field.TypeBool:
		return cast.ToBoolE(raw)
	case field.TypeInt:
		return cast.ToIntE(raw)
	case field.TypeInt64:
		return cast.ToInt64E(raw)
	case field.TypeFloat64:
		return cast.ToFloat64E(raw)
	case field.TypeString, field.TypeText, field.TypeEnum:
		return cast.ToStringE(raw)
	case field.TypeTime:
		return cast.ToTimeE(raw)
	case field.TypeUUID:
		switch v := raw.(type) {
		case uuid.UUID:
			return v, nil
		case [16]byte:
			return uuid.UUID(v), nil
		case []byte:
			if len(v) == 16 {
				return uuid.FromBytes(v)
			}
			return uuid.ParseBytes(v)
		default:
			return uuid.Parse(cast.ToString(raw))
		}
	case field.TypeDecimal:
		switch v := raw.(type) {
		case decimal.Decimal:
			return v, nil
		case float64:
			return decimal.NewFromFloat(v), nil
		case int64:
			return decimal.NewFromInt(v), nil
		default:
			return decimal.NewFromString(cast.ToString(raw))
		}
	case field.TypeJSON:
		var data []byte
		switch v := raw.(type) {
		case []byte:
			data = v
		case string:
			data = []byte(v)
		default:
			return raw, nil
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	case field.TypeBytes:
		switch v := raw.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
	}
	return raw, nil
}

// Encode converts an attribute value into a storage value. Nil stays nil.
func (Codec) Encode(v any, attr *schema.Attribute) (any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := encodeTyped(v, attr.Type)
	if err != nil {
		return nil, fmt.Errorf("codec: encoding %s value for %q: %w", attr.Type, attr.Name, err)
	}
	return out, nil
}

func encodeTyped(v any, t field.Type) (any, error) {
	switch t {
	case field.TypeBool:
		return cast.ToBoolE(v)
	case field.TypeInt, field.TypeInt64:
		return cast.ToInt64E(v)
	case field.TypeFloat64:
		return cast.ToFloat64E(v)
	case field.TypeString, field.TypeText, field.TypeEnum:
		return cast.ToStringE(v)
	case field.TypeTime:
		tv, err := cast.ToTimeE(v)
		if err != nil {
			return nil, err
		}
		return tv.UTC(), nil
	case field.TypeUUID:
		switch id := v.(type) {
		case uuid.UUID:
			return id.String(), nil
		default:
			parsed, err := uuid.Parse(cast.ToString(v))
			if err != nil {
				return nil, err
			}
			return parsed.String(), nil
		}
	case field.TypeDecimal:
		switch d := v.(type) {
		case decimal.Decimal:
			return d.String(), nil
		case float64:
			return decimal.NewFromFloat(d).String(), nil
		default:
			parsed, err := decimal.NewFromString(cast.ToString(v))
			if err != nil {
				return nil, err
			}
			return parsed.String(), nil
		}
	case field.TypeJSON:
		return json.Marshal(v)
	case field.TypeBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	}
	return v, nil
}

var _ interface {
	Decode(any, *schema.Attribute) (any, error)
	Encode(any, *schema.Attribute) (any, error)
} = Codec{}
