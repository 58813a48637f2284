package model

import (
	"fmt"
	"math/big"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// OperID is the protocol-assigned operation handle. It is the primary key
// of the operations collection and, per spec.md section 9, must parse
// identically whether it arrives as a 0x-prefixed hex string or as a plain
// integer - both forms are seen across the queue contract's event ABIs.
type OperID struct {
	v *big.Int
}

// ParseOperID accepts an OperID, a *big.Int, a decimal string, a
// 0x-prefixed hex string, a json.Number (or other fmt.Stringer), an int,
// int64 or uint64, or an integral float64, and returns the canonical
// OperID. Other integer types are rejected.
func ParseOperID(raw interface{}) (OperID, error) {
	switch t := raw.(type) {
	case OperID:
		return t, nil
	case *big.Int:
		return OperID{v: new(big.Int).Set(t)}, nil
	case string:
		return parseOperIDString(t)
	case fmt.Stringer:
		return parseOperIDString(t.String())
	case int64:
		return OperID{v: big.NewInt(t)}, nil
	case uint64:
		return OperID{v: new(big.Int).SetUint64(t)}, nil
	case int:
		return OperID{v: big.NewInt(int64(t))}, nil
	case float64:
		// JSON-decoded integers sometimes surface as float64; only exact
		// integral values are accepted.
		if t != float64(int64(t)) {
			return OperID{}, fmt.Errorf("operId is not an integral number: %v", t)
		}
		return OperID{v: big.NewInt(int64(t))}, nil
	default:
		return OperID{}, fmt.Errorf("unsupported operId representation: %T", raw)
	}
}

func parseOperIDString(s string) (OperID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return OperID{}, fmt.Errorf("empty operId")
	}
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, ok = n.SetString(s[2:], 16)
	} else {
		n, ok = n.SetString(s, 10)
	}
	if !ok {
		return OperID{}, fmt.Errorf("invalid operId literal: %q", s)
	}
	return OperID{v: n}, nil
}

func (o OperID) IsZero() bool {
	return o.v == nil
}

func (o OperID) String() string {
	if o.v == nil {
		return "0"
	}
	return o.v.String()
}

// Big returns a defensive copy of the underlying integer, for building
// static-call arguments against uint256 operId parameters.
func (o OperID) Big() *big.Int {
	if o.v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(o.v)
}

func (o OperID) Int64() int64 {
	if o.v == nil {
		return 0
	}
	return o.v.Int64()
}

func (o OperID) Equal(other OperID) bool {
	if o.v == nil || other.v == nil {
		return o.v == other.v
	}
	return o.v.Cmp(other.v) == 0
}

// MarshalBSONValue persists the operId as its decimal string so it sorts
// and compares the same way regardless of how wide the underlying integer
// grows.
func (o OperID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(o.String())
}

func (o *OperID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	var s string
	raw := bson.RawValue{Type: t, Value: data}
	if err := raw.Unmarshal(&s); err != nil {
		return err
	}
	parsed, err := parseOperIDString(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
