package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
)

// BigInt is a uint256-sized amount stored as numeric(78) and serialized to
// JSON as a decimal string. The zero value is 0.
type BigInt struct {
	v *big.Int
}

// NewBigInt copies v. Nil is 0.
func NewBigInt(v *big.Int) BigInt {
	if v == nil {
		return BigInt{}
	}
	return BigInt{v: new(big.Int).Set(v)}
}

// BigIntFromString parses a base-10 amount.
func BigIntFromString(s string) (BigInt, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return BigInt{}, fmt.Errorf("invalid decimal amount %q", s)
	}
	return BigInt{v: v}, nil
}

// Big returns a copy as *big.Int.
func (b BigInt) Big() *big.Int {
	if b.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.v)
}

// Add returns b + o.
func (b BigInt) Add(o BigInt) BigInt {
	return BigInt{v: new(big.Int).Add(b.Big(), o.Big())}
}

// Sub returns b - o.
func (b BigInt) Sub(o BigInt) BigInt {
	return BigInt{v: new(big.Int).Sub(b.Big(), o.Big())}
}

// Cmp compares b and o.
func (b BigInt) Cmp(o BigInt) int {
	return b.Big().Cmp(o.Big())
}

// Sign returns -1, 0 or +1.
func (b BigInt) Sign() int {
	if b.v == nil {
		return 0
	}
	return b.v.Sign()
}

func (b BigInt) String() string {
	if b.v == nil {
		return "0"
	}
	return b.v.String()
}

// Value implements driver.Valuer.
func (b BigInt) Value() (driver.Value, error) {
	return b.String(), nil
}

// Scan implements sql.Scanner. Drivers hand numeric columns back as
// strings, bytes, integers or, for sqlite, floats.
func (b *BigInt) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		b.v = nil
		return nil
	case int64:
		b.v = big.NewInt(v)
		return nil
	case float64:
		i, _ := new(big.Float).SetFloat64(v).Int(nil)
		b.v = i
		return nil
	case []byte:
		return b.scanString(string(v))
	case string:
		return b.scanString(v)
	default:
		return fmt.Errorf("cannot scan %T into BigInt", src)
	}
}

func (b *BigInt) scanString(s string) error {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		// numeric columns may render with a fractional part, e.g. "6.0".
		f, _, err := big.ParseFloat(s, 10, 256, big.ToNearestEven)
		if err != nil {
			return fmt.Errorf("scanning BigInt from %q: %w", s, err)
		}
		v, _ = f.Int(nil)
	}
	b.v = v
	return nil
}

// MarshalJSON encodes b as a quoted decimal string.
func (b BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON accepts a quoted decimal string or a bare number.
func (b *BigInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = string(data)
	}
	return b.scanString(s)
}
