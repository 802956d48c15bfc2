// Package curve enumerates the curves wallets can be issued on.
//
// Curve is a closed set: values can only be obtained from the package level
// variables or Parse, so every switch over a Curve handles a known variant.
package curve

import (
	"crypto/elliptic"
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/bnb-chain/tss-lib/v2/tss"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/edwards/v2"
)

// Curve is one of Secp256k1 or Ed25519.
type Curve struct {
	name string
}

var (
	Secp256k1 = Curve{name: "secp256k1"}
	Ed25519   = Curve{name: "ed25519"}
)

var ErrUnknownCurve = errors.New("unknown curve type")

// All lists every supported curve.
func All() []Curve { return []Curve{Secp256k1, Ed25519} }

// Parse maps a curve name to its Curve.
func Parse(name string) (Curve, error) {
	switch name {
	case Secp256k1.name:
		return Secp256k1, nil
	case Ed25519.name:
		return Ed25519, nil
	default:
		return Curve{}, fmt.Errorf("%w: %q", ErrUnknownCurve, name)
	}
}

func (c Curve) String() string { return c.name }

// IsZero reports whether c is the unset value.
func (c Curve) IsZero() bool { return c.name == "" }

// EC returns the curve implementation used by tss-lib.
func (c Curve) EC() elliptic.Curve {
	switch c {
	case Secp256k1:
		return tss.S256()
	case Ed25519:
		return tss.Edwards()
	default:
		panic(fmt.Sprintf("curve: EC on invalid curve %q", c.name))
	}
}

// Order is the order of the curve's scalar field.
func (c Curve) Order() *big.Int {
	return c.EC().Params().N
}

// ScalarSize is the byte length of a serialized scalar.
func (c Curve) ScalarSize() int { return 32 }

// ParsePublicKey decodes a hex public key and returns its canonical encoding:
// 33-byte compressed point for secp256k1, 32-byte point for ed25519.
func (c Curve) ParsePublicKey(hexKey string) ([]byte, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("public key is not hex: %w", err)
	}
	switch c {
	case Secp256k1:
		pk, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid secp256k1 public key: %w", err)
		}
		return pk.SerializeCompressed(), nil
	case Ed25519:
		if len(raw) != edwards.PubKeyBytesLen {
			return nil, fmt.Errorf("invalid ed25519 public key length %d", len(raw))
		}
		pk, err := edwards.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ed25519 public key: %w", err)
		}
		return pk.Serialize(), nil
	default:
		return nil, ErrUnknownCurve
	}
}

// ParseScalar decodes a hex scalar and checks it lies in [1, N).
func (c Curve) ParseScalar(hexScalar string) (*big.Int, error) {
	raw, err := hex.DecodeString(hexScalar)
	if err != nil {
		return nil, fmt.Errorf("scalar is not hex: %w", err)
	}
	if len(raw) != c.ScalarSize() {
		return nil, fmt.Errorf("scalar must be %d bytes, got %d", c.ScalarSize(), len(raw))
	}
	k := new(big.Int).SetBytes(raw)
	if k.Sign() == 0 || k.Cmp(c.Order()) >= 0 {
		return nil, errors.New("scalar out of range")
	}
	return k, nil
}

// ScalarBytes serializes k as a fixed width big-endian scalar.
func (c Curve) ScalarBytes(k *big.Int) []byte {
	return k.FillBytes(make([]byte, c.ScalarSize()))
}

func (c Curve) MarshalText() ([]byte, error) {
	if c.IsZero() {
		return nil, ErrUnknownCurve
	}
	return []byte(c.name), nil
}

func (c *Curve) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// GormDataType keeps the column a plain string.
func (Curve) GormDataType() string { return "string" }

// Value stores the curve name in a text column.
func (c Curve) Value() (driver.Value, error) {
	if c.IsZero() {
		return nil, ErrUnknownCurve
	}
	return c.name, nil
}

// Scan reads the curve name back from a text column.
func (c *Curve) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return c.UnmarshalText([]byte(v))
	case []byte:
		return c.UnmarshalText(v)
	default:
		return fmt.Errorf("curve: cannot scan %T", src)
	}
}
