package curve

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/zkchat/zkauth/internal/util"
)

// ScalarSize is the length in bytes of an encoded scalar.
const ScalarSize = 32

// maxScalarDraws bounds rejection sampling. The chance of one draw landing
// at or above n is below 2^-127, so exhausting this is a broken RNG.
const maxScalarDraws = 64

var (
	// ErrInvalidScalar is returned for scalar encodings that are not exactly
	// ScalarSize bytes or whose value is not below the group order.
	ErrInvalidScalar = errors.New("invalid scalar")
	// ErrScalarOverflow is returned when an encoded value is >= n.
	ErrScalarOverflow = fmt.Errorf("%w: value not below group order", ErrInvalidScalar)
)

// Scalar is an integer modulo the secp256k1 group order n.
type Scalar struct {
	s secp256k1.ModNScalar
}

// Order returns a copy of the group order n.
func Order() *big.Int {
	return new(big.Int).Set(secp256k1.Params().N)
}

// NewScalar decodes a big-endian 32-byte scalar. Values >= n are rejected.
func NewScalar(b []byte) (*Scalar, error) {
	if len(b) != ScalarSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidScalar, ScalarSize, len(b))
	}
	var buf [ScalarSize]byte
	copy(buf[:], b)
	defer util.WipeArray32(&buf)

	var sc Scalar
	if overflow := sc.s.SetBytes(&buf); overflow != 0 {
		return nil, ErrScalarOverflow
	}
	return &sc, nil
}

// ScalarFromHex decodes a hex-encoded 32-byte scalar.
func ScalarFromHex(s string) (*Scalar, error) {
	b, err := util.HexDecodeFixed(s, ScalarSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScalar, err)
	}
	defer util.WipeBytes(b)
	return NewScalar(b)
}

// ScalarFromUint32 returns the scalar with the given small value.
func ScalarFromUint32(v uint32) *Scalar {
	var sc Scalar
	sc.s.SetInt(v)
	return &sc
}

// RandomScalar draws a scalar uniformly from [0, n-1] by rejection sampling.
func RandomScalar() (*Scalar, error) {
	return randomScalar(false)
}

// RandomNonZeroScalar draws a scalar uniformly from [1, n-1].
func RandomNonZeroScalar() (*Scalar, error) {
	return randomScalar(true)
}

func randomScalar(nonZero bool) (*Scalar, error) {
	var buf [ScalarSize]byte
	defer util.WipeArray32(&buf)

	for i := 0; i < maxScalarDraws; i++ {
		b, err := util.RandomBytes(ScalarSize)
		if err != nil {
			return nil, err
		}
		copy(buf[:], b)
		util.WipeBytes(b)

		var sc Scalar
		if overflow := sc.s.SetBytes(&buf); overflow != 0 {
			continue
		}
		if nonZero && sc.s.IsZero() {
			continue
		}
		return &sc, nil
	}
	return nil, errors.New("random scalar: rejection sampling exhausted")
}

// Bytes returns the 32-byte big-endian encoding.
func (sc *Scalar) Bytes() []byte {
	b := sc.s.Bytes()
	return b[:]
}

// Hex returns the lowercase hex encoding of Bytes.
func (sc *Scalar) Hex() string {
	return util.HexEncode(sc.Bytes())
}

func (sc *Scalar) IsZero() bool {
	return sc.s.IsZero()
}

func (sc *Scalar) Equal(other *Scalar) bool {
	return sc.s.Equals(&other.s)
}

// Add returns sc + other mod n.
func (sc *Scalar) Add(other *Scalar) *Scalar {
	var r Scalar
	r.s.Add2(&sc.s, &other.s)
	return &r
}

// Mul returns sc * other mod n.
func (sc *Scalar) Mul(other *Scalar) *Scalar {
	var r Scalar
	r.s.Mul2(&sc.s, &other.s)
	return &r
}

// Wipe zeroes the scalar in place.
func (sc *Scalar) Wipe() {
	sc.s.Zero()
}

// String never reveals the value; scalars may be secret.
func (sc *Scalar) String() string {
	return "curve.Scalar(redacted)"
}
