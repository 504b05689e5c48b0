package curve

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/zkchat/zkauth/internal/util"
)

const (
	// CompressedPointSize is the length of a SEC1 compressed point.
	CompressedPointSize = 33
	// UncompressedPointSize is the length of a SEC1 uncompressed point.
	UncompressedPointSize = 65
)

var (
	// ErrInvalidPoint is returned for encodings that do not describe a point
	// on the curve.
	ErrInvalidPoint = errors.New("invalid point")
	// ErrIdentityPoint is returned when the point at infinity cannot be
	// encoded or is not acceptable.
	ErrIdentityPoint = errors.New("point is identity")
)

// Point is an element of the secp256k1 group, kept in affine coordinates.
type Point struct {
	p secp256k1.JacobianPoint
}

// ParsePoint decodes a compressed or uncompressed SEC1 point and checks that
// it lies on the curve.
func ParsePoint(b []byte) (*Point, error) {
	switch len(b) {
	case CompressedPointSize, UncompressedPointSize:
	default:
		return nil, fmt.Errorf("%w: unexpected length %d", ErrInvalidPoint, len(b))
	}
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	var pt Point
	pub.AsJacobian(&pt.p)
	return &pt, nil
}

// PointFromHex decodes a hex-encoded SEC1 point.
func PointFromHex(s string) (*Point, error) {
	b, err := util.HexDecode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	return ParsePoint(b)
}

// BaseMul returns k·G.
func BaseMul(k *Scalar) *Point {
	var pt Point
	secp256k1.ScalarBaseMultNonConst(&k.s, &pt.p)
	pt.p.ToAffine()
	return &pt
}

// Mul returns k·p.
func (pt *Point) Mul(k *Scalar) *Point {
	var r Point
	secp256k1.ScalarMultNonConst(&k.s, &pt.p, &r.p)
	r.p.ToAffine()
	return &r
}

// Add returns pt + other.
func (pt *Point) Add(other *Point) *Point {
	var r Point
	secp256k1.AddNonConst(&pt.p, &other.p, &r.p)
	r.p.ToAffine()
	return &r
}

// IsIdentity reports whether pt is the point at infinity.
func (pt *Point) IsIdentity() bool {
	return (pt.p.X.IsZero() && pt.p.Y.IsZero()) || pt.p.Z.IsZero()
}

// Equal compares two points as group elements.
func (pt *Point) Equal(other *Point) bool {
	if pt.IsIdentity() || other.IsIdentity() {
		return pt.IsIdentity() && other.IsIdentity()
	}
	return pt.p.X.Equals(&other.p.X) && pt.p.Y.Equals(&other.p.Y)
}

// Bytes returns the 33-byte compressed encoding. The identity has no
// encoding and yields nil.
func (pt *Point) Bytes() []byte {
	if pt.IsIdentity() {
		return nil
	}
	return pt.publicKey().SerializeCompressed()
}

// UncompressedBytes returns the 65-byte uncompressed encoding, or nil for
// the identity.
func (pt *Point) UncompressedBytes() []byte {
	if pt.IsIdentity() {
		return nil
	}
	return pt.publicKey().SerializeUncompressed()
}

// Hex returns the lowercase hex of the compressed encoding.
func (pt *Point) Hex() string {
	return util.HexEncode(pt.Bytes())
}

func (pt *Point) String() string {
	if pt.IsIdentity() {
		return "curve.Point(identity)"
	}
	return "curve.Point(" + pt.Hex() + ")"
}

func (pt *Point) publicKey() *secp256k1.PublicKey {
	x, y := pt.p.X, pt.p.Y
	return secp256k1.NewPublicKey(&x, &y)
}
