package auth

import (
	"github.com/zkchat/zkauth/curve"
)

// Proof is the prover's commitment R and response s.
type Proof struct {
	Commitment *curve.Point
	Response   *curve.Scalar
}

// ParseProof decodes hex-encoded R and s. R must be a valid curve point and
// s must be below the group order; anything else is ErrMalformedProof.
func ParseProof(commitmentHex, responseHex string) (Proof, error) {
	r, err := curve.PointFromHex(commitmentHex)
	if err != nil {
		return Proof{}, ErrMalformedProof
	}
	s, err := curve.ScalarFromHex(responseHex)
	if err != nil {
		return Proof{}, ErrMalformedProof
	}
	return Proof{Commitment: r, Response: s}, nil
}

// Encode returns the hex encodings of R and s.
func (p Proof) Encode() (commitmentHex, responseHex string) {
	return p.Commitment.Hex(), p.Response.Hex()
}

// Verify checks s·G == R + e·P. All inputs are public, so the comparison
// needs no constant-time treatment. A missing or identity public key is an
// invalid proof; a missing or identity commitment is a malformed one.
func Verify(publicKey *curve.Point, challenge *curve.Scalar, proof Proof) error {
	if proof.Commitment == nil || proof.Response == nil || challenge == nil {
		return ErrMalformedProof
	}
	if proof.Commitment.IsIdentity() {
		return ErrMalformedProof
	}
	if publicKey == nil || publicKey.IsIdentity() {
		return ErrInvalidProof
	}

	lhs := curve.BaseMul(proof.Response)
	rhs := proof.Commitment.Add(publicKey.Mul(challenge))
	if !lhs.Equal(rhs) {
		return ErrInvalidProof
	}
	return nil
}
