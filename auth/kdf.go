package auth

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zkchat/zkauth/curve"
	"github.com/zkchat/zkauth/internal/util"
)

// SaltSize is the length of the per-account salt.
const SaltSize = 16

const (
	scalarRetryInfo = "zkauth/scalar/v1"
	maxScalarRetry  = 16
)

// KDF turns a password and salt into a private scalar.
type KDF struct {
	params util.PBKDF2Params
}

// DefaultKDF uses PBKDF2-HMAC-SHA256 with 100,000 iterations.
func DefaultKDF() KDF {
	return KDF{params: util.DefaultPBKDF2Params()}
}

// NewKDF returns a KDF with the given iteration count. Client and server
// must agree on it.
func NewKDF(iterations int) (KDF, error) {
	p := util.DefaultPBKDF2Params()
	p.Iterations = iterations
	if err := util.ValidatePBKDF2Params(p); err != nil {
		return KDF{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return KDF{params: p}, nil
}

// Iterations reports the PBKDF2 cost.
func (k KDF) Iterations() int {
	return k.params.Iterations
}

// DeriveScalar derives x in [1, n-1] from password and salt. The stretched
// output is used directly when it is a valid non-zero scalar; otherwise
// candidates are re-derived with HKDF under a counter until one is. Values
// are never reduced mod n.
func (k KDF) DeriveScalar(password string, salt []byte) (*curve.Scalar, error) {
	if password == "" || len(salt) == 0 {
		return nil, ErrInvalidInput
	}
	stretched, err := util.DerivePBKDF2Key(password, salt, k.params)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(stretched)

	return scalarFromCandidate(stretched, salt, util.CopyBytes(stretched))
}

// scalarFromCandidate returns first as a scalar when it is in [1, n-1] and
// otherwise walks the HKDF counter chain over stretched. first is wiped.
func scalarFromCandidate(stretched, salt, first []byte) (*curve.Scalar, error) {
	candidate := first
	for counter := uint32(0); ; counter++ {
		x, err := curve.NewScalar(candidate)
		util.WipeBytes(candidate)
		if err == nil && !x.IsZero() {
			return x, nil
		}
		if err != nil && !errors.Is(err, curve.ErrInvalidScalar) {
			return nil, err
		}
		if counter >= maxScalarRetry {
			return nil, errors.New("derive scalar: no valid candidate")
		}
		info := binary.BigEndian.AppendUint32([]byte(scalarRetryInfo), counter)
		candidate, err = util.HKDF(stretched, salt, info)
		if err != nil {
			return nil, err
		}
	}
}

// DeriveScalar derives the private scalar with the default KDF.
func DeriveScalar(password string, salt []byte) (*curve.Scalar, error) {
	return DefaultKDF().DeriveScalar(password, salt)
}

// NewSalt returns a fresh random account salt.
func NewSalt() ([]byte, error) {
	return util.RandomBytes(SaltSize)
}
