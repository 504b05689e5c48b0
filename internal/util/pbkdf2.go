package util

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2Params configures PBKDF2-HMAC-SHA256 password stretching.
type PBKDF2Params struct {
	Iterations int `json:"iterations"`
	KeyLen     int `json:"key_len"`
}

const (
	// DefaultPBKDF2Iterations matches the cost the login clients are built for.
	DefaultPBKDF2Iterations = 100_000
	pbkdf2KeyLen            = 32
)

func DefaultPBKDF2Params() PBKDF2Params {
	return PBKDF2Params{
		Iterations: DefaultPBKDF2Iterations,
		KeyLen:     pbkdf2KeyLen,
	}
}

// ValidatePBKDF2Params rejects parameter sets that cannot produce a 256-bit key.
func ValidatePBKDF2Params(p PBKDF2Params) error {
	if p.Iterations < 1 {
		return fmt.Errorf("pbkdf2 iterations must be positive, got %d", p.Iterations)
	}
	if p.KeyLen != pbkdf2KeyLen {
		return fmt.Errorf("pbkdf2 key length must be %d bytes, got %d", pbkdf2KeyLen, p.KeyLen)
	}
	return nil
}

// DerivePBKDF2Key stretches the NFKD-normalized passphrase with the salt.
func DerivePBKDF2Key(passphrase string, salt []byte, params PBKDF2Params) ([]byte, error) {
	if err := ValidatePBKDF2Params(params); err != nil {
		return nil, err
	}
	pw := []byte(Normalize(passphrase))
	defer WipeBytes(pw)
	return pbkdf2.Key(pw, salt, params.Iterations, params.KeyLen, sha256.New), nil
}
