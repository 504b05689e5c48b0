package auth

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/zkchat/zkauth/curve"
)

var (
	errNoCommitment = errors.New("prover: respond called without a fresh commitment")
	errNoChallenge  = errors.New("prover: missing challenge")
)

// Prover is the client side of the protocol. The private scalar is kept in
// a memguard Enclave between derivation and use. Call Destroy when done.
type Prover struct {
	mu        sync.Mutex
	x         *memguard.Enclave
	publicKey *curve.Point
	nonce     *curve.Scalar
}

// NewProver derives the private scalar for password and salt.
func NewProver(kdf KDF, password string, salt []byte) (*Prover, error) {
	x, err := kdf.DeriveScalar(password, salt)
	if err != nil {
		return nil, err
	}
	p := &Prover{publicKey: curve.BaseMul(x)}
	p.x = memguard.NewEnclave(x.Bytes())
	x.Wipe()
	return p, nil
}

// PublicKey returns x·G.
func (p *Prover) PublicKey() *curve.Point {
	return p.publicKey
}

// Commit samples a fresh nonce k in [1, n-1] and returns R = k·G. Any
// previous unused nonce is discarded.
func (p *Prover) Commit() (*curve.Point, error) {
	k, err := curve.RandomNonZeroScalar()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nonce != nil {
		p.nonce.Wipe()
	}
	p.nonce = k
	return curve.BaseMul(k), nil
}

// Respond returns s = k + e·x mod n for the last commitment and consumes
// the nonce: a nonce answered twice would reveal x.
func (p *Prover) Respond(challenge *curve.Scalar) (*curve.Scalar, error) {
	if challenge == nil {
		return nil, errNoChallenge
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nonce == nil {
		return nil, errNoCommitment
	}
	if p.x == nil {
		return nil, errors.New("prover: destroyed")
	}
	k := p.nonce
	p.nonce = nil
	defer k.Wipe()

	buf, err := p.x.Open()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()
	x, err := curve.NewScalar(buf.Bytes())
	if err != nil {
		return nil, err
	}
	defer x.Wipe()

	ex := challenge.Mul(x)
	defer ex.Wipe()
	return k.Add(ex), nil
}

// Prove runs Commit and Respond back to back. It is for callers that
// already hold the challenge, such as tests and in-process demos.
func (p *Prover) Prove(challenge *curve.Scalar) (Proof, error) {
	r, err := p.Commit()
	if err != nil {
		return Proof{}, err
	}
	s, err := p.Respond(challenge)
	if err != nil {
		return Proof{}, err
	}
	return Proof{Commitment: r, Response: s}, nil
}

// Destroy discards the private scalar and any pending nonce.
func (p *Prover) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nonce != nil {
		p.nonce.Wipe()
		p.nonce = nil
	}
	p.x = nil
}
