package auth

import "errors"

var (
	// ErrInvalidInput indicates a malformed or missing request field.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicateAccount indicates the username is already registered.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrWeakPassword indicates the password is shorter than the configured minimum.
	ErrWeakPassword = errors.New("password too short")
	// ErrUnknownAccount indicates no account exists for the username.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrUnknownSession indicates the session does not exist or has expired.
	ErrUnknownSession = errors.New("unknown session")
	// ErrNoChallengeIssued indicates a proof was submitted before a challenge.
	ErrNoChallengeIssued = errors.New("no challenge issued")
	// ErrMalformedProof indicates the proof failed decoding or range checks.
	ErrMalformedProof = errors.New("malformed proof")
	// ErrInvalidProof indicates a well-formed proof that does not verify.
	ErrInvalidProof = errors.New("invalid proof")
	// ErrAlreadyAuthenticated indicates the session has completed login and
	// accepts no further challenges.
	ErrAlreadyAuthenticated = errors.New("session already authenticated")
	// ErrInvalidToken indicates an admission token failed validation.
	ErrInvalidToken = errors.New("invalid token")
)
