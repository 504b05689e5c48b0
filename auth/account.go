package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/zkchat/zkauth/curve"
	"github.com/zkchat/zkauth/internal/util"
	"github.com/zkchat/zkauth/storage"
)

const (
	accountNamespace  = "__accounts"
	accountRecordType = "ACCOUNT"

	// DefaultMinPasswordLen is the shortest password Register accepts.
	DefaultMinPasswordLen = 6
	maxUsernameLen        = 64
)

// AccountRecord is the enrolled verifier for one username. It holds only
// public values: the password and the derived scalar never reach it.
type AccountRecord struct {
	Username  string
	PublicKey *curve.Point
	Salt      []byte
	CreatedAt time.Time
}

// storedAccount is the persisted form of AccountRecord.
type storedAccount struct {
	Username  string    `json:"username"`
	PublicKey string    `json:"public_key"`
	Salt      string    `json:"salt"`
	CreatedAt time.Time `json:"created_at"`
}

// CredentialStore enrolls accounts and serves their public verifiers.
type CredentialStore struct {
	repo           storage.Repository
	kdf            KDF
	minPasswordLen int
}

// StoreOption configures a CredentialStore.
type StoreOption func(*CredentialStore)

// WithMinPasswordLen sets the minimum password length for registration.
func WithMinPasswordLen(n int) StoreOption {
	return func(s *CredentialStore) {
		s.minPasswordLen = n
	}
}

// WithKDF sets the key derivation function used at registration.
func WithKDF(k KDF) StoreOption {
	return func(s *CredentialStore) {
		s.kdf = k
	}
}

// NewCredentialStore returns a store persisting accounts in repo.
func NewCredentialStore(repo storage.Repository, opts ...StoreOption) *CredentialStore {
	s := &CredentialStore{
		repo:           repo,
		kdf:            DefaultKDF(),
		minPasswordLen: DefaultMinPasswordLen,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// KDF returns the derivation function clients must use for this store.
func (s *CredentialStore) KDF() KDF {
	return s.kdf
}

// Register enrolls username with the public key derived from password.
// The KDF runs without any lock held; uniqueness is enforced by a
// create-only write.
func (s *CredentialStore) Register(ctx context.Context, username, password string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if len([]rune(password)) < s.minPasswordLen {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, s.minPasswordLen)
	}
	if _, err := s.Lookup(ctx, username); err == nil {
		return ErrDuplicateAccount
	} else if !errors.Is(err, ErrUnknownAccount) {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	salt, err := NewSalt()
	if err != nil {
		return err
	}
	x, err := s.kdf.DeriveScalar(password, salt)
	if err != nil {
		return err
	}
	publicKey := curve.BaseMul(x)
	x.Wipe()

	env, err := storage.SealJSON(storedAccount{
		Username:  username,
		PublicKey: publicKey.Hex(),
		Salt:      util.HexEncode(salt),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := s.repo.PutCAS(accountNamespace, accountRecordType, username, 0, env); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return ErrDuplicateAccount
		}
		return fmt.Errorf("persisting account: %w", err)
	}
	return nil
}

// Lookup returns the account for username, or ErrUnknownAccount.
func (s *CredentialStore) Lookup(ctx context.Context, username string) (*AccountRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	env, err := s.repo.Get(accountNamespace, accountRecordType, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, err
	}
	var stored storedAccount
	if err := storage.OpenJSON(env, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAccount, err)
	}
	// A stored key that no longer decodes makes the account unusable
	// rather than crashing the caller.
	publicKey, err := curve.PointFromHex(stored.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt public key", ErrUnknownAccount)
	}
	salt, err := util.HexDecode(stored.Salt)
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("%w: corrupt salt", ErrUnknownAccount)
	}
	return &AccountRecord{
		Username:  stored.Username,
		PublicKey: publicKey,
		Salt:      salt,
		CreatedAt: stored.CreatedAt,
	}, nil
}

// ValidateUsername accepts 1 to 64 bytes of printable, non-space characters.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if len(username) > maxUsernameLen {
		return fmt.Errorf("%w: username longer than %d bytes", ErrInvalidInput, maxUsernameLen)
	}
	if strings.IndexFunc(username, func(r rune) bool {
		return unicode.IsSpace(r) || !unicode.IsPrint(r)
	}) >= 0 {
		return fmt.Errorf("%w: username contains whitespace or control characters", ErrInvalidInput)
	}
	return nil
}
