package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zkchat/zkauth/storage/memory"
)

const testIterations = 1000

func testKDF(t *testing.T) KDF {
	t.Helper()
	k, err := NewKDF(testIterations)
	require.NoError(t, err)
	return k
}

func newTestStore(t *testing.T) *CredentialStore {
	t.Helper()
	return NewCredentialStore(memory.NewRepository(), WithKDF(testKDF(t)))
}

// login runs the full client side of the protocol for username/password.
func login(t *testing.T, m *SessionManager, kdf KDF, username, password string) (string, error) {
	t.Helper()
	ctx := context.Background()
	ticket, err := m.BeginLogin(ctx, username)
	if err != nil {
		return "", err
	}
	prover, err := NewProver(kdf, password, ticket.Salt)
	require.NoError(t, err)
	defer prover.Destroy()

	e, err := m.IssueChallenge(ctx, ticket.SessionID)
	require.NoError(t, err)
	proof, err := prover.Prove(e)
	require.NoError(t, err)
	return ticket.SessionID, m.VerifyProof(ctx, ticket.SessionID, proof)
}
