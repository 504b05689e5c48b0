package postgres

import (
	"context"
	"os"
	"sort"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkchat/zkauth/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("ZKAUTH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ZKAUTH_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}

	ctx := context.Background()
	s, err := NewRepositoryFromDSN(ctx, dsn)
	require.NoError(t, err)

	// Clean the table for test isolation.
	s.pool.Exec(ctx, "DELETE FROM records") //nolint:errcheck
	t.Cleanup(func() {
		s.pool.Exec(ctx, "DELETE FROM records") //nolint:errcheck
		s.Close()
	})
	return s
}

func TestPostgresStorage(t *testing.T) {
	s := newTestStore(t)
	namespace := "audit"
	recordType := "AUDIT"
	env := &storage.Envelope{Ver: 1, Scheme: storage.SchemePlainJSON, Payload: []byte(`{"event":"register"}`)}

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, s.Put(namespace, recordType, "e1", env))
		got, err := s.Get(namespace, recordType, "e1")
		require.NoError(t, err)
		assert.Equal(t, env.Payload, got.Payload)
		assert.Equal(t, env.Scheme, got.Scheme)
		assert.Equal(t, env.Ver, got.Ver)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, s.Put(namespace, recordType, "e2", env))
		require.NoError(t, s.Put(namespace, "OTHER", "x", env))
		ids, err := s.List(namespace, recordType)
		require.NoError(t, err)
		sort.Strings(ids)
		assert.Equal(t, []string{"e1", "e2"}, ids)
	})

	t.Run("List Nonexistent Namespace", func(t *testing.T) {
		ids, err := s.List("nonexistent", recordType)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Get Errors", func(t *testing.T) {
		_, err := s.Get("nonexistent", recordType, "e1")
		assert.ErrorIs(t, err, storage.ErrNamespaceNotFound)
		_, err = s.Get(namespace, recordType, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Put(namespace, recordType, "gone", env))
		require.NoError(t, s.Delete(namespace, recordType, "gone"))
		_, err := s.Get(namespace, recordType, "gone")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, s.Delete(namespace, recordType, "gone"), storage.ErrNotFound)
	})

	t.Run("PutCAS create-only", func(t *testing.T) {
		require.NoError(t, s.PutCAS(namespace, recordType, "cas1", 0, env))
		assert.ErrorIs(t, s.PutCAS(namespace, recordType, "cas1", 0, env), storage.ErrCASFailed)
	})

	t.Run("PutCAS version match and mismatch", func(t *testing.T) {
		v1 := &storage.Envelope{Ver: 1, Scheme: storage.SchemePlainJSON, Payload: []byte(`{}`), Version: 1}
		require.NoError(t, s.Put(namespace, recordType, "cas2", v1))

		v2 := &storage.Envelope{Ver: 1, Scheme: storage.SchemePlainJSON, Payload: []byte(`{}`), Version: 2}
		require.NoError(t, s.PutCAS(namespace, recordType, "cas2", 1, v2))
		got, err := s.Get(namespace, recordType, "cas2")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Version)

		assert.ErrorIs(t, s.PutCAS(namespace, recordType, "cas2", 1, v2), storage.ErrCASFailed)
		assert.ErrorIs(t, s.PutCAS(namespace, recordType, "cas-missing", 1, v2), storage.ErrCASFailed)
	})
}

func TestNotFoundErrorSurfacesQueryFailure(t *testing.T) {
	ctx := context.Background()
	// Nothing listens on port 1; the pool connects lazily, so the lookup
	// itself fails.
	pool, err := pgxpool.New(ctx, "postgres://zkauth@127.0.0.1:1/zkauth?connect_timeout=1&sslmode=disable")
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	err = notFoundError(ctx, pool, "audit", "AUDIT", "e1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNamespaceNotFound)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
	assert.Contains(t, err.Error(), "checking namespace audit")
}
