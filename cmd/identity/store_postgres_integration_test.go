package identity

import (
	"testing"

	"hfauth/cmd/internal/storage/pgtest"
)

func TestPostgresStore_Contract(t *testing.T) {
	pool := pgtest.Pool(t)

	s, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	userID := pgtest.UserID()
	t.Cleanup(func() { pgtest.Cleanup(t, pool, userID) })
	t.Cleanup(func() { pgtest.Cleanup(t, pool, userID+1) })

	runStoreContract(t, s, userID)
}

func TestNewPostgresStore_RejectsBadSchema(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
	st := &PostgresStore{}
	if err := WithSchema(`auth"; DROP`)(st); err == nil {
		t.Fatalf("expected invalid schema identifier error")
	}
}
