package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/spanlight/spanlight/test/database"
)

func TestAPIKeyService(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewAPIKeyService(client.DB())
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "cust-1", "Acme", "sk-live-acme"))

	t.Run("resolves a registered key", func(t *testing.T) {
		customerID, err := svc.Resolve(ctx, "sk-live-acme")
		require.NoError(t, err)
		assert.Equal(t, "cust-1", customerID)
	})

	t.Run("unknown key is not found", func(t *testing.T) {
		_, err := svc.Resolve(ctx, "sk-live-bogus")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("registering is idempotent", func(t *testing.T) {
		require.NoError(t, svc.Register(ctx, "cust-1", "Acme", "sk-live-acme"))
		customerID, err := svc.Resolve(ctx, "sk-live-acme")
		require.NoError(t, err)
		assert.Equal(t, "cust-1", customerID)
	})

	t.Run("revoked keys stop resolving", func(t *testing.T) {
		require.NoError(t, svc.Register(ctx, "cust-2", "Globex", "sk-live-globex"))
		require.NoError(t, svc.Revoke(ctx, "sk-live-globex"))

		_, err := svc.Resolve(ctx, "sk-live-globex")
		assert.ErrorIs(t, err, ErrNotFound)

		// Revoking twice reports the key as gone.
		assert.ErrorIs(t, svc.Revoke(ctx, "sk-live-globex"), ErrNotFound)
	})
}
