package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/spanlight/spanlight/test/database"
)

func TestQuotaServiceConsume(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewQuotaService(client.DB())
	ctx := context.Background()

	t.Run("counter grows monotonically", func(t *testing.T) {
		used, err := svc.Consume(ctx, "cust-1", 3)
		require.NoError(t, err)
		assert.EqualValues(t, 3, used)

		used, err = svc.Consume(ctx, "cust-1", 2)
		require.NoError(t, err)
		assert.EqualValues(t, 5, used)
	})

	t.Run("customers are independent", func(t *testing.T) {
		used, err := svc.Consume(ctx, "cust-2", 1)
		require.NoError(t, err)
		assert.EqualValues(t, 1, used)
	})

	t.Run("concurrent consumers do not lose increments", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Consume(ctx, "cust-3", 1)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		used, err := svc.Used(ctx, "cust-3")
		require.NoError(t, err)
		assert.EqualValues(t, 10, used)
	})
}

func TestQuotaServiceUsed(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewQuotaService(client.DB())
	ctx := context.Background()

	used, err := svc.Used(ctx, "never-seen")
	require.NoError(t, err)
	assert.Zero(t, used)

	_, err = svc.Consume(ctx, "cust-1", 7)
	require.NoError(t, err)

	used, err = svc.Used(ctx, "cust-1")
	require.NoError(t, err)
	assert.EqualValues(t, 7, used)
}

func TestQuotaServiceDeleteOlderThan(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewQuotaService(client.DB())
	ctx := context.Background()

	_, err := svc.Consume(ctx, "cust-1", 1)
	require.NoError(t, err)

	// Seed a counter from a previous day directly.
	_, err = client.DB().ExecContext(ctx, `
		INSERT INTO ingest_quotas (customer_id, quota_day, used)
		VALUES ($1, $2, $3)`,
		"cust-1", time.Now().UTC().AddDate(0, 0, -3).Truncate(24*time.Hour), 42)
	require.NoError(t, err)

	n, err := svc.DeleteOlderThan(ctx, time.Now().UTC().AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	used, err := svc.Used(ctx, "cust-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, used)
}
