package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spanlight/spanlight/pkg/models"
	testdb "github.com/spanlight/spanlight/test/database"
)

func makeBaseline(mutate ...func(*models.CostBaseline)) *models.CostBaseline {
	b := &models.CostBaseline{
		ServiceName:  "checkout",
		Endpoint:     "/summarize",
		WindowSize:   models.Window24h,
		P50Cost:      0.01,
		P95Cost:      0.05,
		P99Cost:      0.09,
		P50LatencyMS: 100,
		P95LatencyMS: 450,
		P99LatencyMS: 900,
		SampleCount:  120,
		LastUpdated:  time.Now().UTC().Truncate(time.Microsecond),
	}
	for _, m := range mutate {
		m(b)
	}
	return b
}

func TestBaselineServiceUpsert(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewBaselineService(client.DB())
	ctx := context.Background()

	t.Run("insert then read back", func(t *testing.T) {
		b := makeBaseline()
		require.NoError(t, svc.Upsert(ctx, b))

		got, err := svc.Get(ctx, "checkout", "/summarize", models.Window24h)
		require.NoError(t, err)
		assert.Equal(t, 0.05, got.P95Cost)
		assert.Equal(t, 120, got.SampleCount)
		assert.Equal(t, models.Window24h, got.WindowSize)
	})

	t.Run("newer write wins", func(t *testing.T) {
		newer := makeBaseline(func(b *models.CostBaseline) {
			b.P95Cost = 0.07
			b.LastUpdated = time.Now().UTC().Add(time.Minute)
		})
		require.NoError(t, svc.Upsert(ctx, newer))

		got, err := svc.Get(ctx, "checkout", "/summarize", models.Window24h)
		require.NoError(t, err)
		assert.Equal(t, 0.07, got.P95Cost)
	})

	t.Run("stale write is a no-op", func(t *testing.T) {
		stale := makeBaseline(func(b *models.CostBaseline) {
			b.P95Cost = 0.99
			b.LastUpdated = time.Now().UTC().Add(-time.Hour)
		})
		require.NoError(t, svc.Upsert(ctx, stale))

		got, err := svc.Get(ctx, "checkout", "/summarize", models.Window24h)
		require.NoError(t, err)
		assert.Equal(t, 0.07, got.P95Cost)
	})

	t.Run("windows are independent rows", func(t *testing.T) {
		hourly := makeBaseline(func(b *models.CostBaseline) {
			b.WindowSize = models.Window1h
			b.P95Cost = 0.02
		})
		require.NoError(t, svc.Upsert(ctx, hourly))

		got, err := svc.Get(ctx, "checkout", "/summarize", models.Window1h)
		require.NoError(t, err)
		assert.Equal(t, 0.02, got.P95Cost)

		got, err = svc.Get(ctx, "checkout", "/summarize", models.Window24h)
		require.NoError(t, err)
		assert.Equal(t, 0.07, got.P95Cost)
	})
}

func TestBaselineServiceGetMissing(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewBaselineService(client.DB())

	_, err := svc.Get(context.Background(), "nope", "/none", models.Window1h)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBaselineServiceDeleteStale(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewBaselineService(client.DB())
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, makeBaseline(func(b *models.CostBaseline) {
		b.Endpoint = "/old"
		b.LastUpdated = time.Now().UTC().AddDate(0, 0, -10)
	})))
	require.NoError(t, svc.Upsert(ctx, makeBaseline(func(b *models.CostBaseline) {
		b.Endpoint = "/new"
	})))

	n, err := svc.DeleteStale(ctx, models.Window7d.Duration())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = svc.Get(ctx, "checkout", "/old", models.Window24h)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Get(ctx, "checkout", "/new", models.Window24h)
	assert.NoError(t, err)
}
