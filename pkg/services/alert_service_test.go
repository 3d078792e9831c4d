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

// seedAlertSpan inserts the span an alert must reference.
func seedAlertSpan(t *testing.T, svc *SpanService, traceID, spanID string) {
	t.Helper()
	require.NoError(t, svc.UpsertBatch(context.Background(),
		[]*models.Span{makeSpan(traceID, spanID)}))
}

func makeAlert(traceID, spanID string, mutate ...func(*models.Alert)) *models.Alert {
	a := &models.Alert{
		CustomerID:          "cust-1",
		TraceID:             traceID,
		SpanID:              spanID,
		ServiceName:         "checkout",
		Endpoint:            "/summarize",
		AlertType:           models.AlertTypeCostSpike,
		Severity:            models.SeverityMedium,
		CurrentCost:         0.05,
		BaselineCost:        0.01,
		CostIncreasePercent: 400,
		Reasoning:           "cost 5.0x above baseline P95",
	}
	for _, m := range mutate {
		m(a)
	}
	return a
}

func TestAlertServiceCreate(t *testing.T) {
	client := testdb.NewTestClient(t)
	spans := NewSpanService(client.DB())
	svc := NewAlertService(client.DB())
	ctx := context.Background()

	seedAlertSpan(t, spans, "t1", "s1")
	seedAlertSpan(t, spans, "t1", "s2")
	seedAlertSpan(t, spans, "t2", "s1")

	t.Run("inserts a pending alert", func(t *testing.T) {
		alert, created, err := svc.Create(ctx, makeAlert("t1", "s1"), time.Minute)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, alert.ID)
		assert.Equal(t, models.AlertStatusPending, alert.Status)
		assert.Equal(t, 1, alert.Occurrences)
		assert.Equal(t, models.ScoringHashOnly, alert.ScoringMethod)
	})

	t.Run("duplicate within the window bumps occurrences", func(t *testing.T) {
		dup, created, err := svc.Create(ctx, makeAlert("t1", "s2"), time.Minute)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, 2, dup.Occurrences)
	})

	t.Run("a different alert type is not a duplicate", func(t *testing.T) {
		alert, created, err := svc.Create(ctx, makeAlert("t2", "s1", func(a *models.Alert) {
			a.AlertType = models.AlertTypeLatencySpike
		}), time.Minute)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 1, alert.Occurrences)
	})

	t.Run("a fresh alert is inserted once the window passes", func(t *testing.T) {
		window := 50 * time.Millisecond
		expired := func() *models.Alert {
			return makeAlert("t1", "s1", func(a *models.Alert) { a.Endpoint = "/expiry" })
		}

		_, created, err := svc.Create(ctx, expired(), window)
		require.NoError(t, err)
		require.True(t, created)

		time.Sleep(2 * window)

		second, created, err := svc.Create(ctx, expired(), window)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 1, second.Occurrences)
	})

	t.Run("resolved alerts do not suppress new ones", func(t *testing.T) {
		first, created, err := svc.Create(ctx, makeAlert("t1", "s1", func(a *models.Alert) {
			a.ServiceName = "search"
		}), time.Minute)
		require.NoError(t, err)
		require.True(t, created)
		_, err = svc.UpdateStatus(ctx, first.ID, models.AlertStatusResolved)
		require.NoError(t, err)

		_, created, err = svc.Create(ctx, makeAlert("t1", "s1", func(a *models.Alert) {
			a.ServiceName = "search"
		}), time.Minute)
		require.NoError(t, err)
		assert.True(t, created)
	})
}

func TestAlertServiceList(t *testing.T) {
	client := testdb.NewTestClient(t)
	spans := NewSpanService(client.DB())
	svc := NewAlertService(client.DB())
	ctx := context.Background()

	seedAlertSpan(t, spans, "t1", "s1")

	// Distinct endpoints so dedup keeps every row.
	endpoints := []string{"/a", "/b", "/c"}
	types := []models.AlertType{
		models.AlertTypeCostSpike,
		models.AlertTypeLatencySpike,
		models.AlertTypeQualityDrop,
	}
	severities := []models.AlertSeverity{
		models.SeverityLow, models.SeverityHigh, models.SeverityHigh,
	}
	var ids []string
	for i := range endpoints {
		a, created, err := svc.Create(ctx, makeAlert("t1", "s1", func(al *models.Alert) {
			al.Endpoint = endpoints[i]
			al.AlertType = types[i]
			al.Severity = severities[i]
		}), time.Minute)
		require.NoError(t, err)
		require.True(t, created)
		ids = append(ids, a.ID)
	}

	other, created, err := svc.Create(ctx, makeAlert("t1", "s1", func(a *models.Alert) {
		a.CustomerID = "cust-2"
	}), time.Minute)
	require.NoError(t, err)
	require.True(t, created)

	t.Run("scoped to the customer", func(t *testing.T) {
		list, err := svc.List(ctx, models.AlertFilters{CustomerID: "cust-1"})
		require.NoError(t, err)
		assert.Len(t, list, 3)
		for _, a := range list {
			assert.NotEqual(t, other.ID, a.ID)
		}
	})

	t.Run("filters by severity and type", func(t *testing.T) {
		list, err := svc.List(ctx, models.AlertFilters{
			CustomerID: "cust-1", Severity: models.SeverityHigh,
		})
		require.NoError(t, err)
		assert.Len(t, list, 2)

		list, err = svc.List(ctx, models.AlertFilters{
			CustomerID: "cust-1", AlertType: models.AlertTypeQualityDrop,
		})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, ids[2], list[0].ID)
	})

	t.Run("filters by status", func(t *testing.T) {
		_, err := svc.UpdateStatus(ctx, ids[0], models.AlertStatusSent)
		require.NoError(t, err)

		list, err := svc.List(ctx, models.AlertFilters{
			CustomerID: "cust-1", Status: models.AlertStatusSent,
		})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, ids[0], list[0].ID)
	})

	t.Run("pagination window", func(t *testing.T) {
		list, err := svc.List(ctx, models.AlertFilters{
			CustomerID: "cust-1", Limit: 2, Offset: 2,
		})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestAlertServiceUpdateStatus(t *testing.T) {
	client := testdb.NewTestClient(t)
	spans := NewSpanService(client.DB())
	svc := NewAlertService(client.DB())
	ctx := context.Background()

	seedAlertSpan(t, spans, "t1", "s1")

	newAlert := func(t *testing.T, endpoint string) *models.Alert {
		t.Helper()
		a, created, err := svc.Create(ctx, makeAlert("t1", "s1", func(al *models.Alert) {
			al.Endpoint = endpoint
		}), time.Minute)
		require.NoError(t, err)
		require.True(t, created)
		return a
	}

	t.Run("walks the full lifecycle", func(t *testing.T) {
		a := newAlert(t, "/lifecycle")

		sent, err := svc.UpdateStatus(ctx, a.ID, models.AlertStatusSent)
		require.NoError(t, err)
		assert.Equal(t, models.AlertStatusSent, sent.Status)
		assert.Nil(t, sent.AcknowledgedAt)

		acked, err := svc.UpdateStatus(ctx, a.ID, models.AlertStatusAcknowledged)
		require.NoError(t, err)
		assert.NotNil(t, acked.AcknowledgedAt)

		resolved, err := svc.UpdateStatus(ctx, a.ID, models.AlertStatusResolved)
		require.NoError(t, err)
		assert.NotNil(t, resolved.ResolvedAt)
	})

	t.Run("resolved is terminal", func(t *testing.T) {
		a := newAlert(t, "/terminal")
		_, err := svc.UpdateStatus(ctx, a.ID, models.AlertStatusResolved)
		require.NoError(t, err)

		for _, next := range []models.AlertStatus{
			models.AlertStatusPending, models.AlertStatusSent,
			models.AlertStatusAcknowledged, models.AlertStatusResolved,
		} {
			_, err := svc.UpdateStatus(ctx, a.ID, next)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		}
	})

	t.Run("backward moves are rejected", func(t *testing.T) {
		a := newAlert(t, "/backward")
		_, err := svc.UpdateStatus(ctx, a.ID, models.AlertStatusSent)
		require.NoError(t, err)
		_, err = svc.UpdateStatus(ctx, a.ID, models.AlertStatusAcknowledged)
		require.NoError(t, err)

		_, err = svc.UpdateStatus(ctx, a.ID, models.AlertStatusSent)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("acknowledgement requires a dispatched alert", func(t *testing.T) {
		a := newAlert(t, "/undispatched")
		_, err := svc.UpdateStatus(ctx, a.ID, models.AlertStatusAcknowledged)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown status fails validation", func(t *testing.T) {
		a := newAlert(t, "/badstatus")
		_, err := svc.UpdateStatus(ctx, a.ID, models.AlertStatus("snoozed"))
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("unknown alert is not found", func(t *testing.T) {
		_, err := svc.UpdateStatus(ctx, "00000000-0000-0000-0000-000000000000", models.AlertStatusSent)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAlertServiceBumpOccurrence(t *testing.T) {
	client := testdb.NewTestClient(t)
	spans := NewSpanService(client.DB())
	svc := NewAlertService(client.DB())
	ctx := context.Background()

	seedAlertSpan(t, spans, "t1", "s1")
	a, _, err := svc.Create(ctx, makeAlert("t1", "s1"), time.Minute)
	require.NoError(t, err)

	require.NoError(t, svc.BumpOccurrence(ctx, a.ID))
	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Occurrences)

	assert.ErrorIs(t, svc.BumpOccurrence(ctx, "00000000-0000-0000-0000-000000000000"), ErrNotFound)
}

func TestAlertServiceExpireStale(t *testing.T) {
	client := testdb.NewTestClient(t)
	spans := NewSpanService(client.DB())
	svc := NewAlertService(client.DB())
	ctx := context.Background()

	seedAlertSpan(t, spans, "t1", "s1")

	stale, _, err := svc.Create(ctx, makeAlert("t1", "s1"), time.Minute)
	require.NoError(t, err)
	fresh, _, err := svc.Create(ctx, makeAlert("t1", "s1", func(a *models.Alert) {
		a.Endpoint = "/fresh"
	}), time.Minute)
	require.NoError(t, err)

	// Age the first alert past the expiry horizon.
	_, err = client.DB().ExecContext(ctx,
		"UPDATE alerts SET created_at = now() - interval '25 hours' WHERE alert_id = $1",
		stale.ID)
	require.NoError(t, err)

	n, err := svc.ExpireStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := svc.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, got.Status)
	assert.NotNil(t, got.ResolvedAt)

	got, err = svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusPending, got.Status)

	// A second sweep finds nothing.
	n, err = svc.ExpireStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}
