package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spanlight/spanlight/pkg/config"
	"github.com/spanlight/spanlight/pkg/models"
	"github.com/spanlight/spanlight/pkg/services"
	testdb "github.com/spanlight/spanlight/test/database"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testKey      = "sk-test-primary"
	otherKey     = "sk-test-other"
	testCustomer = "cust-1"
)

type queryHarness struct {
	router http.Handler
	spans  *services.SpanService
	alerts *services.AlertService
}

func newQueryHarness(t *testing.T) *queryHarness {
	t.Helper()
	client := testdb.NewTestClient(t)

	keys := services.NewAPIKeyService(client.DB())
	spans := services.NewSpanService(client.DB())
	alerts := services.NewAlertService(client.DB())

	ctx := context.Background()
	require.NoError(t, keys.Register(ctx, testCustomer, "Primary", testKey))
	require.NoError(t, keys.Register(ctx, "cust-2", "Other", otherKey))

	srv := NewQueryServer(
		&config.QueryConfig{MaxPageSize: 1000, RequestTimeout: 10 * time.Second},
		client,
		keys,
		spans,
		services.NewTraceService(spans),
		services.NewAnalyticsService(client.DB()),
		alerts,
	)
	return &queryHarness{router: srv.Router(), spans: spans, alerts: alerts}
}

func (h *queryHarness) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func querySpan(traceID, spanID string, mutate ...func(*models.Span)) *models.Span {
	s := &models.Span{
		TraceID:     traceID,
		SpanID:      spanID,
		CustomerID:  testCustomer,
		ServiceName: "checkout",
		Endpoint:    "/summarize",
		Environment: models.EnvironmentLive,
		Timestamp:   time.Now().UTC().Truncate(time.Microsecond),
		LatencyMS:   120,
		Model:       "gpt-4o",
		Provider:    models.ProviderOpenAI,
		CostUSD:     0.01,
		Status:      models.SpanStatusSuccess,
	}
	for _, m := range mutate {
		m(s)
	}
	return s
}

func TestQueryServerAuth(t *testing.T) {
	h := newQueryHarness(t)

	t.Run("missing credential", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/traces", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
	})

	t.Run("unknown credential", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/traces", "sk-test-bogus", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("health needs no credential", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestQueryServerListSpans(t *testing.T) {
	h := newQueryHarness(t)
	ctx := context.Background()

	require.NoError(t, h.spans.UpsertBatch(ctx, []*models.Span{
		querySpan("t1", "s1"),
		querySpan("t2", "s1", func(s *models.Span) { s.ServiceName = "search" }),
		querySpan("t3", "s1", func(s *models.Span) { s.CustomerID = "cust-2" }),
	}))

	t.Run("scoped listing", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/traces", testKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var page struct {
			Data []*models.Span `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Len(t, page.Data, 2)
	})

	t.Run("service filter", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/traces?service=search", testKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var page struct {
			Data []*models.Span `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		require.Len(t, page.Data, 1)
		assert.Equal(t, "t2", page.Data[0].TraceID)
	})

	t.Run("invalid status is rejected", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/traces?status=partial", testKey, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
	})

	t.Run("invalid time bound is rejected", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/traces?startTime=yesterday", testKey, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestQueryServerGetTrace(t *testing.T) {
	h := newQueryHarness(t)
	ctx := context.Background()

	parent := "s1"
	require.NoError(t, h.spans.UpsertBatch(ctx, []*models.Span{
		querySpan("t1", "s1"),
		querySpan("t1", "s2", func(s *models.Span) {
			s.ParentSpanID = &parent
			s.Timestamp = s.Timestamp.Add(time.Second)
		}),
		querySpan("t-foreign", "s1", func(s *models.Span) { s.CustomerID = "cust-2" }),
	}))

	t.Run("returns the span tree", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/traces/t1", testKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Trace *models.TreeNode `json:"trace"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.NotNil(t, body.Trace)
		assert.Equal(t, "s1", body.Trace.SpanID)
		require.Len(t, body.Trace.Children, 1)
		assert.Equal(t, "s2", body.Trace.Children[0].SpanID)
	})

	t.Run("unknown trace", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/traces/missing", testKey, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("another customer's trace looks absent", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/traces/t-foreign", testKey, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestQueryServerAlerts(t *testing.T) {
	h := newQueryHarness(t)
	ctx := context.Background()

	require.NoError(t, h.spans.UpsertBatch(ctx, []*models.Span{
		querySpan("t1", "s1"),
		querySpan("t2", "s1", func(s *models.Span) { s.CustomerID = "cust-2" }),
	}))

	mine, _, err := h.alerts.Create(ctx, &models.Alert{
		CustomerID:  testCustomer,
		TraceID:     "t1",
		SpanID:      "s1",
		ServiceName: "checkout",
		Endpoint:    "/summarize",
		AlertType:   models.AlertTypeCostSpike,
		Severity:    models.SeverityHigh,
	}, time.Minute)
	require.NoError(t, err)

	foreign, _, err := h.alerts.Create(ctx, &models.Alert{
		CustomerID:  "cust-2",
		TraceID:     "t2",
		SpanID:      "s1",
		ServiceName: "checkout",
		Endpoint:    "/summarize",
		AlertType:   models.AlertTypeCostSpike,
		Severity:    models.SeverityLow,
	}, time.Minute)
	require.NoError(t, err)

	t.Run("scoped listing", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/alerts", testKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Data []*models.Alert `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Data, 1)
		assert.Equal(t, mine.ID, body.Data[0].ID)
	})

	t.Run("invalid severity filter", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/alerts?severity=EXTREME", testKey, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("alert type filter", func(t *testing.T) {
		var body struct {
			Data []*models.Alert `json:"data"`
		}

		rec := h.do(t, http.MethodGet, "/api/alerts?alertType=cost_spike", testKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Data, 1)
		assert.Equal(t, mine.ID, body.Data[0].ID)

		rec = h.do(t, http.MethodGet, "/api/alerts?alertType=latency_spike", testKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Empty(t, body.Data)

		rec = h.do(t, http.MethodGet, "/api/alerts?alertType=bogus", testKey, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("status update walks the lifecycle", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/alerts/"+mine.ID+"/status", testKey,
			alertStatusRequest{Status: models.AlertStatusSent})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = h.do(t, http.MethodPost, "/api/alerts/"+mine.ID+"/status", testKey,
			alertStatusRequest{Status: models.AlertStatusAcknowledged})
		require.Equal(t, http.StatusOK, rec.Code)

		var updated models.Alert
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
		assert.Equal(t, models.AlertStatusAcknowledged, updated.Status)
		assert.NotNil(t, updated.AcknowledgedAt)
	})

	t.Run("illegal transition is a conflict", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/alerts/"+mine.ID+"/status", testKey,
			alertStatusRequest{Status: models.AlertStatusSent})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "INVALID_TRANSITION", errorCode(t, rec))
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/alerts/"+mine.ID+"/status", testKey,
			map[string]string{"status": "snoozed"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("another customer's alert looks absent", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/alerts/"+foreign.ID+"/status", testKey,
			alertStatusRequest{Status: models.AlertStatusSent})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestQueryServerAnalytics(t *testing.T) {
	h := newQueryHarness(t)
	ctx := context.Background()

	require.NoError(t, h.spans.UpsertBatch(ctx, []*models.Span{
		querySpan("t1", "s1"),
		querySpan("t2", "s1", func(s *models.Span) { s.CostUSD = 0.03 }),
	}))

	t.Run("summary", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/analytics/summary", testKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var sum models.Summary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
		assert.Equal(t, 2, sum.TotalRequests)
		assert.InDelta(t, 0.04, sum.TotalCost, 1e-9)
	})

	t.Run("timeline rejects an unknown granularity", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/analytics/timeline?granularity=fortnight", testKey, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("breakdown by provider", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/analytics/breakdown?dimension=provider", testKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Data []*models.BreakdownRow `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Data, 1)
		assert.Equal(t, "openai", body.Data[0].Dimension)
	})

	t.Run("percentiles", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/analytics/percentiles?service=checkout", testKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var p models.Percentiles
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		assert.InDelta(t, 0.02, p.Cost.P50, 1e-9)
	})
}
