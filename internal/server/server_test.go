package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftpay/portalwatch/internal/database"
	"github.com/ftpay/portalwatch/internal/events"
	"github.com/ftpay/portalwatch/internal/history"
	"github.com/ftpay/portalwatch/internal/portal"
	"github.com/ftpay/portalwatch/internal/validation"
)

func newTestServer(t *testing.T) (*Server, *history.Repository, *events.Bus) {
	t.Helper()
	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
		Name: "history",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := history.NewRepository(db)
	require.NoError(t, err)

	bus := events.NewBus()
	s := New(Config{
		Log:           zerolog.Nop(),
		Port:          0,
		DevMode:       true,
		History:       repo,
		DB:            db,
		Bus:           bus,
		ScreenshotDir: t.TempDir(),
	})
	return s, repo, bus
}

func seedCycle(t *testing.T, repo *history.Repository, findings []validation.Finding, rows []portal.ReportRow) history.Cycle {
	t.Helper()
	c := history.Cycle{
		ID:          history.NewCycleID(),
		StartedAt:   time.Now().Add(-time.Minute).Truncate(time.Second),
		FinishedAt:  time.Now().Truncate(time.Second),
		Outcome:     history.OutcomeIssues,
		RecordCount: len(rows),
	}
	require.NoError(t, repo.RecordCycle(context.Background(), c, findings, rows))
	return c
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doGet(t, s, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
}

func TestHandleStatusWithoutMonitor(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doGet(t, s, "/api/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "monitor not running")
}

func TestHandleCyclesAndIssues(t *testing.T) {
	s, repo, _ := newTestServer(t)
	findings := []validation.Finding{
		{Merchant: "ACME", Rule: "failure_ratio", Detail: "failed 5 > approved 2"},
	}
	seedCycle(t, repo, findings, nil)

	rec := doGet(t, s, "/api/cycles")
	require.Equal(t, http.StatusOK, rec.Code)
	var cycles struct {
		Cycles []history.Cycle `json:"cycles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cycles))
	require.Len(t, cycles.Cycles, 1)
	assert.Equal(t, history.OutcomeIssues, cycles.Cycles[0].Outcome)
	assert.Equal(t, 1, cycles.Cycles[0].IssueCount)

	rec = doGet(t, s, "/api/issues")
	require.Equal(t, http.StatusOK, rec.Code)
	var issues struct {
		Issues []history.Issue `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issues))
	require.Len(t, issues.Issues, 1)
	assert.Equal(t, "ACME", issues.Issues[0].Merchant)
}

func TestHandleCycleSnapshot(t *testing.T) {
	s, repo, _ := newTestServer(t)
	rows := []portal.ReportRow{
		{portal.ColMerchant: "ACME", portal.ColApproved: "10"},
	}
	c := seedCycle(t, repo, nil, rows)

	rec := doGet(t, s, "/api/cycles/"+c.ID+"/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		CycleID string             `json:"cycle_id"`
		Rows    []portal.ReportRow `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, c.ID, body.CycleID)
	require.Len(t, body.Rows, 1)
	assert.Equal(t, "ACME", body.Rows[0][portal.ColMerchant])
}

func TestHandleCycleSnapshotUnknownID(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doGet(t, s, "/api/cycles/no-such-cycle/snapshot")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSystem(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doGet(t, s, "/api/system")
	require.Equal(t, http.StatusOK, rec.Code)

	var body SystemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.GreaterOrEqual(t, body.MemPercent, 0.0)
	assert.GreaterOrEqual(t, body.DatabaseSizeMB, 0.0)
}

func TestEventsStream(t *testing.T) {
	s, _, bus := newTestServer(t)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readSSEData(t, reader)
	assert.Contains(t, first, `"connected"`)

	bus.Publish(events.TypeCycleStarted, map[string]string{"cycle_id": "abc"})
	next := readSSEData(t, reader)
	assert.Contains(t, next, string(events.TypeCycleStarted))
	assert.Contains(t, next, "abc")
}

func readSSEData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	t.Fatal("no SSE data line received")
	return ""
}
