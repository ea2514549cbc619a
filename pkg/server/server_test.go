package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"moneybridge/pkg/service"
)

type fakeOps struct {
	lastCount   int
	lastName    string
	lastAmount  float64
	lastDays    int
	healthy     bool
	refreshHits int
}

func success(data any) service.Response {
	return service.Response{
		Status: "success",
		Data:   data,
		Metadata: service.Metadata{
			FetchedAt: time.Now(),
			Source:    "scraping",
		},
	}
}

func (f *fakeOps) GetTotalAssets(ctx context.Context) service.Response {
	return success(map[string]any{"total_assets_jpy": 4703541})
}

func (f *fakeOps) ListRecentTransactions(ctx context.Context, count int) service.Response {
	f.lastCount = count
	return success(map[string]any{"count": count})
}

func (f *fakeOps) GetBudgetStatus(ctx context.Context) service.Response {
	return success(map[string]any{"budget_jpy": 300000})
}

func (f *fakeOps) TriggerRefresh(ctx context.Context) service.Response {
	f.refreshHits++
	return success(map[string]any{"status": "completed"})
}

func (f *fakeOps) HealthCheck(ctx context.Context) service.Response {
	if !f.healthy {
		return service.Response{
			Status: "error",
			Error:  &service.ErrorBody{Code: service.CodeScrapingError, Message: "browser unavailable"},
		}
	}
	return success(map[string]any{"browser_status": "ok"})
}

func (f *fakeOps) ListManualAccounts() service.Response {
	return success(map[string]any{"count": 2})
}

func (f *fakeOps) UpdateManualAccount(ctx context.Context, name string, amount float64) service.Response {
	f.lastName = name
	f.lastAmount = amount
	return success(map[string]any{"account_name": name})
}

func (f *fakeOps) AssetHistory(ctx context.Context, days int) service.Response {
	f.lastDays = days
	return success(map[string]any{"days": days})
}

func newTestServer(t *testing.T, ops *fakeOps) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(ops, zap.NewNop()).Router())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) (*http.Response, service.Response) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var envelope service.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func TestTotalAssetsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeOps{})

	resp, envelope := post(t, srv, "/api/get_total_assets", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", envelope.Status)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestRecentTransactions_DefaultCount(t *testing.T) {
	ops := &fakeOps{}
	srv := newTestServer(t, ops)

	_, envelope := post(t, srv, "/api/list_recent_transactions", "")
	assert.Equal(t, "success", envelope.Status)
	assert.Equal(t, 20, ops.lastCount)
}

func TestRecentTransactions_ExplicitCount(t *testing.T) {
	ops := &fakeOps{}
	srv := newTestServer(t, ops)

	post(t, srv, "/api/list_recent_transactions", `{"count": 50}`)
	assert.Equal(t, 50, ops.lastCount)
}

func TestRecentTransactions_MalformedBody(t *testing.T) {
	srv := newTestServer(t, &fakeOps{})

	resp, err := http.Post(srv.URL+"/api/list_recent_transactions", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateManualAccount(t *testing.T) {
	ops := &fakeOps{}
	srv := newTestServer(t, ops)

	resp, envelope := post(t, srv, "/api/update_manual_account", `{"account_name": "my_bank", "amount": 1000}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", envelope.Status)
	assert.Equal(t, "my_bank", ops.lastName)
	assert.Equal(t, 1000.0, ops.lastAmount)
}

func TestUpdateManualAccount_MissingName(t *testing.T) {
	ops := &fakeOps{}
	srv := newTestServer(t, ops)

	resp, err := http.Post(srv.URL+"/api/update_manual_account", "application/json", strings.NewReader(`{"amount": 1000}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, ops.lastName, "the operation must not be dispatched")
}

func TestAssetHistory_DefaultDays(t *testing.T) {
	ops := &fakeOps{}
	srv := newTestServer(t, ops)

	post(t, srv, "/api/get_asset_history", "")
	assert.Equal(t, 30, ops.lastDays)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeOps{healthy: true})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthEndpoint_Unavailable(t *testing.T) {
	srv := newTestServer(t, &fakeOps{healthy: false})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestTriggerRefreshEndpoint(t *testing.T) {
	ops := &fakeOps{}
	srv := newTestServer(t, ops)

	_, envelope := post(t, srv, "/api/trigger_refresh", "")
	assert.Equal(t, "success", envelope.Status)
	assert.Equal(t, 1, ops.refreshHits)
}

func TestUnknownOperation(t *testing.T) {
	srv := newTestServer(t, &fakeOps{})

	resp, err := http.Post(srv.URL+"/api/no_such_operation", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
