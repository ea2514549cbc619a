package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"moneybridge/pkg/auth"
	"moneybridge/pkg/cache"
	"moneybridge/pkg/config"
	"moneybridge/pkg/scrape"
)

type fakeScraper struct {
	totalCalls   int
	txnCalls     int
	budgetCalls  int
	refreshCalls int
	updateCalls  int

	totalErr  error
	updateErr error

	lastLimit       int
	lastDisplayName string
	lastAmountJPY   int64
	lastCurrency    string
}

func (f *fakeScraper) TotalAssets(ctx context.Context) (*scrape.TotalAssets, error) {
	f.totalCalls++
	if f.totalErr != nil {
		return nil, f.totalErr
	}
	return &scrape.TotalAssets{TotalJPY: 4703541, DailyChangeJPY: 12000}, nil
}

func (f *fakeScraper) RecentTransactions(ctx context.Context, limit int) ([]scrape.Transaction, error) {
	f.txnCalls++
	f.lastLimit = limit
	return []scrape.Transaction{{Date: "08/24", Description: "スーパー", AmountJPY: -3240}}, nil
}

func (f *fakeScraper) BudgetStatus(ctx context.Context) (*scrape.BudgetStatus, error) {
	f.budgetCalls++
	return &scrape.BudgetStatus{
		Month:        "2026-08",
		BudgetJPY:    300000,
		SpentJPY:     120000,
		RemainingJPY: 180000,
		Categories: []scrape.BudgetCategory{
			{Name: "食費", BudgetJPY: 60000, SpentJPY: 41000},
		},
	}, nil
}

func (f *fakeScraper) TriggerRefresh(ctx context.Context) (*scrape.RefreshResult, error) {
	f.refreshCalls++
	return &scrape.RefreshResult{Status: "completed", RefreshedAt: time.Now()}, nil
}

func (f *fakeScraper) UpdateManualBalance(ctx context.Context, displayName string, amountJPY int64, currency string) error {
	f.updateCalls++
	f.lastDisplayName = displayName
	f.lastAmountJPY = amountJPY
	f.lastCurrency = currency
	return f.updateErr
}

func (f *fakeScraper) CheckHealth(ctx context.Context) (*scrape.Health, error) {
	return &scrape.Health{BrowserStatus: "ok", SessionValid: true, AuthState: "authenticated", CheckedAt: time.Now()}, nil
}

type fakeRates struct {
	rate  float64
	err   error
	calls int
}

func (f *fakeRates) Rate(ctx context.Context, from, to string) (float64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.rate, nil
}

var testAccounts = []config.Account{
	{Name: "my_bank", Type: "bank", Currency: "MYR", DisplayName: "Maybank (MYR)"},
	{Name: "jp_cash", Type: "cash", Currency: "JPY", DisplayName: "財布"},
}

func newTestService(t *testing.T, scraper *fakeScraper, r *fakeRates, ttl time.Duration) (*Service, *cache.Store) {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), ttl, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(scraper, store, r, testAccounts, ttl, zap.NewNop()), store
}

func TestGetTotalAssets_SecondCallServedFromCache(t *testing.T) {
	scraper := &fakeScraper{}
	svc, _ := newTestService(t, scraper, &fakeRates{}, time.Minute)

	first := svc.GetTotalAssets(context.Background())
	require.Equal(t, "success", first.Status)
	assert.False(t, first.Metadata.Cached)
	assert.Equal(t, "scraping", first.Metadata.Source)

	second := svc.GetTotalAssets(context.Background())
	require.Equal(t, "success", second.Status)
	assert.True(t, second.Metadata.Cached)
	assert.Equal(t, "cache", second.Metadata.Source)

	assert.Equal(t, 1, scraper.totalCalls, "the repeat call must not hit the site")
}

func TestGetTotalAssets_StaleFallbackOnScrapeFailure(t *testing.T) {
	scraper := &fakeScraper{}
	svc, _ := newTestService(t, scraper, &fakeRates{}, 5*time.Millisecond)

	first := svc.GetTotalAssets(context.Background())
	require.Equal(t, "success", first.Status)

	time.Sleep(20 * time.Millisecond)
	scraper.totalErr = errors.New("dashboard changed")

	resp := svc.GetTotalAssets(context.Background())
	require.Equal(t, "success", resp.Status, "a stale value beats a failure")
	assert.True(t, resp.Metadata.Cached)
	assert.Equal(t, "cache", resp.Metadata.Source)
	assert.Equal(t, 2, scraper.totalCalls, "the fetch was attempted before falling back")
}

func TestGetTotalAssets_FailureWithoutPriorValue(t *testing.T) {
	scraper := &fakeScraper{totalErr: scrape.ErrSessionExpired}
	svc, _ := newTestService(t, scraper, &fakeRates{}, time.Minute)

	resp := svc.GetTotalAssets(context.Background())
	require.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeSessionExpired, resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "session expired\n", "raw detail stays out of the envelope")
}

func TestGetTotalAssets_RecordsDailySnapshot(t *testing.T) {
	scraper := &fakeScraper{}
	svc, store := newTestService(t, scraper, &fakeRates{}, time.Minute)

	resp := svc.GetTotalAssets(context.Background())
	require.Equal(t, "success", resp.Status)

	snaps, err := store.Snapshots("total", 7)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Contains(t, string(snaps[0].Data), "4703541")
}

func TestListRecentTransactions_ClampsCount(t *testing.T) {
	scraper := &fakeScraper{}
	svc, _ := newTestService(t, scraper, &fakeRates{}, time.Minute)

	svc.ListRecentTransactions(context.Background(), 500)
	assert.Equal(t, 100, scraper.lastLimit)

	svc.ListRecentTransactions(context.Background(), 0)
	assert.Equal(t, 1, scraper.lastLimit)
}

func TestListRecentTransactions_CacheKeyedByCount(t *testing.T) {
	scraper := &fakeScraper{}
	svc, _ := newTestService(t, scraper, &fakeRates{}, time.Minute)

	svc.ListRecentTransactions(context.Background(), 10)
	svc.ListRecentTransactions(context.Background(), 10)
	assert.Equal(t, 1, scraper.txnCalls)

	svc.ListRecentTransactions(context.Background(), 20)
	assert.Equal(t, 2, scraper.txnCalls, "a different count is a different cache key")
}

func TestGetBudgetStatus_RecordsCategorySnapshots(t *testing.T) {
	scraper := &fakeScraper{}
	svc, store := newTestService(t, scraper, &fakeRates{}, time.Minute)

	resp := svc.GetBudgetStatus(context.Background())
	require.Equal(t, "success", resp.Status)

	snaps, err := store.Snapshots("category:食費", 7)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}

func TestTriggerRefresh_NeverCached(t *testing.T) {
	scraper := &fakeScraper{}
	svc, _ := newTestService(t, scraper, &fakeRates{}, time.Minute)

	svc.TriggerRefresh(context.Background())
	resp := svc.TriggerRefresh(context.Background())

	require.Equal(t, "success", resp.Status)
	assert.False(t, resp.Metadata.Cached)
	assert.Equal(t, 2, scraper.refreshCalls)
}

func TestUpdateManualAccount_ConvertsBeforeWriting(t *testing.T) {
	scraper := &fakeScraper{}
	r := &fakeRates{rate: 34.5}
	svc, store := newTestService(t, scraper, r, time.Minute)

	resp := svc.UpdateManualAccount(context.Background(), "my_bank", 1000)
	require.Equal(t, "success", resp.Status)

	assert.Equal(t, 1, r.calls)
	assert.Equal(t, "Maybank (MYR)", scraper.lastDisplayName)
	assert.Equal(t, int64(34500), scraper.lastAmountJPY, "1000 MYR at 34.5 writes 34500 JPY")
	assert.Equal(t, "MYR", scraper.lastCurrency)

	snaps, err := store.Snapshots("account:my_bank", 7)
	require.NoError(t, err)
	require.Len(t, snaps, 1, "the write is recorded in the daily ledger")
	assert.Contains(t, string(snaps[0].Data), "34500")
}

func TestUpdateManualAccount_RateFailureBlocksWrite(t *testing.T) {
	scraper := &fakeScraper{}
	r := &fakeRates{err: errors.New("rate api down")}
	svc, _ := newTestService(t, scraper, r, time.Minute)

	resp := svc.UpdateManualAccount(context.Background(), "my_bank", 1000)
	require.Equal(t, "error", resp.Status)
	assert.Equal(t, CodeConversionFailure, resp.Error.Code)
	assert.Zero(t, scraper.updateCalls, "nothing is written without a rate")
}

func TestUpdateManualAccount_UnknownAccount(t *testing.T) {
	scraper := &fakeScraper{}
	svc, _ := newTestService(t, scraper, &fakeRates{rate: 1}, time.Minute)

	resp := svc.UpdateManualAccount(context.Background(), "no_such_account", 1000)
	require.Equal(t, "error", resp.Status)
	assert.Equal(t, CodeAccountNotFound, resp.Error.Code)
	assert.Zero(t, scraper.updateCalls)
}

func TestUpdateManualAccount_AmbiguousWriteSurfaces(t *testing.T) {
	scraper := &fakeScraper{updateErr: scrape.ErrWriteAmbiguous}
	svc, _ := newTestService(t, scraper, &fakeRates{rate: 34.5}, time.Minute)

	resp := svc.UpdateManualAccount(context.Background(), "my_bank", 1000)
	require.Equal(t, "error", resp.Status)
	assert.Equal(t, CodeWriteAmbiguous, resp.Error.Code)
}

func TestAssetHistory_ReturnsRecordedSeries(t *testing.T) {
	scraper := &fakeScraper{}
	svc, store := newTestService(t, scraper, &fakeRates{}, time.Minute)

	require.NoError(t, store.UpsertSnapshot("2026-08-24", "total", map[string]any{"total_jpy": 4600000}))
	require.NoError(t, store.UpsertSnapshot("2026-08-25", "total", map[string]any{"total_jpy": 4703541}))

	resp := svc.AssetHistory(context.Background(), 30)
	require.Equal(t, "success", resp.Status)
	assert.Equal(t, "cache", resp.Metadata.Source)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	snaps, ok := data["snapshots"].([]cache.Snapshot)
	require.True(t, ok)
	require.Len(t, snaps, 2)
	assert.Equal(t, "2026-08-24", snaps[0].Date)
	assert.Equal(t, "2026-08-25", snaps[1].Date)
}

func TestAssetHistory_ClampsDays(t *testing.T) {
	svc, _ := newTestService(t, &fakeScraper{}, &fakeRates{}, time.Minute)

	resp := svc.AssetHistory(context.Background(), 9000)
	require.Equal(t, "success", resp.Status)
	data := resp.Data.(map[string]any)
	assert.Equal(t, 365, data["days"])
}

func TestHealthCheck_ReportsCacheStatus(t *testing.T) {
	svc, _ := newTestService(t, &fakeScraper{}, &fakeRates{}, time.Minute)

	resp := svc.HealthCheck(context.Background())
	require.Equal(t, "success", resp.Status)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "ok", data["cache_status"])
	assert.Equal(t, "ok", data["browser_status"])
}

func TestListManualAccounts_FromConfiguration(t *testing.T) {
	scraper := &fakeScraper{}
	svc, _ := newTestService(t, scraper, &fakeRates{}, time.Minute)

	resp := svc.ListManualAccounts()
	require.Equal(t, "success", resp.Status)
	assert.Equal(t, "config", resp.Metadata.Source)

	data := resp.Data.(map[string]any)
	assert.Equal(t, 2, data["count"])
	assert.Zero(t, scraper.totalCalls, "listing never touches the browser")
}

func TestErrorCode_Taxonomy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"auth failure", auth.ErrAuthenticationFailed, CodeAuthenticationFailure},
		{"code timeout", auth.ErrCodeTimeout, CodeAuthenticationFailure},
		{"session expired", scrape.ErrSessionExpired, CodeSessionExpired},
		{"locator", &scrape.LocatorError{Op: "budget", Field: "table"}, CodeLocatorNotFound},
		{"timeout", scrape.ErrTimeout, CodeTimeoutExceeded},
		{"conversion", ErrConversion, CodeConversionFailure},
		{"ambiguous write", scrape.ErrWriteAmbiguous, CodeWriteAmbiguous},
		{"missing account", scrape.ErrAccountNotFound, CodeAccountNotFound},
		{"unconfigured account", ErrUnknownAccount, CodeAccountNotFound},
		{"anything else", errors.New("boom"), CodeScrapingError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errorCode(tc.err))
		})
	}
}
