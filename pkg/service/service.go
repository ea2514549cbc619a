// Package service exposes the system's named operations behind a uniform
// response envelope, fronted by the TTL cache with stale fallback.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"moneybridge/pkg/cache"
	"moneybridge/pkg/config"
	"moneybridge/pkg/rates"
	"moneybridge/pkg/scrape"
)

// HomeCurrency is the currency every balance is normalized into before a
// write-back.
const HomeCurrency = "JPY"

// ErrConversion wraps rate-source failures. A write never proceeds with an
// unconverted or guessed value.
var ErrConversion = errors.New("currency conversion failed")

// ErrUnknownAccount is returned for names absent from the tracked-accounts
// configuration.
var ErrUnknownAccount = errors.New("account not configured")

// scraperAPI is the slice of the scraper the service drives.
type scraperAPI interface {
	TotalAssets(ctx context.Context) (*scrape.TotalAssets, error)
	RecentTransactions(ctx context.Context, limit int) ([]scrape.Transaction, error)
	BudgetStatus(ctx context.Context) (*scrape.BudgetStatus, error)
	TriggerRefresh(ctx context.Context) (*scrape.RefreshResult, error)
	UpdateManualBalance(ctx context.Context, displayName string, amountJPY int64, currency string) error
	CheckHealth(ctx context.Context) (*scrape.Health, error)
}

// rateSource looks up a conversion rate between two currencies.
type rateSource interface {
	Rate(ctx context.Context, from, to string) (float64, error)
}

// Service is the operation facade consumed by the outward tool-exposure
// layer.
type Service struct {
	scraper  scraperAPI
	cache    *cache.Store
	rates    rateSource
	accounts []config.Account
	ttl      time.Duration
	logger   *zap.Logger

	now func() time.Time
}

// New creates the operation facade.
func New(s scraperAPI, c *cache.Store, r rateSource, accounts []config.Account, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		scraper:  s,
		cache:    c,
		rates:    r,
		accounts: accounts,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) metadata(source string, cached bool) Metadata {
	return Metadata{
		FetchedAt:       s.now(),
		Source:          source,
		Cached:          cached,
		CacheTTLSeconds: int(s.ttl.Seconds()),
	}
}

func (s *Service) success(data any, source string, cached bool) Response {
	return Response{Status: "success", Data: data, Metadata: s.metadata(source, cached)}
}

func (s *Service) failure(op string, err error) Response {
	code := errorCode(err)
	s.logger.Error("operation failed",
		zap.String("op", op),
		zap.String("code", code),
		zap.String("invocation_id", uuid.NewString()),
		zap.Error(err))
	return Response{
		Status:   "error",
		Error:    &ErrorBody{Code: code, Message: callerMessage(code)},
		Metadata: s.metadata("scraping", false),
	}
}

// cachedCall serves key from the fresh cache when possible, otherwise
// fetches and caches. When the fetch fails and a prior value exists, the
// stale value is served instead of the failure.
func (s *Service) cachedCall(ctx context.Context, op, key string, fetch func(context.Context) (any, error)) Response {
	if data, ok, err := s.cache.Get(key); err == nil && ok {
		s.logger.Debug("cache hit", zap.String("key", key))
		return s.success(data, "cache", true)
	}

	value, err := fetch(ctx)
	if err == nil {
		if cerr := s.cache.Set(key, value, s.ttl); cerr != nil {
			s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(cerr))
		}
		return s.success(value, "scraping", false)
	}

	if stale, ok, serr := s.cache.GetStale(key); serr == nil && ok {
		s.logger.Warn("scrape failed, serving stale cache",
			zap.String("key", key), zap.Error(err))
		return s.success(stale, "cache", true)
	}
	return s.failure(op, err)
}

// GetTotalAssets returns the total balance and day-over-day delta. A fresh
// scrape also records today's snapshot.
func (s *Service) GetTotalAssets(ctx context.Context) Response {
	return s.cachedCall(ctx, "get_total_assets", "total_assets", func(ctx context.Context) (any, error) {
		result, err := s.scraper.TotalAssets(ctx)
		if err != nil {
			return nil, err
		}
		date := s.now().Format("2006-01-02")
		if err := s.cache.UpsertSnapshot(date, "total", result); err != nil {
			s.logger.Warn("snapshot write failed", zap.Error(err))
		}
		return result, nil
	})
}

// ListRecentTransactions returns up to count recent transactions, count
// clamped to 1..100.
func (s *Service) ListRecentTransactions(ctx context.Context, count int) Response {
	if count < 1 {
		count = 1
	} else if count > 100 {
		count = 100
	}
	key := fmt.Sprintf("transactions_%d", count)
	return s.cachedCall(ctx, "list_recent_transactions", key, func(ctx context.Context) (any, error) {
		txns, err := s.scraper.RecentTransactions(ctx, count)
		if err != nil {
			return nil, err
		}
		return map[string]any{"transactions": txns, "count": len(txns)}, nil
	})
}

// GetBudgetStatus returns the month's budget consumption. A fresh scrape
// records per-category spend snapshots.
func (s *Service) GetBudgetStatus(ctx context.Context) Response {
	return s.cachedCall(ctx, "get_budget_status", "budget_status", func(ctx context.Context) (any, error) {
		result, err := s.scraper.BudgetStatus(ctx)
		if err != nil {
			return nil, err
		}
		date := s.now().Format("2006-01-02")
		for _, cat := range result.Categories {
			subject := "category:" + cat.Name
			if err := s.cache.UpsertSnapshot(date, subject, cat); err != nil {
				s.logger.Warn("snapshot write failed", zap.String("subject", subject), zap.Error(err))
			}
		}
		return result, nil
	})
}

// TriggerRefresh starts a bulk refresh of linked accounts and waits for
// the status indicator. Real-time; never cached.
func (s *Service) TriggerRefresh(ctx context.Context) Response {
	result, err := s.scraper.TriggerRefresh(ctx)
	if err != nil {
		return s.failure("trigger_refresh", err)
	}
	return s.success(result, "scraping", false)
}

// HealthCheck reports browser, session and cache liveness.
func (s *Service) HealthCheck(ctx context.Context) Response {
	health, err := s.scraper.CheckHealth(ctx)
	if err != nil {
		return s.failure("health_check", err)
	}

	cacheStatus := "ok"
	if err := s.cache.Ping(); err != nil {
		cacheStatus = "error"
		s.logger.Warn("cache health check failed", zap.Error(err))
	}

	return s.success(map[string]any{
		"browser_status": health.BrowserStatus,
		"session_valid":  health.SessionValid,
		"auth_state":     health.AuthState,
		"cache_status":   cacheStatus,
		"checked_at":     health.CheckedAt,
	}, "health_check", false)
}

// ListManualAccounts returns the configured externally tracked assets.
func (s *Service) ListManualAccounts() Response {
	type entry struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Currency    string `json:"currency"`
		DisplayName string `json:"display_name"`
	}
	list := make([]entry, 0, len(s.accounts))
	for _, acc := range s.accounts {
		list = append(list, entry{
			Name:        acc.Name,
			Type:        acc.Type,
			Currency:    acc.Currency,
			DisplayName: acc.DisplayName,
		})
	}
	return s.success(map[string]any{"accounts": list, "count": len(list)}, "config", false)
}

// UpdateManualAccount converts amount from the account's declared currency
// into the home currency and writes the converted value to the target
// site. Rate failures fail the write; nothing is ever written unconverted.
func (s *Service) UpdateManualAccount(ctx context.Context, name string, amount float64) Response {
	account, ok := config.FindAccount(s.accounts, name)
	if !ok {
		return s.failure("update_manual_account", fmt.Errorf("%w: %q", ErrUnknownAccount, name))
	}

	rate, err := s.rates.Rate(ctx, account.Currency, HomeCurrency)
	if err != nil {
		return s.failure("update_manual_account", fmt.Errorf("%w: %v", ErrConversion, err))
	}
	amountJPY := rates.ConvertMinor(amount, rate)

	s.logger.Info("currency converted",
		zap.String("account", name),
		zap.String("from", account.Currency),
		zap.Float64("amount", amount),
		zap.Float64("rate", rate),
		zap.Int64("amount_jpy", amountJPY))

	if err := s.scraper.UpdateManualBalance(ctx, account.DisplayName, amountJPY, account.Currency); err != nil {
		return s.failure("update_manual_account", err)
	}

	date := s.now().Format("2006-01-02")
	record := map[string]any{
		"amount":        amount,
		"amount_jpy":    amountJPY,
		"currency":      account.Currency,
		"exchange_rate": rate,
	}
	if err := s.cache.UpsertSnapshot(date, "account:"+account.Name, record); err != nil {
		s.logger.Warn("snapshot write failed", zap.String("account", name), zap.Error(err))
	}

	return s.success(map[string]any{
		"account_name":  account.Name,
		"display_name":  account.DisplayName,
		"amount":        amount,
		"amount_jpy":    amountJPY,
		"exchange_rate": rate,
		"currency":      account.Currency,
		"updated_at":    s.now(),
	}, "scraping", false)
}

// AssetHistory returns the recorded total-balance series over the last
// days days, ordered by date.
func (s *Service) AssetHistory(ctx context.Context, days int) Response {
	if days < 1 {
		days = 1
	} else if days > 365 {
		days = 365
	}
	snaps, err := s.cache.Snapshots("total", days)
	if err != nil {
		return s.failure("asset_history", err)
	}
	return s.success(map[string]any{"snapshots": snaps, "days": days}, "cache", true)
}

// SweepCache removes expired cache rows; wired to a background ticker.
func (s *Service) SweepCache() {
	if _, err := s.cache.CleanupExpired(); err != nil {
		s.logger.Warn("cache sweep failed", zap.Error(err))
	}
}
