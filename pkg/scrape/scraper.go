// Package scrape implements the per-operation page procedures against the
// target site. Every operation ensures the session is authenticated, runs
// under the browser gate, waits for the page to settle and reads or writes
// fields through the externally configured locator map.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"moneybridge/pkg/auth"
	"moneybridge/pkg/browser"
	"moneybridge/pkg/config"
)

// TotalAssets is the aggregate balance read result.
type TotalAssets struct {
	TotalJPY       int64     `json:"total_assets_jpy"`
	DailyChangeJPY int64     `json:"daily_change_jpy"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// Transaction is one row of the transaction list.
type Transaction struct {
	Date        string `json:"date"`
	Description string `json:"description"`
	AmountJPY   int64  `json:"amount_jpy"`
	Category    string `json:"category"`
	Account     string `json:"account"`
}

// BudgetCategory is one (label, budget, actual) group of the budget read.
type BudgetCategory struct {
	Name      string `json:"name"`
	BudgetJPY int64  `json:"budget_jpy"`
	SpentJPY  int64  `json:"spent_jpy"`
}

// BudgetStatus is the grouped budget read result.
type BudgetStatus struct {
	Month        string           `json:"month"`
	BudgetJPY    int64            `json:"budget_jpy"`
	SpentJPY     int64            `json:"spent_jpy"`
	RemainingJPY int64            `json:"remaining_jpy"`
	Categories   []BudgetCategory `json:"categories"`
}

// RefreshResult reports the bulk account refresh outcome.
type RefreshResult struct {
	Status      string    `json:"status"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Health reports browser and session liveness.
type Health struct {
	BrowserStatus string    `json:"browser_status"`
	SessionValid  bool      `json:"session_valid"`
	AuthState     string    `json:"auth_state"`
	CheckedAt     time.Time `json:"checked_at"`
}

// authenticator is the slice of the auth state machine the scraper needs.
type authenticator interface {
	EnsureAuthenticated(ctx context.Context) error
	Invalidate()
	SessionValid(ctx context.Context) bool
	State() auth.State
}

// pageRunner grants serialized page access to the shared session.
type pageRunner interface {
	WithPage(ctx context.Context, fn func(playwright.Page) error) error
	Status() browser.Status
}

// Scraper runs scrape operations through the shared browser session.
type Scraper struct {
	browser pageRunner
	auth    authenticator
	loc     *config.Locators
	logger  *zap.Logger

	now func() time.Time

	statusPollInterval time.Duration
	statusPollTimeout  time.Duration
}

// New creates a scraper bound to the browser session, the auth machine and
// the locator map.
func New(b *browser.Manager, a *auth.Manager, loc *config.Locators, logger *zap.Logger) *Scraper {
	return &Scraper{
		browser:            b,
		auth:               a,
		loc:                loc,
		logger:             logger,
		now:                time.Now,
		statusPollInterval: 2 * time.Second,
		statusPollTimeout:  60 * time.Second,
	}
}

// run ensures authentication, executes fn under the gate and, when the
// session expired mid-operation, re-authenticates once and retries fn once.
func (s *Scraper) run(ctx context.Context, op string, fn func(playwright.Page) error) error {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	err := s.browser.WithPage(ctx, fn)
	if errors.Is(err, ErrSessionExpired) {
		s.logger.Warn("session expired mid-operation, retrying once", zap.String("op", op))
		s.auth.Invalidate()
		if err := s.auth.EnsureAuthenticated(ctx); err != nil {
			return err
		}
		err = s.browser.WithPage(ctx, fn)
	}
	return err
}

// navigate opens url and waits for network activity to settle. Landing on
// the login host means the session expired under us.
func (s *Scraper) navigate(page playwright.Page, url string) error {
	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	if strings.Contains(page.URL(), s.loc.Auth.LoginHost) {
		return ErrSessionExpired
	}
	return nil
}

// extractText reads the trimmed inner text of the element matching the
// locator, or a LocatorError when nothing matches.
func (s *Scraper) extractText(page playwright.Page, op, field, selector string) (string, error) {
	el, err := page.QuerySelector(selector)
	if err != nil || el == nil {
		return "", &LocatorError{Op: op, Field: field}
	}
	text, err := el.InnerText()
	if err != nil {
		return "", fmt.Errorf("failed to read %s.%s: %w", op, field, err)
	}
	return strings.TrimSpace(text), nil
}

// TotalAssets reads the total balance and day-over-day delta from the
// portfolio page.
func (s *Scraper) TotalAssets(ctx context.Context) (*TotalAssets, error) {
	var result *TotalAssets
	err := s.run(ctx, "total_assets", func(page playwright.Page) error {
		if err := s.navigate(page, s.loc.Portfolio.URL); err != nil {
			return err
		}

		totalText, err := s.extractText(page, "total_assets", "total_assets", s.loc.Portfolio.TotalAssets)
		if err != nil {
			return err
		}

		// Daily change may legitimately be absent early in the day.
		var change int64
		if s.loc.Portfolio.DailyChange != "" {
			if changeText, err := s.extractText(page, "total_assets", "daily_change", s.loc.Portfolio.DailyChange); err == nil {
				change = ParseCurrency(changeText)
			}
		}

		result = &TotalAssets{
			TotalJPY:       ParseCurrency(totalText),
			DailyChangeJPY: change,
			FetchedAt:      s.now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("total assets scraped",
		zap.Int64("total_jpy", result.TotalJPY),
		zap.Int64("daily_change_jpy", result.DailyChangeJPY))
	return result, nil
}

// RecentTransactions reads the transaction table, following the next-page
// affordance until limit rows are collected or pages run out. Rows come
// back in the source's reverse-chronological order.
func (s *Scraper) RecentTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	loc := s.loc.Transactions
	cellClasses := map[string]string{
		"date":        loc.DateClass,
		"description": loc.DescClass,
		"amount":      loc.AmountClass,
		"category":    loc.CategClass,
		"account":     loc.AcctClass,
	}

	var transactions []Transaction
	err := s.run(ctx, "transactions", func(page playwright.Page) error {
		transactions = transactions[:0]
		if err := s.navigate(page, loc.URL); err != nil {
			return err
		}

		for {
			if _, err := page.WaitForSelector(loc.Table, playwright.PageWaitForSelectorOptions{
				Timeout: playwright.Float(10000),
			}); err != nil {
				return &LocatorError{Op: "transactions", Field: "table"}
			}

			fragment, err := page.InnerHTML(loc.Table)
			if err != nil {
				return fmt.Errorf("failed to read transaction table: %w", err)
			}
			rows, err := ParseRows(fragment, loc.RowClass, cellClasses)
			if err != nil {
				return err
			}
			var done bool
			transactions, done = appendTransactions(transactions, rows, limit)
			if done {
				return nil
			}

			if loc.NextPage == "" {
				return nil
			}
			next, err := page.QuerySelector(loc.NextPage)
			if err != nil || next == nil {
				return nil // pages exhausted
			}
			if err := next.Click(); err != nil {
				return fmt.Errorf("failed to open next page: %w", err)
			}
			if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
				State: playwright.LoadStateNetworkidle,
			}); err != nil {
				return fmt.Errorf("%w: next page did not settle: %v", ErrTimeout, err)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("transactions scraped", zap.Int("count", len(transactions)))
	return transactions, nil
}

// appendTransactions converts parsed rows into transactions, preserving
// source order, and reports whether the requested count has been reached.
func appendTransactions(dst []Transaction, rows []map[string]string, limit int) ([]Transaction, bool) {
	for _, row := range rows {
		dst = append(dst, Transaction{
			Date:        row["date"],
			Description: row["description"],
			AmountJPY:   ParseCurrency(row["amount"]),
			Category:    row["category"],
			Account:     row["account"],
		})
		if len(dst) >= limit {
			return dst, true
		}
	}
	return dst, false
}

// BudgetStatus reads the month's budget summary and per-category rows.
func (s *Scraper) BudgetStatus(ctx context.Context) (*BudgetStatus, error) {
	loc := s.loc.Budget
	cellClasses := map[string]string{
		"name":   loc.NameClass,
		"budget": loc.BudgetClass,
		"spent":  loc.SpentClass,
	}

	var result *BudgetStatus
	err := s.run(ctx, "budget", func(page playwright.Page) error {
		if err := s.navigate(page, loc.URL); err != nil {
			return err
		}

		budgetText, err := s.extractText(page, "budget", "total_budget", loc.TotalBudget)
		if err != nil {
			return err
		}
		spentText, err := s.extractText(page, "budget", "total_spent", loc.TotalSpent)
		if err != nil {
			return err
		}
		budget := ParseCurrency(budgetText)
		spent := ParseCurrency(spentText)

		var categories []BudgetCategory
		if loc.Table != "" {
			fragment, err := page.InnerHTML(loc.Table)
			if err != nil {
				return &LocatorError{Op: "budget", Field: "table"}
			}
			rows, err := ParseRows(fragment, loc.RowClass, cellClasses)
			if err != nil {
				return err
			}
			for _, row := range rows {
				categories = append(categories, BudgetCategory{
					Name:      row["name"],
					BudgetJPY: ParseCurrency(row["budget"]),
					SpentJPY:  ParseCurrency(row["spent"]),
				})
			}
		}

		result = &BudgetStatus{
			Month:        s.now().Format("2006-01"),
			BudgetJPY:    budget,
			SpentJPY:     spent,
			RemainingJPY: budget - spent,
			Categories:   categories,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("budget status scraped",
		zap.Int64("budget_jpy", result.BudgetJPY),
		zap.Int64("spent_jpy", result.SpentJPY))
	return result, nil
}

// TriggerRefresh clicks the bulk refresh affordance and polls the status
// indicator until it reports completion or the bounded timeout elapses.
// Fire-and-wait; never cached.
func (s *Scraper) TriggerRefresh(ctx context.Context) (*RefreshResult, error) {
	loc := s.loc.Refresh

	var result *RefreshResult
	err := s.run(ctx, "refresh", func(page playwright.Page) error {
		if err := s.navigate(page, loc.URL); err != nil {
			return err
		}

		if _, err := page.WaitForSelector(loc.RefreshButton, playwright.PageWaitForSelectorOptions{
			Timeout: playwright.Float(10000),
		}); err != nil {
			return &LocatorError{Op: "refresh", Field: "refresh_button"}
		}
		if err := page.Click(loc.RefreshButton); err != nil {
			return fmt.Errorf("failed to click refresh: %w", err)
		}

		status, err := s.pollRefreshStatus(ctx, page)
		if err != nil {
			return err
		}
		result = &RefreshResult{Status: status, RefreshedAt: s.now()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("account refresh triggered", zap.String("status", result.Status))
	return result, nil
}

func (s *Scraper) pollRefreshStatus(ctx context.Context, page playwright.Page) (string, error) {
	loc := s.loc.Refresh
	deadline := time.NewTimer(s.statusPollTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(s.statusPollInterval)
	defer tick.Stop()

	lastStatus := "refresh_triggered"
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("refresh status poll: %w", ctx.Err())
		case <-deadline.C:
			return "", fmt.Errorf("%w: refresh did not complete within %s", ErrTimeout, s.statusPollTimeout)
		case <-tick.C:
			if loc.StatusIndicator == "" {
				return lastStatus, nil
			}
			text, err := s.extractText(page, "refresh", "status_indicator", loc.StatusIndicator)
			if err != nil {
				continue // indicator may not have rendered yet
			}
			lastStatus = text
			if loc.DoneText == "" || strings.Contains(text, loc.DoneText) {
				return lastStatus, nil
			}
		}
	}
}

// UpdateManualBalance sets a manual asset entry's value to amountJPY,
// creating the entry when it does not exist yet. Existence is decided only
// by the entry's scoped edit affordance; the page-wide balance-override
// surface is unreliable on this page type and is never used.
func (s *Scraper) UpdateManualBalance(ctx context.Context, displayName string, amountJPY int64, currency string) error {
	loc := s.loc.ManualAccounts

	err := s.run(ctx, "manual_update", func(page playwright.Page) error {
		if err := s.navigate(page, loc.AccountsURL); err != nil {
			return err
		}

		linkSelector := fmt.Sprintf(loc.AccountLinkFormat, displayName)
		link, err := page.QuerySelector(linkSelector)
		if err != nil {
			return fmt.Errorf("%w: account link query failed: %v", ErrWriteAmbiguous, err)
		}
		if link == nil {
			return fmt.Errorf("%w: %q", ErrAccountNotFound, displayName)
		}

		if err := link.Click(); err != nil {
			return fmt.Errorf("failed to open account detail: %w", err)
		}
		if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State: playwright.LoadStateNetworkidle,
		}); err != nil {
			return fmt.Errorf("%w: account detail did not settle: %v", ErrTimeout, err)
		}
		if strings.Contains(page.URL(), s.loc.Auth.LoginHost) {
			return ErrSessionExpired
		}

		existing, err := page.QuerySelectorAll(loc.EditButton)
		if err != nil {
			return fmt.Errorf("%w: edit affordance query failed: %v", ErrWriteAmbiguous, err)
		}

		if len(existing) > 0 {
			s.logger.Debug("updating existing entry", zap.String("account", displayName))
			return s.editEntry(page, existing[0], amountJPY)
		}
		s.logger.Debug("creating new entry", zap.String("account", displayName))
		return s.createEntry(page, displayName, amountJPY, currency)
	})
	if err != nil {
		return err
	}
	s.logger.Info("manual balance updated",
		zap.String("account", displayName), zap.Int64("amount_jpy", amountJPY))
	return nil
}

// editEntry overwrites only the value field of an existing entry through
// its edit surface.
func (s *Scraper) editEntry(page playwright.Page, editButton playwright.ElementHandle, amountJPY int64) error {
	loc := s.loc.ManualAccounts

	if err := editButton.Click(); err != nil {
		return fmt.Errorf("failed to open edit surface: %w", err)
	}
	if _, err := page.WaitForSelector(loc.EditValueInput, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(5000),
	}); err != nil {
		return &LocatorError{Op: "manual_update", Field: "edit_value_input"}
	}

	if err := page.Fill(loc.EditValueInput, fmt.Sprintf("%d", amountJPY)); err != nil {
		return fmt.Errorf("failed to fill value: %w", err)
	}
	if err := page.Click(loc.EditSubmit); err != nil {
		return fmt.Errorf("failed to submit edit: %w", err)
	}
	return page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateNetworkidle,
	})
}

// createEntry opens the new-entry surface, selects the asset category and
// fills name and value.
func (s *Scraper) createEntry(page playwright.Page, displayName string, amountJPY int64, currency string) error {
	loc := s.loc.ManualAccounts

	if _, err := page.Evaluate(loc.NewModalOpenScript); err != nil {
		return fmt.Errorf("failed to open creation surface: %w", err)
	}
	if _, err := page.WaitForSelector(loc.NewSubclassSelect, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(5000),
	}); err != nil {
		return &LocatorError{Op: "manual_update", Field: "new_subclass_select"}
	}

	if _, err := page.SelectOption(loc.NewSubclassSelect, playwright.SelectOptionValues{
		Values: &[]string{loc.SubclassValue},
	}); err != nil {
		return fmt.Errorf("failed to select asset category: %w", err)
	}
	if err := page.Fill(loc.NewNameInput, fmt.Sprintf("%s (%s)", displayName, currency)); err != nil {
		return fmt.Errorf("failed to fill name: %w", err)
	}
	if err := page.Fill(loc.NewValueInput, fmt.Sprintf("%d", amountJPY)); err != nil {
		return fmt.Errorf("failed to fill value: %w", err)
	}
	if err := page.Click(loc.NewSubmit); err != nil {
		return fmt.Errorf("failed to submit new entry: %w", err)
	}
	return page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateNetworkidle,
	})
}

// CheckHealth reports browser and session liveness without mutating state.
func (s *Scraper) CheckHealth(ctx context.Context) (*Health, error) {
	status := s.browser.Status()
	browserStatus := "ok"
	if !status.Initialized {
		browserStatus = "unavailable"
	}

	valid := false
	if status.Initialized {
		valid = s.auth.SessionValid(ctx)
	}

	return &Health{
		BrowserStatus: browserStatus,
		SessionValid:  valid,
		AuthState:     s.auth.State().String(),
		CheckedAt:     s.now(),
	}, nil
}
