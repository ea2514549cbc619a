// Package auth drives the target site's login sequence and tracks session
// validity as an explicit state machine.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"moneybridge/pkg/browser"
	"moneybridge/pkg/config"
)

// State is the authentication state, mutated only by Manager.
type State int

const (
	StateUnauthenticated State = iota
	StateCredentialsSubmitted
	StateAwaitingSecondFactor
	StateAwaitingOutOfBandCode
	StateAuthenticated
	StateExpired
)

// String returns the state's wire name.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateCredentialsSubmitted:
		return "credentials_submitted"
	case StateAwaitingSecondFactor:
		return "awaiting_second_factor"
	case StateAwaitingOutOfBandCode:
		return "awaiting_out_of_band_code"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ErrAuthenticationFailed is returned when the login sequence has exhausted
// its retries. Fatal for the current operation, not for the process.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Credentials are the target-site login identifier and secret.
type Credentials struct {
	Email    string
	Password string
}

// Manager runs the login sequence and answers session-validity probes.
type Manager struct {
	browser *browser.Manager
	codes   *CodeProvider
	loc     config.AuthLocators
	creds   Credentials
	logger  *zap.Logger

	mu    sync.Mutex
	state State

	retryDelays []time.Duration

	// sleep and attempt are swapped in tests to compress the retry
	// schedule and stub out page driving.
	sleep   func(ctx context.Context, d time.Duration) error
	attempt func(ctx context.Context) error
}

// NewManager creates an authentication manager.
func NewManager(b *browser.Manager, codes *CodeProvider, loc config.AuthLocators, creds Credentials, logger *zap.Logger) *Manager {
	m := &Manager{
		browser:     b,
		codes:       codes,
		loc:         loc,
		creds:       creds,
		logger:      logger,
		state:       StateUnauthenticated,
		retryDelays: []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second},
		sleep:       sleepCtx,
	}
	m.attempt = m.loginAttempt
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current authentication state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		m.logger.Debug("auth state changed",
			zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Invalidate marks the session expired so the next EnsureAuthenticated
// re-runs the login sequence. Called when an operation detects a
// login redirect mid-flight.
func (m *Manager) Invalidate() {
	m.setState(StateExpired)
}

// Login runs the full login sequence, retrying the whole sequence up to
// three times with increasing backoff. Exhausting retries returns
// ErrAuthenticationFailed.
func (m *Manager) Login(ctx context.Context) error {
	maxAttempts := len(m.retryDelays)

	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		m.logger.Info("login attempt started", zap.Int("attempt", n))

		err := m.attempt(ctx)
		if err == nil {
			m.setState(StateAuthenticated)
			m.logger.Info("login successful", zap.Int("attempt", n))
			return nil
		}
		lastErr = err
		m.setState(StateUnauthenticated)
		m.logger.Warn("login attempt failed", zap.Int("attempt", n), zap.Error(err))

		delay := m.retryDelays[n-1]
		m.logger.Info("backing off after failed attempt", zap.Duration("delay", delay))
		if err := m.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
	}
	return fmt.Errorf("%w: login failed after %d attempts: %v", ErrAuthenticationFailed, maxAttempts, lastErr)
}

// loginAttempt performs one pass of the whole sequence on a fresh page.
func (m *Manager) loginAttempt(ctx context.Context) error {
	return m.browser.WithPage(ctx, func(page playwright.Page) error {
		m.setState(StateUnauthenticated)

		if _, err := page.Goto(m.loc.LoginURL, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateNetworkidle,
		}); err != nil {
			return fmt.Errorf("failed to open login page: %w", err)
		}

		if err := m.enterCredential(page, m.loc.EmailInput, m.creds.Email); err != nil {
			return fmt.Errorf("email step failed: %w", err)
		}
		if err := m.enterCredential(page, m.loc.PasswordInput, m.creds.Password); err != nil {
			return fmt.Errorf("password step failed: %w", err)
		}
		m.setState(StateCredentialsSubmitted)

		// The site renders at most one of the two prompts per attempt; act
		// on whichever is actually present and never guess a default.
		switch {
		case m.loc.SecondFactorFragment != "" && strings.Contains(page.URL(), m.loc.SecondFactorFragment):
			m.setState(StateAwaitingSecondFactor)
			code, err := m.codes.TOTP(time.Now())
			if err != nil {
				return err
			}
			if err := m.submitCode(page, code); err != nil {
				return fmt.Errorf("second-factor step failed: %w", err)
			}
		case m.loc.OutOfBandFragment != "" && strings.Contains(page.URL(), m.loc.OutOfBandFragment):
			m.setState(StateAwaitingOutOfBandCode)
			m.logger.Info("waiting for out-of-band code", zap.String("url", page.URL()))
			code, err := m.codes.WaitOutOfBand(ctx)
			if err != nil {
				return err
			}
			if err := m.submitCode(page, code); err != nil {
				return fmt.Errorf("out-of-band step failed: %w", err)
			}
		}

		if m.loc.AccountSelectorFragment != "" && strings.Contains(page.URL(), m.loc.AccountSelectorFragment) {
			if err := m.selectAccount(page); err != nil {
				return fmt.Errorf("account selector step failed: %w", err)
			}
		}

		if !m.isLoggedIn(page.URL()) {
			return fmt.Errorf("login verification failed at %s", page.URL())
		}
		return nil
	})
}

// enterCredential types a value into a login field and submits the form.
// Typing with a delay and submitting via script keeps the flow working
// under the site's overlay and bot-detection quirks.
func (m *Manager) enterCredential(page playwright.Page, selector, value string) error {
	if _, err := page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(10000),
	}); err != nil {
		return fmt.Errorf("field %s not found: %w", selector, err)
	}

	if err := page.Fill(selector, ""); err != nil {
		return fmt.Errorf("failed to clear field: %w", err)
	}
	if err := page.Type(selector, value, playwright.PageTypeOptions{
		Delay: playwright.Float(50),
	}); err != nil {
		return fmt.Errorf("failed to type value: %w", err)
	}

	script := fmt.Sprintf("document.querySelector(%q).click()", m.loc.SubmitButton)
	if _, err := page.Evaluate(script); err != nil {
		return fmt.Errorf("failed to submit form: %w", err)
	}
	return page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateNetworkidle,
	})
}

func (m *Manager) submitCode(page playwright.Page, code string) error {
	if _, err := page.WaitForSelector(m.loc.CodeInput, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(5000),
	}); err != nil {
		return fmt.Errorf("code input not found: %w", err)
	}
	if err := page.Fill(m.loc.CodeInput, code); err != nil {
		return fmt.Errorf("failed to fill code: %w", err)
	}
	if err := page.Click(m.loc.CodeSubmit); err != nil {
		return fmt.Errorf("failed to submit code: %w", err)
	}
	if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateNetworkidle,
	}); err != nil {
		return err
	}

	// Still on the prompt page with a rejection message means the code was
	// not accepted.
	if m.loc.CodeRejectedText != "" &&
		(strings.Contains(page.URL(), m.loc.SecondFactorFragment) ||
			strings.Contains(page.URL(), m.loc.OutOfBandFragment)) {
		body, err := page.InnerText("body")
		if err == nil && strings.Contains(body, m.loc.CodeRejectedText) {
			return errors.New("code was rejected")
		}
	}
	return nil
}

func (m *Manager) selectAccount(page playwright.Page) error {
	m.logger.Info("account selector shown")
	if err := page.Click(m.loc.AccountLink); err != nil {
		return fmt.Errorf("failed to choose account: %w", err)
	}
	return page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateNetworkidle,
	})
}

// isLoggedIn distinguishes an authenticated destination from a
// login-redirect destination by host.
func (m *Manager) isLoggedIn(url string) bool {
	return url != "" && !strings.Contains(url, m.loc.LoginHost)
}

// SessionValid probes a protected page and reports whether the session is
// still live.
func (m *Manager) SessionValid(ctx context.Context) bool {
	valid := false
	err := m.browser.WithPage(ctx, func(page playwright.Page) error {
		if _, err := page.Goto(m.loc.ProtectedURL, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateNetworkidle,
		}); err != nil {
			return err
		}
		valid = m.isLoggedIn(page.URL())
		return nil
	})
	if err != nil {
		m.logger.Warn("session validity probe failed", zap.Error(err))
		return false
	}
	m.logger.Debug("session validity checked", zap.Bool("valid", valid))
	return valid
}

// EnsureAuthenticated verifies the session and re-runs the login sequence
// when it is no longer valid. Called before every scrape operation.
func (m *Manager) EnsureAuthenticated(ctx context.Context) error {
	if m.SessionValid(ctx) {
		m.setState(StateAuthenticated)
		return nil
	}
	if m.State() == StateAuthenticated {
		m.setState(StateExpired)
	}
	m.logger.Info("session invalid, re-authenticating")
	return m.Login(ctx)
}
