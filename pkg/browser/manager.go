// Package browser owns the single persistent browser session used for all
// scraping. The target site's UI state (modals, pending forms) is sensitive
// to concurrent navigation, so every page-driving operation is serialized
// through one exclusive gate.
package browser

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// Options configures the persistent browser session.
type Options struct {
	// UserDataDir is the on-disk directory holding cookies and storage, so
	// the authenticated session survives process restarts.
	UserDataDir string

	// Headless controls whether the browser runs without a window.
	Headless bool

	// Locale and TimezoneID match the target site's expected audience.
	Locale     string
	TimezoneID string
}

// Manager owns exactly one persistent browser context. It is created at
// process start and torn down at process stop; all access goes through
// WithPage.
type Manager struct {
	initMu      sync.Mutex
	pw          *playwright.Playwright
	context     playwright.BrowserContext
	initialized bool

	// The gate serializes page-driving operations. Waiters hold tickets
	// granted in arrival order, and a parked waiter can still observe
	// context cancellation.
	queueMu sync.Mutex
	waiters []chan struct{}
	busy    bool

	opts   Options
	logger *zap.Logger

	activityMu   sync.Mutex
	lastActivity time.Time
}

// Status reports the session's liveness for health checks.
type Status struct {
	Initialized  bool      `json:"initialized"`
	LastActivity time.Time `json:"last_activity"`
}

// NewManager creates a session manager. Initialize must be called before
// WithPage.
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if opts.Locale == "" {
		opts.Locale = "ja-JP"
	}
	if opts.TimezoneID == "" {
		opts.TimezoneID = "Asia/Tokyo"
	}
	return &Manager{
		opts:   opts,
		logger: logger,
	}
}

// Initialize installs and starts Playwright and launches the persistent
// context. Calling it again with a healthy session is a no-op.
func (m *Manager) Initialize() error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.initialized {
		return nil
	}

	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(runOpts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.logger.Info("launching persistent browser context",
		zap.String("user_data_dir", m.opts.UserDataDir),
		zap.Bool("headless", m.opts.Headless))

	browserCtx, err := pw.Chromium.LaunchPersistentContext(
		m.opts.UserDataDir,
		playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless:   playwright.Bool(m.opts.Headless),
			Locale:     playwright.String(m.opts.Locale),
			TimezoneId: playwright.String(m.opts.TimezoneID),
			Viewport: &playwright.Size{
				Width:  1920,
				Height: 1080,
			},
			UserAgent: playwright.String(
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
					"AppleWebKit/537.36 (KHTML, like Gecko) " +
					"Chrome/131.0.0.0 Safari/537.36"),
			Args: []string{
				"--disable-blink-features=AutomationControlled",
				"--no-sandbox",
				"--disable-dev-shm-usage",
			},
		},
	)
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch persistent context: %w", err)
	}

	m.pw = pw
	m.context = browserCtx
	m.initialized = true
	m.touch()

	m.logger.Info("browser session initialized")
	return nil
}

// WithPage acquires exclusive use of the session, opens a fresh page, hands
// it to fn and closes the page on every exit path. Concurrent callers queue
// in arrival order.
func (m *Manager) WithPage(ctx context.Context, fn func(playwright.Page) error) error {
	if err := m.acquire(ctx); err != nil {
		return fmt.Errorf("waiting for browser session: %w", err)
	}
	defer m.release()

	m.initMu.Lock()
	browserCtx := m.context
	ok := m.initialized
	m.initMu.Unlock()
	if !ok {
		return fmt.Errorf("browser session not initialized")
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			m.logger.Warn("failed to close page", zap.Error(err))
		}
	}()

	m.touch()
	return fn(page)
}

// acquire takes the gate, queueing behind every earlier caller. A waiter
// whose context is cancelled leaves the queue; if its ticket was granted
// in the same instant, the grant passes on to the next waiter.
func (m *Manager) acquire(ctx context.Context) error {
	m.queueMu.Lock()
	if !m.busy {
		m.busy = true
		m.queueMu.Unlock()
		return nil
	}
	ticket := make(chan struct{})
	m.waiters = append(m.waiters, ticket)
	m.queueMu.Unlock()

	select {
	case <-ticket:
		return nil
	case <-ctx.Done():
		m.queueMu.Lock()
		for i, w := range m.waiters {
			if w == ticket {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				m.queueMu.Unlock()
				return ctx.Err()
			}
		}
		m.queueMu.Unlock()
		// The ticket was already granted; release so the gate is not
		// held by a departed caller.
		m.release()
		return ctx.Err()
	}
}

// release hands the gate to the oldest waiter, or marks it free.
func (m *Manager) release() {
	m.queueMu.Lock()
	if len(m.waiters) > 0 {
		next := m.waiters[0]
		m.waiters = m.waiters[1:]
		m.queueMu.Unlock()
		close(next)
		return
	}
	m.busy = false
	m.queueMu.Unlock()
}

// Status returns the session's liveness and last-activity timestamp.
func (m *Manager) Status() Status {
	m.initMu.Lock()
	initialized := m.initialized
	m.initMu.Unlock()

	m.activityMu.Lock()
	last := m.lastActivity
	m.activityMu.Unlock()

	return Status{Initialized: initialized, LastActivity: last}
}

// Shutdown closes the browser context and stops Playwright. Safe to call
// multiple times.
func (m *Manager) Shutdown() error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if !m.initialized {
		return nil
	}

	if err := m.context.Close(); err != nil {
		m.logger.Warn("error closing browser context", zap.Error(err))
	}
	m.context = nil

	if err := m.pw.Stop(); err != nil {
		m.pw = nil
		m.initialized = false
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	m.pw = nil
	m.initialized = false

	m.logger.Info("browser session shut down")
	return nil
}

func (m *Manager) touch() {
	m.activityMu.Lock()
	m.lastActivity = time.Now()
	m.activityMu.Unlock()
}
