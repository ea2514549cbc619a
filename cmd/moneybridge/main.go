// moneybridge runs the scraping daemon: it keeps one authenticated
// browser session against the target personal-finance site and serves
// the named operations over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"moneybridge/pkg/auth"
	"moneybridge/pkg/browser"
	"moneybridge/pkg/cache"
	"moneybridge/pkg/config"
	"moneybridge/pkg/logging"
	"moneybridge/pkg/rates"
	"moneybridge/pkg/scrape"
	"moneybridge/pkg/server"
	"moneybridge/pkg/service"
)

func main() {
	settings := config.Parse()

	logger, err := logging.New(settings.LogFormat, settings.LogLevel)
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(settings, logger); err != nil {
		logger.Fatal("daemon exited", zap.Error(err))
	}
}

func run(settings *config.Settings, logger *zap.Logger) error {
	if settings.Email == "" || settings.Password == "" {
		return errors.New("email and password are required")
	}

	locators, err := config.LoadLocators(settings.LocatorsPath)
	if err != nil {
		return err
	}
	accounts, err := config.LoadAccounts(settings.AccountsPath)
	if err != nil {
		return err
	}

	ttl := time.Duration(settings.CacheTTLSeconds) * time.Second
	store, err := cache.Open(settings.CacheDBPath, ttl, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr := browser.NewManager(browser.Options{
		UserDataDir: settings.BrowserContextDir,
		Headless:    settings.Headless,
	}, logger)
	if err := mgr.Initialize(); err != nil {
		return err
	}
	defer mgr.Shutdown()

	codes := auth.NewCodeProvider(settings.TOTPSecret, settings.CodeDropPath)
	authMgr := auth.NewManager(mgr, codes, locators.Auth, auth.Credentials{
		Email:    settings.Email,
		Password: settings.Password,
	}, logger)

	scraper := scrape.New(mgr, authMgr, locators, logger)
	rateClient := rates.NewClient(settings.RatesBaseURL)
	svc := service.New(scraper, store, rateClient, accounts, ttl, logger)

	httpServer := &http.Server{
		Addr:         settings.Addr,
		Handler:      server.New(svc, logger).Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweepLoop(ctx, svc, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", settings.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	return nil
}

// sweepLoop periodically removes expired cache rows.
func sweepLoop(ctx context.Context, svc *service.Service, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.SweepCache()
		}
	}
}
