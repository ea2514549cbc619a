// Package config provides process settings and the externally maintained
// locator and account configuration files.
package config

import (
	"flag"
	"os"
	"strconv"
)

// Settings holds the process configuration, populated from command-line
// flags with environment variable overrides.
type Settings struct {
	// Addr is the listen address for the HTTP surface.
	Addr string

	// Email and Password are the target-site credentials.
	Email    string
	Password string

	// TOTPSecret is the shared secret for time-based second-factor codes.
	TOTPSecret string

	// CodeDropPath is the file polled for out-of-band confirmation codes.
	CodeDropPath string

	// BrowserContextDir is the on-disk directory backing the persistent
	// browser session (cookies, local storage).
	BrowserContextDir string

	// Headless controls whether the browser runs without a window.
	Headless bool

	// CacheDBPath is the sqlite database file for cache and snapshots.
	CacheDBPath string

	// CacheTTLSeconds is the default cache TTL.
	CacheTTLSeconds int

	// RatesBaseURL is the exchange-rate service base URL.
	RatesBaseURL string

	// LocatorsPath and AccountsPath point at the YAML configuration files.
	LocatorsPath string
	AccountsPath string

	// LogLevel is debug/info/warn/error; LogFormat is json or console.
	LogLevel  string
	LogFormat string
}

// Parse reads flags and environment variables into a Settings value.
// Environment variables take precedence over flags.
func Parse() *Settings {
	s := &Settings{}

	flag.StringVar(&s.Addr, "addr", ":8000", "listen address")
	flag.StringVar(&s.Email, "email", "", "target site login email")
	flag.StringVar(&s.Password, "password", "", "target site login password")
	flag.StringVar(&s.TOTPSecret, "totp-secret", "", "shared secret for time-based codes")
	flag.StringVar(&s.CodeDropPath, "code-drop", "/tmp/mb-otp-code.txt", "file polled for out-of-band codes")
	flag.StringVar(&s.BrowserContextDir, "browser-context", "./browser-context", "persistent browser context directory")
	flag.BoolVar(&s.Headless, "headless", true, "run browser headless")
	flag.StringVar(&s.CacheDBPath, "cache-db", "./data/cache.db", "sqlite cache database path")
	flag.IntVar(&s.CacheTTLSeconds, "cache-ttl", 300, "default cache TTL in seconds")
	flag.StringVar(&s.RatesBaseURL, "rates-url", "https://open.er-api.com", "exchange rate service base URL")
	flag.StringVar(&s.LocatorsPath, "locators", "configs/locators.yaml", "locator map path")
	flag.StringVar(&s.AccountsPath, "accounts", "configs/accounts.yaml", "tracked accounts path")
	flag.StringVar(&s.LogLevel, "log-level", "info", "log level")
	flag.StringVar(&s.LogFormat, "log-format", "json", "log format (json or console)")
	flag.Parse()

	overrideString(&s.Addr, "MB_ADDR")
	overrideString(&s.Email, "MB_EMAIL")
	overrideString(&s.Password, "MB_PASSWORD")
	overrideString(&s.TOTPSecret, "MB_TOTP_SECRET")
	overrideString(&s.CodeDropPath, "MB_CODE_DROP")
	overrideString(&s.BrowserContextDir, "MB_BROWSER_CONTEXT_DIR")
	overrideBool(&s.Headless, "MB_HEADLESS")
	overrideString(&s.CacheDBPath, "MB_CACHE_DB_PATH")
	overrideInt(&s.CacheTTLSeconds, "MB_CACHE_TTL_SECONDS")
	overrideString(&s.RatesBaseURL, "MB_RATES_BASE_URL")
	overrideString(&s.LocatorsPath, "MB_LOCATORS_PATH")
	overrideString(&s.AccountsPath, "MB_ACCOUNTS_PATH")
	overrideString(&s.LogLevel, "MB_LOG_LEVEL")
	overrideString(&s.LogFormat, "MB_LOG_FORMAT")

	return s
}

func overrideString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func overrideBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func overrideInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
