package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

// ErrCodeTimeout is returned when no out-of-band code arrives in time.
var ErrCodeTimeout = errors.New("out-of-band code not provided in time")

// CodeProvider supplies second-factor codes: time-based ones generated from
// a shared secret, and out-of-band confirmation codes relayed through a
// designated drop file by an external channel (e.g. an email watcher).
type CodeProvider struct {
	secret   string
	dropPath string

	pollInterval time.Duration
	waitTimeout  time.Duration
}

// NewCodeProvider creates a provider using the shared TOTP secret and the
// drop file path polled for out-of-band codes.
func NewCodeProvider(secret, dropPath string) *CodeProvider {
	return &CodeProvider{
		secret:       secret,
		dropPath:     dropPath,
		pollInterval: 2 * time.Second,
		waitTimeout:  120 * time.Second,
	}
}

// TOTP returns the time-based code for the given instant.
func (p *CodeProvider) TOTP(now time.Time) (string, error) {
	if p.secret == "" {
		return "", errors.New("no shared secret configured")
	}
	code, err := totp.GenerateCode(p.secret, now)
	if err != nil {
		return "", fmt.Errorf("failed to generate time-based code: %w", err)
	}
	return code, nil
}

// WaitOutOfBand polls the drop file until a code appears, the wait times
// out, or ctx is cancelled. A stale code left from a previous attempt is
// discarded before polling starts, and the drop is cleared after
// consumption.
func (p *CodeProvider) WaitOutOfBand(ctx context.Context) (string, error) {
	// Discard anything left over from a previous attempt.
	_ = os.Remove(p.dropPath)

	deadline := time.NewTimer(p.waitTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(p.pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for out-of-band code: %w", ctx.Err())
		case <-deadline.C:
			return "", fmt.Errorf("%w (waited %s)", ErrCodeTimeout, p.waitTimeout)
		case <-tick.C:
			data, err := os.ReadFile(p.dropPath)
			if err != nil {
				continue
			}
			code := strings.TrimSpace(string(data))
			if code == "" {
				continue
			}
			_ = os.Remove(p.dropPath)
			return code, nil
		}
	}
}
