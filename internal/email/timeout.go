package email

import (
	"context"
	"errors"
	"strings"
	"time"
)

// errTimeout is returned when a protocol call outlives its deadline
var errTimeout = errors.New("operation timed out")

// withTimeout runs fn and gives up after d or when ctx is cancelled. fn keeps
// running in the background after a timeout; the caller must make sure the
// resource it uses is torn down.
func withTimeout(ctx context.Context, d time.Duration, fn func() error) error {
	if d <= 0 {
		return fn()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// maskEmail hides most of an address for logging: jane@example.com becomes j***@example.com
func maskEmail(s string) string {
	s = strings.TrimSpace(s)
	at := strings.IndexByte(s, '@')
	if at <= 0 {
		return "***"
	}
	return s[:1] + "***" + s[at:]
}
