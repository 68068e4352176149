package hilighting

import (
	"time"

	"github.com/pkg/errors"
)

// An Option is a configuration function, which configures the Link.
type Option func(*Link) error

// WithIdleTimeout sets how long the link may sit idle before it is
// proactively disconnected. Zero disables idle disconnect.
func WithIdleTimeout(d time.Duration) Option {
	return func(l *Link) error {
		if d < 0 {
			return errors.New("idle timeout must not be negative")
		}
		l.idleTimeout = d
		return nil
	}
}

// WithAttempts overrides the per-command attempt budget.
func WithAttempts(n int) Option {
	return func(l *Link) error {
		if n < 1 {
			return errors.New("attempts must be at least 1")
		}
		l.attempts = n
		return nil
	}
}

// WithBackoff overrides the fixed pause between command attempts.
func WithBackoff(d time.Duration) Option {
	return func(l *Link) error {
		if d < 0 {
			return errors.New("backoff must not be negative")
		}
		l.backoff = d
		return nil
	}
}

// WithLogger replaces the link's logger.
func WithLogger(lg Logger) Option {
	return func(l *Link) error {
		if lg == nil {
			return errors.New("logger must not be nil")
		}
		l.log = lg
		return nil
	}
}

// WithDeviceInfo seeds the device-information mirror, e.g. from values
// persisted by a previous session. The link still refreshes them
// best-effort from the information characteristics after connecting.
func WithDeviceInfo(manufacturer, firmware, model string) Option {
	return func(l *Link) error {
		l.manufacturer = manufacturer
		l.firmware = firmware
		l.model = model
		return nil
	}
}
