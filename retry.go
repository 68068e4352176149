package hilighting

import "time"

const (
	// DefaultAttempts is how many times a command is tried end to end,
	// reconnect included, before its failure is surfaced.
	DefaultAttempts = 3

	// DefaultBackoff is the fixed pause between attempts. There is no
	// exponential growth; the radio either recovers quickly or the
	// attempt budget runs out.
	DefaultBackoff = 250 * time.Millisecond
)

// retry runs fn up to l.attempts times. A permanent addressing failure
// is surfaced immediately, as is any error the transport did not mark
// transient. The final failure is logged at error level and returned.
func (l *Link) retry(op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if IsNotFound(err) {
			return err
		}

		if !IsTransient(err) {
			return err
		}

		if attempt >= l.attempts {
			l.log.Errorf("max retries reached on %s: %v", op, err)
			return err
		}

		l.log.Warnf("retry %d/%d on %s: %v", attempt, l.attempts, op, err)
		l.sleep(l.backoff)
	}
}
