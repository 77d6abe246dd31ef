package transport

import (
	"time"
)

const (
	defaultBackoffBaseDelay  = 500 * time.Millisecond
	defaultBackoffMaxDelay   = 30 * time.Second
	defaultBackoffMaxRetries = 5
)

type Backoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay:  defaultBackoffBaseDelay,
		MaxDelay:   defaultBackoffMaxDelay,
		MaxRetries: defaultBackoffMaxRetries,
	}
}

// Delay returns the wait before retry number attempt (0 based):
// min(base * 2^attempt, max).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 || b.BaseDelay <= 0 {
		return 0
	}
	d := b.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if b.MaxDelay > 0 && d >= b.MaxDelay {
			return b.MaxDelay
		}
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

// retryState is the explicit state carried between attempts.
type retryState struct {
	attempt   int
	nextDelay time.Duration
}

// next advances the state after a failed attempt, returns false once the
// retry budget is used up.
func (b Backoff) next(st retryState) (retryState, bool) {
	if st.attempt >= b.MaxRetries {
		return st, false
	}
	return retryState{attempt: st.attempt + 1, nextDelay: b.Delay(st.attempt)}, true
}
