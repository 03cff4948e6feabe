package objectstore

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Retry defaults, used when a RetryConfig field is zero.
const (
	defaultMaxAttempts    = 5
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

// RetryConfig bounds the retry behavior applied around backend calls.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget, first try included.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry; it doubles
	// after every attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the doubling.
	MaxBackoff time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

// DoRetry runs op, retrying with jittered exponential backoff as long as
// op returns a Transient error and the attempt budget lasts. Every other
// error kind propagates immediately: retrying a NotFound or
// PermissionDenied cannot change the outcome. op must return errors
// already mapped into the taxonomy.
func DoRetry(ctx context.Context, c RetryConfig, op func() error) error {
	c = c.withDefaults()

	backoff := c.InitialBackoff
	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil || !IsTransient(err) || attempt >= c.MaxAttempts {
			return err
		}

		delay := backoff + time.Duration(rand.Int63n(int64(backoff)/2+1))
		logrus.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).WithError(err).Warn("objectstore: retrying transient error")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &Error{Kind: Transient, Detail: ctx.Err()}
		}

		if backoff < c.MaxBackoff {
			backoff *= 2
			if backoff > c.MaxBackoff {
				backoff = c.MaxBackoff
			}
		}
	}
}
