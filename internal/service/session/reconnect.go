package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/zhouzirui/jobchat/internal/model/chat"
)

// ReconnectPolicy bounds automatic reconnection after a dropped live channel.
type ReconnectPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultReconnectPolicy returns a policy with attempts tries starting at one
// second and capped at thirty.
func DefaultReconnectPolicy(attempts int) ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

func (p ReconnectPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

var errSessionGone = errors.New("session closed")

func (c *Controller) reconnect(s *session, policy ReconnectPolicy) {
	log := c.opts.logger.With().Str("job", s.params.JobID).Logger()
	attempt := 0
	rejected := false

	op := func() error {
		attempt++
		c.mu.Lock()
		current := c.currentLocked(s)
		c.mu.Unlock()
		if !current {
			return backoff.Permanent(errSessionGone)
		}

		conn, err := c.dial(s)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			if c.opts.retryable != nil && !c.opts.retryable(err) {
				rejected = true
				return backoff.Permanent(err)
			}
			return err
		}

		c.mu.Lock()
		if !c.currentLocked(s) {
			c.mu.Unlock()
			_ = conn.Close()
			return backoff.Permanent(errSessionGone)
		}
		s.conn = conn
		emit := c.setStateLocked(chat.StateOpen, nil)
		c.mu.Unlock()
		emit()

		log.Info().Int("attempt", attempt).Msg("chat reconnected")
		go c.readLoop(s, conn)
		return nil
	}

	retries := uint64(policy.MaxAttempts - 1)
	b := backoff.WithContext(backoff.WithMaxRetries(policy.backOff(), retries), s.ctx)
	err := backoff.Retry(op, b)
	if err == nil || errors.Is(err, errSessionGone) {
		return
	}

	c.mu.Lock()
	if !c.currentLocked(s) {
		c.mu.Unlock()
		return
	}
	cause := fmt.Errorf("reconnect gave up after %d attempts: %w", attempt, err)
	if rejected {
		cause = fmt.Errorf("reconnect rejected: %w", err)
	}
	emit := c.setStateLocked(chat.StateClosed, cause)
	c.mu.Unlock()
	emit()
	log.Warn().Err(err).Int("attempts", attempt).Msg("chat reconnect exhausted")
}
