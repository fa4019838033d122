package contactor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxRetries  = 3
	DefaultSendTimeout = 30 * time.Second
	DefaultBackoff     = time.Second
)

var SendTimeoutErr = errors.New("The transport did not answer before the deadline")

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type SenderOption func(s *RetryingSender)

// SetMaxRetries sets the total number of attempts per message.
func SetMaxRetries(n int) SenderOption {
	return func(s *RetryingSender) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func SetSendTimeout(d time.Duration) SenderOption {
	return func(s *RetryingSender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// SetBackoff sets the first retry delay; each further retry doubles it.
func SetBackoff(d time.Duration) SenderOption {
	return func(s *RetryingSender) {
		if d >= 0 {
			s.backoff = d
		}
	}
}

func SetSenderSleeper(sleep Sleeper) SenderOption {
	return func(s *RetryingSender) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

func SetSenderLogger(logger logrus.FieldLogger) SenderOption {
	return func(s *RetryingSender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// RetryingSender pushes one message through a transport, retrying transient
// failures with exponential backoff and bounding every attempt by a timeout.
type RetryingSender struct {
	transport EmailTransport
	logger    logrus.FieldLogger
	sleep     Sleeper

	maxRetries int
	timeout    time.Duration
	backoff    time.Duration
}

func NewRetryingSender(transport EmailTransport, options ...SenderOption) *RetryingSender {
	s := &RetryingSender{
		transport:  transport,
		logger:     logrus.New(),
		sleep:      sleepContext,
		maxRetries: DefaultMaxRetries,
		timeout:    DefaultSendTimeout,
		backoff:    DefaultBackoff,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// Send returns nil once the message is delivered, or the last error after a
// terminal failure or after all attempts are used up.
func (s *RetryingSender) Send(ctx context.Context, msg *Message) error {
	var lastErr error

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.attempt(ctx, msg)
		if err == nil {
			return nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "send cancelled")
		}

		logger := s.logger.
			WithField("to", msg.To).
			WithField("attempt", attempt+1).
			WithError(err)

		if IsTerminal(err) {
			logger.Warn("terminal delivery error, not retrying")
			return err
		}

		if attempt == s.maxRetries-1 {
			break
		}

		delay := s.backoff * time.Duration(1<<uint(attempt))
		logger.WithField("delay", delay).Info("delivery failed, retrying")

		if err := s.sleep(ctx, delay); err != nil {
			return errors.Wrap(err, "send cancelled")
		}
	}

	return errors.Wrapf(lastErr, "giving up after %d attempts", s.maxRetries)
}

// attempt runs one transport call. When the deadline passes first the call
// is left to finish on its own and the attempt counts as a timeout.
func (s *RetryingSender) attempt(ctx context.Context, msg *Message) error {
	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- NewTerminalError(errors.Errorf("transport panicked: %v", r))
			}
		}()

		done <- s.transport.Send(attemptCtx, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return NewRetryableError(SendTimeoutErr)
	}
}
