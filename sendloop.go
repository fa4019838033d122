package contactor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultSendDelay = time.Second

// delivery is one address of one receiver.
type delivery struct {
	receiver Receiver
	email    string
}

// plan flattens receivers into deliveries in list order, keeping those accepted
// by keep. Each delivery key appears once; repeats after the first are dropped.
func plan(receivers []Receiver, keep func(r Receiver, email string) bool) []delivery {
	out := []delivery{}
	seen := map[string]bool{}

	for _, r := range receivers {
		for _, email := range r.Emails {
			key := DeliveryKey(r.Id, email)
			if seen[key] {
				continue
			}
			seen[key] = true

			if keep == nil || keep(r, email) {
				out = append(out, delivery{receiver: r, email: email})
			}
		}
	}

	return out
}

// deliveryResult is reported after every single send attempt.
type deliveryResult struct {
	Receiver Receiver
	Email    string
	Err      error

	// Sent and Failed are cumulative, including the counts the loop started from.
	Sent   int
	Failed int
}

type loopInput struct {
	Deliveries []delivery
	Template   Template
	Profile    Profile
	Config     SMTPConfig

	// Sent and Failed seed the adaptive delay for resumed runs.
	Sent   int
	Failed int

	// Stop is checked before each send; returning true ends the loop.
	Stop func() bool
}

// sendLoop is the per-recipient loop shared by the scheduler and bulk sends.
type sendLoop struct {
	sender   *RetryingSender
	renderer Renderer
	logger   logrus.FieldLogger
	sleep    Sleeper
	delay    time.Duration
}

// pause is the gap before the next send; it doubles while failures outnumber successes.
func (l *sendLoop) pause(sent, failed int) time.Duration {
	if failed > sent {
		return l.delay * 2
	}

	return l.delay
}

// run sends every delivery in order and calls onResult after each attempt.
// It returns early, with stopped set, when Stop fires or ctx is done.
func (l *sendLoop) run(ctx context.Context, in loopInput, onResult func(deliveryResult)) (sent, failed int, stopped bool) {
	sent, failed = in.Sent, in.Failed

	for i, d := range in.Deliveries {
		if ctx.Err() != nil || (in.Stop != nil && in.Stop()) {
			return sent, failed, true
		}

		if i > 0 {
			if err := l.sleep(ctx, l.pause(sent, failed)); err != nil {
				return sent, failed, true
			}
		}

		err := l.deliver(ctx, in, d)
		if err != nil && ctx.Err() != nil {
			// Interrupted, not failed: the address stays unattempted.
			return sent, failed, true
		}

		if err == nil {
			sent++
		} else {
			failed++
			l.logger.
				WithField("receiver", d.receiver.Id).
				WithField("email", d.email).
				WithError(err).
				Warn("delivery failed")
		}

		if onResult != nil {
			onResult(deliveryResult{
				Receiver: d.receiver,
				Email:    d.email,
				Err:      err,
				Sent:     sent,
				Failed:   failed,
			})
		}
	}

	return sent, failed, false
}

func (l *sendLoop) deliver(ctx context.Context, in loopInput, d delivery) error {
	msg, err := compose(l.renderer, in.Template, in.Profile, in.Config, d.receiver, d.email)
	if err != nil {
		return err
	}

	return l.sender.Send(ctx, msg)
}
