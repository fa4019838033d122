package mailgun

import (
	"context"
	"net/mail"

	"github.com/mailgun/mailgun-go/v3"
	"github.com/pkg/errors"

	"github.com/bytememiles/email-contactor-sub000"
)

type MailgunOption func(t *mailgunTransport) error

func SetFrom(from string) MailgunOption {
	return func(t *mailgunTransport) error {
		t.from = from
		return nil
	}
}

func SetReplyTo(replyTo string) MailgunOption {
	return func(t *mailgunTransport) error {
		t.replyTo = replyTo
		return nil
	}
}

func SetTag(tag string) MailgunOption {
	return func(t *mailgunTransport) error {
		t.tag = tag
		return nil
	}
}

type mailgunTransport struct {
	mg mailgun.Mailgun

	from    string
	replyTo string
	tag     string
}

func NewMailgunTransport(mailgunClient mailgun.Mailgun, options ...MailgunOption) (contactor.EmailTransport, error) {
	t := &mailgunTransport{
		mg: mailgunClient,
	}

	for _, option := range options {
		if err := option(t); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// sender prefers the profile's smtp identity and falls back to the configured from.
func (t *mailgunTransport) sender(config contactor.SMTPConfig) string {
	if config.FromEmail == "" {
		return t.from
	}

	return (&mail.Address{Name: config.FromName, Address: config.FromEmail}).String()
}

func (t *mailgunTransport) Send(ctx context.Context, msg *contactor.Message) error {
	from := t.sender(msg.Config)
	if from == "" {
		return contactor.NewTerminalError(errors.New("no sender address configured"))
	}

	m := t.mg.NewMessage(from, msg.Subject, msg.Text, msg.To)
	if msg.HTML != "" {
		m.SetHtml(msg.HTML)
	}

	if t.tag != "" {
		if err := m.AddTag(t.tag); err != nil {
			return contactor.NewTerminalError(errors.Wrap(err, "Failed to add tags"))
		}
	}

	if t.replyTo != "" {
		m.SetReplyTo(t.replyTo)
	}

	_, _, err := t.mg.Send(ctx, m)
	return classify(err)
}

func classify(err error) error {
	if err == nil {
		return nil
	}

	var unexpected *mailgun.UnexpectedResponseError
	if errors.As(err, &unexpected) {
		return contactor.StatusError(unexpected.Actual, errors.Wrap(err, "Failed to send message"))
	}

	return contactor.NewRetryableError(errors.Wrap(err, "Failed to send message"))
}
