package smtp

import (
	"context"
	"net/textproto"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"

	"github.com/bytememiles/email-contactor-sub000"
)

const DefaultDialTimeout = 15 * time.Second

type SmtpOption func(t *smtpTransport)

func SetDialTimeout(d time.Duration) SmtpOption {
	return func(t *smtpTransport) {
		if d > 0 {
			t.dialTimeout = d
		}
	}
}

func SetLogger(logger logrus.FieldLogger) SmtpOption {
	return func(t *smtpTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// SetTLSPolicy overrides the STARTTLS policy used for non implicit TLS servers.
func SetTLSPolicy(policy mail.TLSPolicy) SmtpOption {
	return func(t *smtpTransport) {
		t.tlsPolicy = policy
	}
}

// smtpTransport dials the server named in each message's smtp config, so one
// transport serves every profile.
type smtpTransport struct {
	dialTimeout time.Duration
	tlsPolicy   mail.TLSPolicy
	logger      logrus.FieldLogger
}

func NewSmtpTransport(options ...SmtpOption) contactor.EmailTransport {
	t := &smtpTransport{
		dialTimeout: DefaultDialTimeout,
		tlsPolicy:   mail.TLSOpportunistic,
		logger:      logrus.New(),
	}

	for _, option := range options {
		option(t)
	}

	return t
}

func (t *smtpTransport) message(msg *contactor.Message) (*mail.Msg, error) {
	m := mail.NewMsg()

	if err := m.FromFormat(msg.Config.FromName, msg.Config.FromEmail); err != nil {
		return nil, errors.Wrapf(err, "invalid sender %q", msg.Config.FromEmail)
	}

	if err := m.To(msg.To); err != nil {
		return nil, errors.Wrapf(err, "invalid recipient %q", msg.To)
	}

	m.Subject(msg.Subject)
	m.SetUserAgent(contactor.UserAgent)

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	case msg.HTML != "":
		m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	default:
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
	}

	return m, nil
}

func (t *smtpTransport) client(config contactor.SMTPConfig) (*mail.Client, error) {
	options := []mail.Option{
		mail.WithPort(config.Port),
		mail.WithTimeout(t.dialTimeout),
	}

	if config.Secure {
		options = append(options, mail.WithSSL())
	} else {
		options = append(options, mail.WithTLSPolicy(t.tlsPolicy))
	}

	if config.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}

	return mail.NewClient(config.Host, options...)
}

func (t *smtpTransport) Send(ctx context.Context, msg *contactor.Message) error {
	m, err := t.message(msg)
	if err != nil {
		return contactor.NewTerminalError(err)
	}

	c, err := t.client(msg.Config)
	if err != nil {
		return contactor.NewTerminalError(errors.Wrapf(err, "invalid smtp config for %s", msg.Config.Host))
	}

	t.logger.
		WithField("host", msg.Config.Host).
		WithField("to", msg.To).
		Debug("sending email over smtp")

	return classify(c.DialAndSendWithContext(ctx, m))
}

// classify maps smtp failures onto retryable and terminal errors. Permanent
// 5yz replies and rejected addresses are terminal; 4yz replies and network
// trouble are retried.
func classify(err error) error {
	if err == nil {
		return nil
	}

	wrapped := errors.Wrap(err, "Failed to send email over smtp")

	var protocol *textproto.Error
	if errors.As(err, &protocol) {
		if protocol.Code >= 500 {
			return contactor.NewTerminalError(wrapped)
		}

		return contactor.NewRetryableError(wrapped)
	}

	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		if sendErr.IsTemp() {
			return contactor.NewRetryableError(wrapped)
		}

		switch sendErr.Reason {
		case mail.ErrSMTPMailFrom, mail.ErrSMTPRcptTo, mail.ErrGetSender, mail.ErrGetRcpts, mail.ErrSMTPData:
			return contactor.NewTerminalError(wrapped)
		}

		return contactor.NewRetryableError(wrapped)
	}

	return contactor.NewRetryableError(wrapped)
}
