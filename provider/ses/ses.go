package ses

import (
	"context"
	"net/mail"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"
	"github.com/pkg/errors"

	"github.com/bytememiles/email-contactor-sub000"
)

type sesTransport struct {
	ses sesiface.SESAPI

	from    string
	charset string
}

func NewSesTransport(sess *session.Session, from string) contactor.EmailTransport {
	return NewSesTransportWithClient(ses.New(sess), from)
}

func NewSesTransportWithClient(client sesiface.SESAPI, from string) contactor.EmailTransport {
	return &sesTransport{
		ses:     client,
		from:    from,
		charset: "UTF-8",
	}
}

func (transport *sesTransport) source(config contactor.SMTPConfig) string {
	if config.FromEmail == "" {
		return transport.from
	}

	return (&mail.Address{Name: config.FromName, Address: config.FromEmail}).String()
}

func (transport *sesTransport) content(data string) *ses.Content {
	return &ses.Content{
		Charset: aws.String(transport.charset),
		Data:    aws.String(data),
	}
}

func (transport *sesTransport) Send(ctx context.Context, msg *contactor.Message) error {
	source := transport.source(msg.Config)
	if source == "" {
		return contactor.NewTerminalError(errors.New("no sender address configured"))
	}

	body := &ses.Body{}
	if msg.HTML != "" {
		body.Html = transport.content(msg.HTML)
	}
	if msg.Text != "" {
		body.Text = transport.content(msg.Text)
	}

	input := &ses.SendEmailInput{
		Destination: &ses.Destination{
			ToAddresses: []*string{
				aws.String(msg.To),
			},
		},
		Message: &ses.Message{
			Body:    body,
			Subject: transport.content(msg.Subject),
		},
		Source: aws.String(source),
	}

	_, err := transport.ses.SendEmailWithContext(ctx, input)
	return classify(err)
}

func classify(err error) error {
	if err == nil {
		return nil
	}

	wrapped := errors.Wrap(err, "Failed to send email through ses")

	if failure, ok := err.(awserr.RequestFailure); ok {
		return contactor.StatusError(failure.StatusCode(), wrapped)
	}

	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case ses.ErrCodeMessageRejected,
			ses.ErrCodeMailFromDomainNotVerifiedException,
			ses.ErrCodeConfigurationSetDoesNotExistException:
			return contactor.NewTerminalError(wrapped)
		}
	}

	return contactor.NewRetryableError(wrapped)
}
