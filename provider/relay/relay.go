package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bytememiles/email-contactor-sub000"
)

const sendPath = "/api/send-email"

type RelayOption func(r *relay)

func SetHttpClient(client *retryablehttp.Client) RelayOption {
	return func(r *relay) {
		if client != nil {
			r.client = client
		}
	}
}

func SetLogger(logger logrus.FieldLogger) RelayOption {
	return func(r *relay) {
		if logger != nil {
			r.client.Logger = leveledLogger{logger}
		}
	}
}

// relay hands messages to another contactor's send-email endpoint. The
// retrying is left to the caller's RetryingSender, so the http client
// only makes a single attempt and the answer status is classified.
type relay struct {
	client *retryablehttp.Client
	url    string
}

func NewRelayTransport(baseUrl string, options ...RelayOption) contactor.EmailTransport {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	r := &relay{
		client: client,
		url:    strings.TrimRight(baseUrl, "/") + sendPath,
	}

	for _, option := range options {
		option(r)
	}

	return r
}

type smtpConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Secure    bool   `json:"secure"`
	FromEmail string `json:"fromEmail"`
	FromName  string `json:"fromName"`
}

type sendRequest struct {
	To         string     `json:"to"`
	Subject    string     `json:"subject"`
	Html       string     `json:"html"`
	Text       string     `json:"text"`
	SMTPConfig smtpConfig `json:"smtpConfig"`
}

type sendResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (r *relay) Send(ctx context.Context, msg *contactor.Message) error {
	body, err := json.Marshal(sendRequest{
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
		SMTPConfig: smtpConfig{
			Host:      msg.Config.Host,
			Port:      msg.Config.Port,
			Username:  msg.Config.Username,
			Password:  msg.Config.Password,
			Secure:    msg.Config.Secure,
			FromEmail: msg.Config.FromEmail,
			FromName:  msg.Config.FromName,
		},
	})
	if err != nil {
		return contactor.NewTerminalError(errors.Wrap(err, "Failed to encode relay request"))
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return contactor.NewTerminalError(err)
	}

	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	req.Header.Set("User-Agent", contactor.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return contactor.NewRetryableError(errors.Wrap(err, "Failed to reach relay"))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	answer := sendResponse{}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &answer); err != nil || answer.Error == "" {
		answer.Error = http.StatusText(resp.StatusCode)
	}

	return contactor.StatusError(resp.StatusCode, errors.Errorf("Unexpected response code %d received from relay: %s", resp.StatusCode, answer.Error))
}

// leveledLogger lets retryablehttp log through logrus.
type leveledLogger struct {
	logger logrus.FieldLogger
}

func (l leveledLogger) with(keysAndValues []interface{}) logrus.FieldLogger {
	logger := l.logger
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			logger = logger.WithField(key, keysAndValues[i+1])
		}
	}

	return logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Error(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Info(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}
