package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	StoreFile     = "file"
	StorePostgres = "postgres"

	TransportSmtp    = "smtp"
	TransportMailgun = "mailgun"
	TransportSes     = "ses"
	TransportRelay   = "relay"
)

type Config struct {
	Addr string

	PollInterval time.Duration
	SendDelay    time.Duration
	SendTimeout  time.Duration
	MaxRetries   int
	StalePolicy  string

	Store       string
	DataFile    string
	DatabaseURL string

	Transport     string
	From          string
	MailgunDomain string
	MailgunApiKey string
	AwsRegion     string
	RelayURL      string

	NatsURL string

	LogLevel logrus.Level
}

// Load reads the configuration from the environment. Values that are set but
// unparsable are errors, as are missing settings the chosen backends need.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:        getenv("CONTACTOR_ADDR", ":8080"),
		StalePolicy: getenv("CONTACTOR_STALE_POLICY", "resume"),
		Store:       getenv("CONTACTOR_STORE", StoreFile),
		DataFile:    getenv("CONTACTOR_DATA_FILE", "contactor.json"),
		DatabaseURL: os.Getenv("CONTACTOR_DATABASE_URL"),
		Transport:   getenv("CONTACTOR_TRANSPORT", TransportSmtp),
		From:        os.Getenv("CONTACTOR_FROM"),

		MailgunDomain: os.Getenv("MAILGUN_DOMAIN"),
		MailgunApiKey: os.Getenv("MAILGUN_API_KEY"),
		AwsRegion:     os.Getenv("AWS_REGION"),
		RelayURL:      os.Getenv("CONTACTOR_RELAY_URL"),
		NatsURL:       os.Getenv("NATS_URL"),
	}

	var err error

	if cfg.PollInterval, err = duration("CONTACTOR_POLL_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.SendDelay, err = duration("CONTACTOR_SEND_DELAY", time.Second); err != nil {
		return nil, err
	}

	if cfg.SendTimeout, err = duration("CONTACTOR_SEND_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	retries := getenv("CONTACTOR_MAX_RETRIES", "3")
	if cfg.MaxRetries, err = strconv.Atoi(retries); err != nil || cfg.MaxRetries < 1 {
		return nil, errors.Errorf("invalid CONTACTOR_MAX_RETRIES %q", retries)
	}

	level := getenv("LOG_LEVEL", "info")
	if cfg.LogLevel, err = logrus.ParseLevel(level); err != nil {
		return nil, errors.Wrap(err, "invalid LOG_LEVEL")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.PollInterval <= 0 {
		return errors.New("CONTACTOR_POLL_INTERVAL must be positive")
	}

	if cfg.SendDelay < 0 {
		return errors.New("CONTACTOR_SEND_DELAY must not be negative")
	}

	if cfg.SendTimeout <= 0 {
		return errors.New("CONTACTOR_SEND_TIMEOUT must be positive")
	}

	if cfg.StalePolicy != "resume" && cfg.StalePolicy != "fail" {
		return errors.Errorf("invalid CONTACTOR_STALE_POLICY %q", cfg.StalePolicy)
	}

	switch cfg.Store {
	case StoreFile:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("CONTACTOR_DATABASE_URL environment variable is not set")
		}
	default:
		return errors.Errorf("invalid CONTACTOR_STORE %q", cfg.Store)
	}

	switch cfg.Transport {
	case TransportSmtp:
	case TransportMailgun:
		if cfg.MailgunDomain == "" {
			return errors.New("MAILGUN_DOMAIN environment variable is not set")
		}
		if cfg.MailgunApiKey == "" {
			return errors.New("MAILGUN_API_KEY environment variable is not set")
		}
	case TransportSes:
		if cfg.AwsRegion == "" {
			return errors.New("AWS_REGION environment variable is not set")
		}
	case TransportRelay:
		if cfg.RelayURL == "" {
			return errors.New("CONTACTOR_RELAY_URL environment variable is not set")
		}
	default:
		return errors.Errorf("invalid CONTACTOR_TRANSPORT %q", cfg.Transport)
	}

	return nil
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}

	return d, nil
}
