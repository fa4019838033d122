package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/go-pg/pg"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/mailgun/mailgun-go/v3"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bytememiles/email-contactor-sub000"
	"github.com/bytememiles/email-contactor-sub000/internal/config"
	natsnotify "github.com/bytememiles/email-contactor-sub000/notify/nats"
	mailgunprovider "github.com/bytememiles/email-contactor-sub000/provider/mailgun"
	"github.com/bytememiles/email-contactor-sub000/provider/relay"
	sesprovider "github.com/bytememiles/email-contactor-sub000/provider/ses"
	smtpprovider "github.com/bytememiles/email-contactor-sub000/provider/smtp"
	"github.com/bytememiles/email-contactor-sub000/storage/file"
	"github.com/bytememiles/email-contactor-sub000/storage/go-pg"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := logrus.New()

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	logger.SetLevel(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("contactor stopped with an error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	options := []contactor.AppOption{
		contactor.SetLogger(logger),
		contactor.SetPollInterval(cfg.PollInterval),
		contactor.SetSendDelay(cfg.SendDelay),
		contactor.SetStalePolicy(contactor.StalePolicy(cfg.StalePolicy)),
		contactor.SetSenderOptions(
			contactor.SetMaxRetries(cfg.MaxRetries),
			contactor.SetSendTimeout(cfg.SendTimeout),
		),
	}

	storeOptions, closeStore, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	options = append(options, storeOptions...)

	transport, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}
	options = append(options, contactor.SetEmailTransport(transport))

	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			return errors.Wrap(err, "Failed to connect to nats")
		}
		defer nc.Close()

		options = append(options, contactor.SetObserver(natsnotify.NewObserver(nc, logger)))
	}

	app, err := contactor.NewApplication(options...)
	if err != nil {
		return errors.Wrap(err, "Failed to create application")
	}

	router := mux.NewRouter()
	app.HttpHandler().RegisterRoutes(router)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", cfg.Addr).Info("http server starting")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		err := server.Shutdown(shutdownCtx)
		app.Shutdown(shutdownCtx)

		return err
	})

	return g.Wait()
}

func openStorage(cfg *config.Config) ([]contactor.AppOption, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		opts, err := pg.ParseURL(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "invalid CONTACTOR_DATABASE_URL")
		}

		db := pg.Connect(opts)
		if err := gopg.CreateSchema(db); err != nil {
			db.Close()
			return nil, nil, err
		}

		return []contactor.AppOption{
			contactor.SetTemplateRepo(gopg.NewTemplateRepository(db)),
			contactor.SetProfileRepo(gopg.NewProfileRepository(db)),
			contactor.SetSMTPConfigRepo(gopg.NewSMTPConfigRepository(db)),
			contactor.SetReceiverListRepo(gopg.NewReceiverListRepository(db)),
			contactor.SetJobRepo(gopg.NewJobRepository(db)),
		}, func() { db.Close() }, nil

	default:
		store, err := file.Open(cfg.DataFile)
		if err != nil {
			return nil, nil, err
		}

		return []contactor.AppOption{
			contactor.SetTemplateRepo(store.Templates()),
			contactor.SetProfileRepo(store.Profiles()),
			contactor.SetSMTPConfigRepo(store.SMTPConfigs()),
			contactor.SetReceiverListRepo(store.ReceiverLists()),
			contactor.SetJobRepo(store.Jobs()),
		}, func() {}, nil
	}
}

func newTransport(cfg *config.Config, logger logrus.FieldLogger) (contactor.EmailTransport, error) {
	switch cfg.Transport {
	case config.TransportMailgun:
		mg := mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunApiKey)
		return mailgunprovider.NewMailgunTransport(mg,
			mailgunprovider.SetFrom(cfg.From),
			mailgunprovider.SetTag("contactor"),
		)

	case config.TransportSes:
		sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.AwsRegion)})
		if err != nil {
			return nil, errors.Wrap(err, "Failed to create aws session")
		}

		return sesprovider.NewSesTransport(sess, cfg.From), nil

	case config.TransportRelay:
		return relay.NewRelayTransport(cfg.RelayURL, relay.SetLogger(logger)), nil

	default:
		return smtpprovider.NewSmtpTransport(smtpprovider.SetLogger(logger)), nil
	}
}
