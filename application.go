package contactor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const UserAgent = "EmailContactor/1.0"

type Application interface {
	HttpHandler() *HttpHandler

	// SendEmail relays a single message through the transport, without retries.
	SendEmail(ctx context.Context, msg *Message) error

	CreateJob(ctx context.Context, req JobRequest) (Job, error)
	DeleteJob(id string) error
	NewBulkSender() *BulkSender

	Jobs() *JobStore
	Scheduler() *Scheduler

	Start(ctx context.Context) error
	Shutdown(ctx context.Context)
}

type AppOption func(a *application)

func SetLogger(logger logrus.FieldLogger) AppOption {
	return func(a *application) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func SetEmailTransport(transport EmailTransport) AppOption {
	return func(a *application) {
		a.transport = transport
	}
}

func SetTemplateRepo(repo TemplateRepository) AppOption {
	return func(a *application) {
		a.templateRepo = repo
	}
}

func SetProfileRepo(repo ProfileRepository) AppOption {
	return func(a *application) {
		a.profileRepo = repo
	}
}

func SetSMTPConfigRepo(repo SMTPConfigRepository) AppOption {
	return func(a *application) {
		a.smtpConfigRepo = repo
	}
}

func SetReceiverListRepo(repo ReceiverListRepository) AppOption {
	return func(a *application) {
		a.receiverListRepo = repo
	}
}

func SetJobRepo(repo JobRepository) AppOption {
	return func(a *application) {
		a.jobRepo = repo
	}
}

func SetObserver(observer JobObserver) AppOption {
	return func(a *application) {
		a.observer = observer
	}
}

func SetRenderer(renderer Renderer) AppOption {
	return func(a *application) {
		a.renderer = renderer
	}
}

func SetTimezoneResolver(resolver TimezoneResolver) AppOption {
	return func(a *application) {
		a.resolver = resolver
	}
}

func SetPollInterval(d time.Duration) AppOption {
	return func(a *application) {
		if d > 0 {
			a.pollInterval = d
		}
	}
}

// SetSendDelay sets the pause between two sends; zero disables it.
func SetSendDelay(d time.Duration) AppOption {
	return func(a *application) {
		if d >= 0 {
			a.sendDelay = d
		}
	}
}

func SetStalePolicy(policy StalePolicy) AppOption {
	return func(a *application) {
		a.stalePolicy = policy
	}
}

func SetSenderOptions(options ...SenderOption) AppOption {
	return func(a *application) {
		a.senderOptions = append(a.senderOptions, options...)
	}
}

func SetClock(now func() time.Time) AppOption {
	return func(a *application) {
		if now != nil {
			a.now = now
		}
	}
}

func SetSleeper(sleep Sleeper) AppOption {
	return func(a *application) {
		if sleep != nil {
			a.sleep = sleep
		}
	}
}

type application struct {
	logger logrus.FieldLogger

	transport EmailTransport
	renderer  Renderer
	resolver  TimezoneResolver
	observer  JobObserver

	templateRepo     TemplateRepository
	profileRepo      ProfileRepository
	smtpConfigRepo   SMTPConfigRepository
	receiverListRepo ReceiverListRepository
	jobRepo          JobRepository

	pollInterval  time.Duration
	sendDelay     time.Duration
	stalePolicy   StalePolicy
	senderOptions []SenderOption
	now           func() time.Time
	sleep         Sleeper

	jobs      *JobStore
	sender    *RetryingSender
	scheduler *Scheduler
}

func NewApplication(options ...AppOption) (Application, error) {
	app := &application{
		logger:       logrus.New(),
		resolver:     LocationResolver,
		pollInterval: DefaultPollInterval,
		sendDelay:    DefaultSendDelay,
		stalePolicy:  StaleResume,
		now:          time.Now,
		sleep:        sleepContext,
	}

	for _, option := range options {
		option(app)
	}

	if err := app.ensureUsableConfiguration(); err != nil {
		return app, err
	}

	if app.renderer == nil {
		app.renderer = NewMarkdownRenderer()
	}

	jobs, err := NewJobStore(app.jobRepo,
		SetJobObserver(app.observer),
		SetJobStoreLogger(app.logger),
		SetJobStoreClock(app.now),
	)
	if err != nil {
		return app, err
	}
	app.jobs = jobs

	senderOptions := append([]SenderOption{
		SetSenderLogger(app.logger),
		SetSenderSleeper(app.sleep),
	}, app.senderOptions...)
	app.sender = NewRetryingSender(app.transport, senderOptions...)

	app.scheduler, err = NewScheduler(SchedulerConfig{
		Jobs:          app.jobs,
		Templates:     app.templateRepo,
		Profiles:      app.profileRepo,
		SMTPConfigs:   app.smtpConfigRepo,
		ReceiverLists: app.receiverListRepo,
		Sender:        app.sender,
		Renderer:      app.renderer,
		Resolver:      app.resolver,
		Interval:      app.pollInterval,
		SendDelay:     app.sendDelay,
		StalePolicy:   app.stalePolicy,
		Logger:        app.logger,
		Clock:         app.now,
		Sleeper:       app.sleep,
	})
	if err != nil {
		return app, err
	}

	return app, nil
}

func (a *application) ensureUsableConfiguration() error {
	if a.transport == nil {
		return errors.New("No email transport configured")
	}

	if a.templateRepo == nil {
		return errors.New("Missing template repository")
	}

	if a.profileRepo == nil {
		return errors.New("Missing profile repository")
	}

	if a.smtpConfigRepo == nil {
		return errors.New("Missing smtp config repository")
	}

	if a.receiverListRepo == nil {
		return errors.New("Missing receiver list repository")
	}

	if a.jobRepo == nil {
		return errors.New("Missing job repository")
	}

	if !a.stalePolicy.Valid() {
		return errors.Errorf("unknown stale policy %q", a.stalePolicy)
	}

	return nil
}

func (a *application) HttpHandler() *HttpHandler {
	return &HttpHandler{
		app: a,
	}
}

func (a *application) Jobs() *JobStore {
	return a.jobs
}

func (a *application) Scheduler() *Scheduler {
	return a.scheduler
}

func (a *application) Start(ctx context.Context) error {
	return a.scheduler.Start(ctx)
}

func (a *application) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.WithError(ctx.Err()).Warn("scheduler did not stop in time")
	}
}

func (a *application) SendEmail(ctx context.Context, msg *Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return NewTerminalError(errors.New("recipient is required"))
	}

	if strings.TrimSpace(msg.Subject) == "" {
		return NewTerminalError(errors.New("subject is required"))
	}

	if msg.HTML == "" && msg.Text == "" {
		return NewTerminalError(errors.New("html or text body is required"))
	}

	return a.transport.Send(ctx, msg)
}

func (a *application) NewBulkSender() *BulkSender {
	return &BulkSender{
		loop: &sendLoop{
			sender:   a.sender,
			renderer: a.renderer,
			logger:   a.logger,
			sleep:    a.sleep,
			delay:    a.sendDelay,
		},
		smtpConfigs: a.smtpConfigRepo,
		logger:      a.logger,
	}
}

// CreateJob validates the references and schedules a job. With a send time,
// the job starts being considered at the earliest receiver timezone's
// occurrence of that time.
func (a *application) CreateJob(ctx context.Context, req JobRequest) (Job, error) {
	if _, err := a.templateRepo.Get(req.TemplateId); err != nil {
		return Job{}, errors.Wrapf(err, "template %s", req.TemplateId)
	}

	profile, err := a.profileRepo.Get(req.ProfileId)
	if err != nil {
		return Job{}, errors.Wrapf(err, "profile %s", req.ProfileId)
	}

	if _, err := a.smtpConfigRepo.Get(profile.SMTPConfigId); err != nil {
		return Job{}, errors.Wrapf(err, "smtp config %s", profile.SMTPConfigId)
	}

	list, err := a.receiverListRepo.Get(req.ReceiverListId)
	if err != nil {
		return Job{}, errors.Wrapf(err, "receiver list %s", req.ReceiverListId)
	}

	receivers := NormalizeReceivers(ValidReceivers(list.Receivers), a.resolver)
	total := CountEmails(receivers)
	if total == 0 {
		return Job{}, errors.Wrapf(NoValidReceiversErr, "receiver list %s", req.ReceiverListId)
	}

	now := a.now()

	job := Job{
		Id:             uuid.New().String(),
		ProfileId:      req.ProfileId,
		TemplateId:     req.TemplateId,
		ReceiverListId: req.ReceiverListId,
		Status:         JobScheduled,
		ScheduledTime:  req.ScheduledTime,
		TotalCount:     total,
		Errors:         []JobLogEntry{},
		Warnings:       []JobLogEntry{},
		CreatedAt:      now,
	}

	if req.SendTime != "" {
		hour, minute, err := ParseSendTime(req.SendTime)
		if err != nil {
			return Job{}, err
		}

		earliest, _ := EarliestSendTime(CalculateSendTimes(receivers, now, hour, minute))
		job.SendTime = req.SendTime
		job.ScheduledTime = earliest
	} else if job.ScheduledTime.IsZero() {
		job.ScheduledTime = now
	}

	if err := a.jobs.Add(&job); err != nil {
		return job, err
	}

	a.logger.
		WithField("job", job.Id).
		WithField("scheduledTime", job.ScheduledTime).
		WithField("total", job.TotalCount).
		Info("job scheduled")

	return job, nil
}

// DeleteJob removes a job that is not currently sending.
func (a *application) DeleteJob(id string) error {
	job, err := a.jobs.Get(id)
	if err != nil {
		return err
	}

	if job.Status == JobSending && job.ResumeAt == nil {
		return errors.Wrap(InvalidTransitionErr, "cannot delete a job while it is sending")
	}

	return a.jobs.Delete(id)
}
