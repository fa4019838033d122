package contactor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
)

type templateRepository struct {
	mu        sync.Mutex
	templates map[string]Template
}

func (repo *templateRepository) Get(id string) (Template, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	t, ok := repo.templates[id]
	if !ok {
		return t, TemplateNotFoundErr
	}

	return t, nil
}

func (repo *templateRepository) GetAll() ([]Template, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	out := []Template{}
	for _, t := range repo.templates {
		out = append(out, t)
	}

	return out, nil
}

func (repo *templateRepository) Create(template *Template) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	repo.templates[template.Id] = *template
	return nil
}

func (repo *templateRepository) Update(template *Template) error {
	return repo.Create(template)
}

func (repo *templateRepository) Delete(template *Template) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	delete(repo.templates, template.Id)
	return nil
}

type profileRepository struct {
	profiles map[string]Profile
}

func (repo *profileRepository) Get(id string) (Profile, error) {
	p, ok := repo.profiles[id]
	if !ok {
		return p, ProfileNotFoundErr
	}

	return p, nil
}

func (repo *profileRepository) Create(profile *Profile) error {
	repo.profiles[profile.Id] = *profile
	return nil
}

func (repo *profileRepository) Update(profile *Profile) error {
	return repo.Create(profile)
}

type smtpConfigRepository struct {
	configs map[string]SMTPConfig
}

func (repo *smtpConfigRepository) Get(id string) (SMTPConfig, error) {
	c, ok := repo.configs[id]
	if !ok {
		return c, SMTPConfigNotFoundErr
	}

	return c, nil
}

func (repo *smtpConfigRepository) Create(config *SMTPConfig) error {
	repo.configs[config.Id] = *config
	return nil
}

func (repo *smtpConfigRepository) Update(config *SMTPConfig) error {
	return repo.Create(config)
}

type receiverListRepository struct {
	lists map[string]ReceiverList
}

func (repo *receiverListRepository) Get(id string) (ReceiverList, error) {
	l, ok := repo.lists[id]
	if !ok {
		return l, ReceiverListNotFoundErr
	}

	return l, nil
}

func (repo *receiverListRepository) Create(list *ReceiverList) error {
	repo.lists[list.Id] = *list
	return nil
}

func (repo *receiverListRepository) Update(list *ReceiverList) error {
	return repo.Create(list)
}

// jobRepository remembers the last persisted version of every job and can be
// told to fail writes.
type jobRepository struct {
	mu      sync.Mutex
	initial []Job
	saved   map[string]Job
	writes  int
	fail    bool
}

func (repo *jobRepository) GetAll() ([]Job, error) {
	return repo.initial, nil
}

func (repo *jobRepository) save(job *Job) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	repo.writes++
	if repo.fail {
		return errors.New("disk full")
	}

	if repo.saved == nil {
		repo.saved = map[string]Job{}
	}
	repo.saved[job.Id] = job.clone()

	return nil
}

func (repo *jobRepository) Create(job *Job) error {
	return repo.save(job)
}

func (repo *jobRepository) Update(job *Job) error {
	return repo.save(job)
}

func (repo *jobRepository) Delete(id string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	delete(repo.saved, id)
	return nil
}

func (repo *jobRepository) Saved(id string) (Job, bool) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	job, ok := repo.saved[id]
	return job, ok
}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Send(ctx context.Context, msg *Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func sentTo(address string) interface{} {
	return mock.MatchedBy(func(msg *Message) bool {
		return msg.To == address
	})
}

// recordingSleeper returns immediately and remembers what it was asked to wait.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()

	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]time.Duration(nil), s.delays...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = t
}

type recordingObserver struct {
	mu   sync.Mutex
	jobs []Job
}

func (o *recordingObserver) JobUpdated(job Job) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.jobs = append(o.jobs, job)
}

func (o *recordingObserver) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.jobs)
}

// fixture is an application over in-memory repositories holding one
// template, one profile with its smtp config, and a receiver list "list".
type fixture struct {
	app       *application
	transport *mockTransport
	sleeper   *recordingSleeper
	clock     *clock

	templates     *templateRepository
	receiverLists *receiverListRepository
	jobRepo       *jobRepository
}

var fixtureStart = time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)

func newFixture(receivers []Receiver, options ...AppOption) (*fixture, error) {
	f := &fixture{
		transport: &mockTransport{},
		sleeper:   &recordingSleeper{},
		clock:     &clock{now: fixtureStart},
		templates: &templateRepository{templates: map[string]Template{
			"tpl": {Id: "tpl", Name: "Intro", Subject: "Hi [first_name]", Content: "Hello [First_Name], this is [sender_name]."},
		}},
		receiverLists: &receiverListRepository{lists: map[string]ReceiverList{
			"list": {Id: "list", Name: "Leads", Receivers: receivers},
		}},
		jobRepo: &jobRepository{},
	}

	profiles := &profileRepository{profiles: map[string]Profile{
		"profile": {Id: "profile", FullName: "Ann Sender", SMTPConfigId: "smtp"},
	}}

	configs := &smtpConfigRepository{configs: map[string]SMTPConfig{
		"smtp": {Id: "smtp", Host: "smtp.example.com", Port: 587, FromEmail: "ann@example.com", FromName: "Ann Sender"},
	}}

	defaults := []AppOption{
		SetEmailTransport(f.transport),
		SetTemplateRepo(f.templates),
		SetProfileRepo(profiles),
		SetSMTPConfigRepo(configs),
		SetReceiverListRepo(f.receiverLists),
		SetJobRepo(f.jobRepo),
		SetClock(f.clock.Now),
		SetSleeper(f.sleeper.Sleep),
	}

	app, err := NewApplication(append(defaults, options...)...)
	if err != nil {
		return nil, err
	}

	f.app = app.(*application)
	return f, nil
}

func (f *fixture) createJob() (Job, error) {
	return f.app.CreateJob(context.Background(), JobRequest{
		ProfileId:      "profile",
		TemplateId:     "tpl",
		ReceiverListId: "list",
	})
}

func threeAddresses() []Receiver {
	return []Receiver{
		{Id: "r1", FullName: "Bea Buyer", Emails: []string{"bea@example.com", "bea@work.example.com"}, IsValid: true, Timezone: "UTC"},
		{Id: "r2", FullName: "Carl Client", Emails: []string{"carl@example.com"}, IsValid: true, Timezone: "UTC"},
		{Id: "r3", FullName: "Invalid Ivan", Emails: []string{"ivan@example.com"}, IsValid: false, Timezone: "UTC"},
	}
}
