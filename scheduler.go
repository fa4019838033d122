package contactor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const DefaultPollInterval = 10 * time.Second

// StalePolicy decides what happens to jobs found in sending when the
// scheduler starts, i.e. jobs whose previous process died mid-send.
type StalePolicy string

const (
	// StaleResume continues the job, skipping addresses already attempted.
	StaleResume StalePolicy = "resume"
	// StaleFail marks the job failed.
	StaleFail StalePolicy = "fail"
)

func (p StalePolicy) Valid() bool {
	return p == StaleResume || p == StaleFail
}

type SchedulerConfig struct {
	Jobs          *JobStore
	Templates     TemplateRepository
	Profiles      ProfileRepository
	SMTPConfigs   SMTPConfigRepository
	ReceiverLists ReceiverListRepository

	Sender   *RetryingSender
	Renderer Renderer
	Resolver TimezoneResolver

	Interval time.Duration
	// SendDelay is the pause between two sends; zero disables it.
	SendDelay   time.Duration
	StalePolicy StalePolicy

	Logger  logrus.FieldLogger
	Clock   func() time.Time
	Sleeper Sleeper
}

type SchedulerStatus struct {
	Running     bool          `json:"running"`
	Sweeping    bool          `json:"sweeping"`
	Executing   []string      `json:"executing"`
	Interval    time.Duration `json:"interval"`
	Sweeps      int64         `json:"sweeps"`
	LastSweepAt *time.Time    `json:"lastSweepAt,omitempty"`
	DueJobs     int           `json:"dueJobs"`
}

type SweepResult struct {
	// Skipped is set when another sweep was still running.
	Skipped  bool     `json:"skipped"`
	Executed []string `json:"executed"`
}

// Scheduler polls the job store and executes due jobs one after another.
// Sweeps never overlap, and a job id in the executing set is never picked
// twice, so a manual trigger racing the interval cannot double-send.
type Scheduler struct {
	jobs        *JobStore
	exec        *executor
	interval    time.Duration
	stalePolicy StalePolicy
	logger      logrus.FieldLogger
	now         func() time.Time

	mu          sync.Mutex
	executing   map[string]struct{}
	sweeping    bool
	running     bool
	cancel      context.CancelFunc
	sweeps      int64
	lastSweepAt time.Time

	wg sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	switch {
	case cfg.Jobs == nil:
		return nil, errors.New("Missing job store")
	case cfg.Templates == nil:
		return nil, errors.New("Missing template repository")
	case cfg.Profiles == nil:
		return nil, errors.New("Missing profile repository")
	case cfg.SMTPConfigs == nil:
		return nil, errors.New("Missing smtp config repository")
	case cfg.ReceiverLists == nil:
		return nil, errors.New("Missing receiver list repository")
	case cfg.Sender == nil:
		return nil, errors.New("Missing sender")
	}

	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}

	if cfg.SendDelay < 0 {
		cfg.SendDelay = DefaultSendDelay
	}

	if cfg.StalePolicy == "" {
		cfg.StalePolicy = StaleResume
	}

	if !cfg.StalePolicy.Valid() {
		return nil, errors.Errorf("unknown stale policy %q", cfg.StalePolicy)
	}

	if cfg.Renderer == nil {
		cfg.Renderer = NewMarkdownRenderer()
	}

	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if cfg.Sleeper == nil {
		cfg.Sleeper = sleepContext
	}

	return &Scheduler{
		jobs: cfg.Jobs,
		exec: &executor{
			jobs:          cfg.Jobs,
			templates:     cfg.Templates,
			profiles:      cfg.Profiles,
			smtpConfigs:   cfg.SMTPConfigs,
			receiverLists: cfg.ReceiverLists,
			resolver:      cfg.Resolver,
			loop: &sendLoop{
				sender:   cfg.Sender,
				renderer: cfg.Renderer,
				logger:   cfg.Logger,
				sleep:    cfg.Sleeper,
				delay:    cfg.SendDelay,
			},
			logger: cfg.Logger,
			now:    cfg.Clock,
		},
		interval:    cfg.Interval,
		stalePolicy: cfg.StalePolicy,
		logger:      cfg.Logger,
		now:         cfg.Clock,
		executing:   map[string]struct{}{},
	}, nil
}

// Start recovers stale jobs, sweeps once and keeps sweeping every interval
// until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	if _, err := s.RecoverStale(); err != nil {
		s.logger.WithError(err).Error("failed to recover stale jobs")
	}

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.WithField("interval", s.interval).Info("scheduler started")

	return nil
}

// Stop cancels the poll loop and waits for the current sweep to return.
// A job interrupted mid-send is parked and resumes on the next start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// TriggerSweepNow runs a sweep on the caller's goroutine. It is skipped when
// a sweep is already in progress.
func (s *Scheduler) TriggerSweepNow(ctx context.Context) SweepResult {
	return s.sweep(ctx)
}

func (s *Scheduler) Status() SchedulerStatus {
	now := s.now()
	due := len(s.jobs.Due(now))

	s.mu.Lock()
	defer s.mu.Unlock()

	executing := make([]string, 0, len(s.executing))
	for id := range s.executing {
		executing = append(executing, id)
	}
	sort.Strings(executing)

	status := SchedulerStatus{
		Running:   s.running,
		Sweeping:  s.sweeping,
		Executing: executing,
		Interval:  s.interval,
		Sweeps:    s.sweeps,
		DueJobs:   due,
	}

	if !s.lastSweepAt.IsZero() {
		last := s.lastSweepAt
		status.LastSweepAt = &last
	}

	return status
}

func (s *Scheduler) sweep(ctx context.Context) SweepResult {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		s.logger.Debug("previous sweep still running, skipping")
		return SweepResult{Skipped: true}
	}

	s.sweeping = true
	s.sweeps++
	s.lastSweepAt = s.now()
	now := s.lastSweepAt
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	result := SweepResult{Executed: []string{}}

	for _, job := range s.jobs.Due(now) {
		if ctx.Err() != nil {
			break
		}

		if !s.claim(job.Id) {
			continue
		}

		s.executeClaimed(ctx, job.Id)
		result.Executed = append(result.Executed, job.Id)
	}

	return result
}

func (s *Scheduler) executeClaimed(ctx context.Context, id string) {
	defer s.release(id)

	s.exec.execute(ctx, id)
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executing[id]; ok {
		return false
	}

	s.executing[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.executing, id)
}

// RecoverStale applies the stale policy to jobs left in sending by a
// previous process and returns how many it touched.
func (s *Scheduler) RecoverStale() (int, error) {
	recovered := 0
	var lastErr error

	for _, job := range s.jobs.List() {
		if job.Status != JobSending || job.ResumeAt != nil {
			continue
		}

		s.mu.Lock()
		_, busy := s.executing[job.Id]
		s.mu.Unlock()

		if busy {
			continue
		}

		logger := s.logger.
			WithField("job", job.Id).
			WithField("policy", s.stalePolicy)

		var err error
		switch s.stalePolicy {
		case StaleFail:
			err = s.jobs.UpdateJobStatus(job.Id, JobFailed, "Interrupted while sending")
		default:
			if err = s.jobs.AddJobWarning(job.Id, "Interrupted while sending, resuming", "", ""); err == nil {
				err = s.jobs.Park(job.Id, s.now())
			}
		}

		if err != nil {
			logger.WithError(err).Error("failed to recover stale job")
			lastErr = err
			continue
		}

		logger.Warn("recovered stale job")
		recovered++
	}

	return recovered, lastErr
}
