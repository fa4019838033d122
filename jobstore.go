package contactor

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// JobObserver is told about every job mutation, after it has been applied.
type JobObserver interface {
	JobUpdated(job Job)
}

type JobStoreOption func(s *JobStore)

func SetJobObserver(observer JobObserver) JobStoreOption {
	return func(s *JobStore) {
		s.observer = observer
	}
}

func SetJobStoreLogger(logger logrus.FieldLogger) JobStoreOption {
	return func(s *JobStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func SetJobStoreClock(now func() time.Time) JobStoreOption {
	return func(s *JobStore) {
		if now != nil {
			s.now = now
		}
	}
}

// JobStore owns the job collection. All status and progress changes go
// through it; the repository only persists what the store decided.
// The in-memory state is kept even when persisting fails, the error is returned.
type JobStore struct {
	repo     JobRepository
	observer JobObserver
	logger   logrus.FieldLogger
	now      func() time.Time

	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
}

func NewJobStore(repo JobRepository, options ...JobStoreOption) (*JobStore, error) {
	s := &JobStore{
		repo:   repo,
		logger: logrus.New(),
		now:    time.Now,
		jobs:   map[string]*Job{},
	}

	for _, option := range options {
		option(s)
	}

	if repo == nil {
		return nil, errors.New("Missing job repository")
	}

	jobs, err := repo.GetAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load jobs")
	}

	for i := range jobs {
		job := jobs[i].clone()
		s.jobs[job.Id] = &job
		s.order = append(s.order, job.Id)
	}

	return s, nil
}

func (s *JobStore) Add(job *Job) error {
	if job.Id == "" {
		return errors.New("job id is required")
	}

	if !job.Status.Valid() {
		return errors.Errorf("invalid job status %q", job.Status)
	}

	if job.TotalCount < 0 || job.SentCount+job.FailedCount > job.TotalCount {
		return ProgressOverflowErr
	}

	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	s.mu.Lock()
	if _, ok := s.jobs[job.Id]; ok {
		s.mu.Unlock()
		return errors.Errorf("job %s already exists", job.Id)
	}

	stored := job.clone()
	s.jobs[job.Id] = &stored
	s.order = append(s.order, job.Id)

	if err := s.repo.Create(job); err != nil {
		delete(s.jobs, job.Id)
		s.order = s.order[:len(s.order)-1]
		s.mu.Unlock()

		return errors.Wrap(err, "failed to persist job")
	}
	s.mu.Unlock()

	s.notify(stored)

	return nil
}

func (s *JobStore) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, JobNotFoundErr
	}

	return job.clone(), nil
}

// List returns all jobs in insertion order.
func (s *JobStore) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id].clone())
	}

	return out
}

// Due returns the jobs eligible for execution at now, in insertion order.
func (s *JobStore) Due(now time.Time) []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Job{}
	for _, id := range s.order {
		if job := s.jobs[id]; job.Due(now) {
			out = append(out, job.clone())
		}
	}

	return out
}

func (s *JobStore) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.jobs[id]; !ok {
		s.mu.Unlock()
		return JobNotFoundErr
	}

	delete(s.jobs, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	err := s.repo.Delete(id)
	s.mu.Unlock()

	return errors.Wrap(err, "failed to delete job")
}

// Claim moves a due job into sending. A parked sending job is un-parked.
// Anything else fails with InvalidTransitionErr, which is how a duplicate
// trigger loses the race.
func (s *JobStore) Claim(id string) (Job, error) {
	return s.mutate(id, func(job *Job) error {
		now := s.now()

		switch {
		case job.Status.Claimable():
			job.Status = JobSending
			job.StartedAt = &now
		case job.Status == JobSending && job.ResumeAt != nil:
			job.ResumeAt = nil
		default:
			return errors.Wrapf(InvalidTransitionErr, "cannot claim job in status %s", job.Status)
		}

		return nil
	})
}

// Park keeps a sending job aside until resumeAt.
func (s *JobStore) Park(id string, resumeAt time.Time) error {
	_, err := s.mutate(id, func(job *Job) error {
		if job.Status != JobSending {
			return errors.Wrapf(InvalidTransitionErr, "cannot park job in status %s", job.Status)
		}

		job.ResumeAt = &resumeAt
		return nil
	})

	return err
}

// UpdateJobStatus changes the status; a non-empty message is appended to the error log.
func (s *JobStore) UpdateJobStatus(id string, status JobStatus, message string) error {
	_, err := s.mutate(id, func(job *Job) error {
		if err := checkTransition(job.Status, status); err != nil {
			return err
		}

		now := s.now()

		job.Status = status
		if status == JobSending && job.StartedAt == nil {
			job.StartedAt = &now
		}

		if status.Terminal() {
			job.CompletedAt = &now
			job.ResumeAt = nil
		}

		if message != "" {
			job.Errors = append(job.Errors, JobLogEntry{Timestamp: now, Message: message})
		}

		return nil
	})

	return err
}

func checkTransition(from, to JobStatus) error {
	if !to.Valid() {
		return errors.Wrapf(InvalidTransitionErr, "unknown status %q", to)
	}

	switch {
	case from.Terminal():
	case from.Claimable():
		return nil
	case from == JobSending && to != JobPending && to != JobScheduled:
		return nil
	}

	return errors.Wrapf(InvalidTransitionErr, "%s to %s", from, to)
}

func (s *JobStore) UpdateJobProgress(id string, sent, failed int) error {
	_, err := s.mutate(id, func(job *Job) error {
		if sent < 0 || failed < 0 || sent+failed > job.TotalCount {
			return ProgressOverflowErr
		}

		job.SentCount = sent
		job.FailedCount = failed
		return nil
	})

	return err
}

// UpdateJobTotal resets the number of addresses a job will attempt.
func (s *JobStore) UpdateJobTotal(id string, total int) error {
	_, err := s.mutate(id, func(job *Job) error {
		if total < job.SentCount+job.FailedCount {
			return ProgressOverflowErr
		}

		job.TotalCount = total
		return nil
	})

	return err
}

// RecordAttempt counts one attempted address exactly once.
func (s *JobStore) RecordAttempt(id, receiverId, email string, sent bool) (Job, error) {
	return s.mutate(id, func(job *Job) error {
		key := DeliveryKey(receiverId, email)
		if job.Attempted[key] {
			return errors.Errorf("delivery %s already recorded", key)
		}

		if job.SentCount+job.FailedCount >= job.TotalCount {
			return ProgressOverflowErr
		}

		if job.Attempted == nil {
			job.Attempted = map[string]bool{}
		}
		job.Attempted[key] = true

		if sent {
			job.SentCount++
		} else {
			job.FailedCount++
		}

		return nil
	})
}

func (s *JobStore) AddJobError(id, message, email, receiverId string) error {
	_, err := s.mutate(id, func(job *Job) error {
		job.Errors = append(job.Errors, JobLogEntry{
			Timestamp:  s.now(),
			Message:    message,
			Email:      email,
			ReceiverId: receiverId,
		})
		return nil
	})

	return err
}

func (s *JobStore) AddJobWarning(id, message, email, receiverId string) error {
	_, err := s.mutate(id, func(job *Job) error {
		job.Warnings = append(job.Warnings, JobLogEntry{
			Timestamp:  s.now(),
			Message:    message,
			Email:      email,
			ReceiverId: receiverId,
		})
		return nil
	})

	return err
}

// mutate applies fn to a copy of the job and swaps it in when fn succeeds.
func (s *JobStore) mutate(id string, fn func(job *Job) error) (Job, error) {
	s.mu.Lock()
	current, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return Job{}, JobNotFoundErr
	}

	updated := current.clone()
	if err := fn(&updated); err != nil {
		s.mu.Unlock()
		return current.clone(), err
	}

	updated.UpdatedAt = s.now()
	s.jobs[id] = &updated
	snapshot := updated.clone()

	// Persisting under the lock keeps the repository in mutation order.
	err := s.repo.Update(&snapshot)
	s.mu.Unlock()

	s.notify(snapshot)

	if err != nil {
		s.logger.
			WithField("job", id).
			WithError(err).
			Error("failed to persist job")

		return snapshot, errors.Wrap(err, "failed to persist job")
	}

	return snapshot, nil
}

func (s *JobStore) notify(job Job) {
	if s.observer != nil {
		s.observer.JobUpdated(job)
	}
}
