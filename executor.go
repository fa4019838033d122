package contactor

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// executor runs a single job from claim to final status.
type executor struct {
	jobs          *JobStore
	templates     TemplateRepository
	profiles      ProfileRepository
	smtpConfigs   SMTPConfigRepository
	receiverLists ReceiverListRepository
	resolver      TimezoneResolver

	loop   *sendLoop
	logger logrus.FieldLogger
	now    func() time.Time
}

// setup is everything a job needs before its first send.
type setup struct {
	receivers []Receiver
	template  Template
	profile   Profile
	config    SMTPConfig
}

// execute claims and runs the job. Every outcome ends up recorded on the job;
// nothing escapes as an error or panic.
func (e *executor) execute(ctx context.Context, id string) {
	logger := e.logger.WithField("job", id)

	job, err := e.jobs.Claim(id)
	if err != nil {
		logger.WithError(err).Warn("job is no longer claimable, skipping")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.fail(logger, id, errors.Errorf("unexpected error: %v", r))
		}
	}()

	if err := e.run(ctx, logger, job); err != nil {
		e.fail(logger, id, err)
	}
}

func (e *executor) fail(logger logrus.FieldLogger, id string, cause error) {
	logger.WithError(cause).Error("job failed")

	if err := e.jobs.UpdateJobStatus(id, JobFailed, cause.Error()); err != nil {
		logger.WithError(err).Error("failed to mark job as failed")
	}
}

func (e *executor) resolve(job Job) (setup, error) {
	var s setup

	list, err := e.receiverLists.Get(job.ReceiverListId)
	if err != nil {
		return s, errors.Wrapf(err, "failed to load receiver list %s", job.ReceiverListId)
	}

	s.template, err = e.templates.Get(job.TemplateId)
	if err != nil {
		return s, errors.Wrapf(err, "failed to load template %s", job.TemplateId)
	}

	s.profile, err = e.profiles.Get(job.ProfileId)
	if err != nil {
		return s, errors.Wrapf(err, "failed to load profile %s", job.ProfileId)
	}

	s.config, err = e.smtpConfigs.Get(s.profile.SMTPConfigId)
	if err != nil {
		return s, errors.Wrapf(err, "failed to load smtp config %s", s.profile.SMTPConfigId)
	}

	s.receivers = NormalizeReceivers(ValidReceivers(list.Receivers), e.resolver)
	if len(s.receivers) == 0 || CountEmails(s.receivers) == 0 {
		return s, errors.Wrapf(NoValidReceiversErr, "receiver list %s", job.ReceiverListId)
	}

	return s, nil
}

func (e *executor) run(ctx context.Context, logger logrus.FieldLogger, job Job) error {
	s, err := e.resolve(job)
	if err != nil {
		return err
	}

	now := e.now()

	var deferred []delivery
	due := plan(s.receivers, func(r Receiver, email string) bool {
		if job.Attempted[DeliveryKey(r.Id, email)] {
			return false
		}

		if !receiverDue(job, r, now) {
			deferred = append(deferred, delivery{receiver: r, email: email})
			return false
		}

		return true
	})

	// Addresses removed from the list since earlier passes drop out of the
	// total; addresses added to it join.
	if total := job.SentCount + job.FailedCount + len(due) + len(deferred); total != job.TotalCount {
		logger.
			WithField("was", job.TotalCount).
			WithField("now", total).
			Warn("receiver list changed since the job was created")

		if err := e.jobs.UpdateJobTotal(job.Id, total); err != nil {
			return err
		}
	}

	logger.
		WithField("due", len(due)).
		WithField("deferred", len(deferred)).
		Info("job sending")

	_, _, stopped := e.loop.run(ctx, loopInput{
		Deliveries: due,
		Template:   s.template,
		Profile:    s.profile,
		Config:     s.config,
		Sent:       job.SentCount,
		Failed:     job.FailedCount,
	}, func(res deliveryResult) {
		e.record(logger, job.Id, res)
	})

	if stopped {
		logger.Info("job interrupted, parking it for resumption")
		return e.jobs.Park(job.Id, e.now())
	}

	if len(deferred) > 0 {
		return e.park(logger, job, deferred)
	}

	return e.finish(logger, job.Id)
}

// record stores the outcome of one attempt. The error entry is written
// before the counters so a finished count always has its errors.
func (e *executor) record(logger logrus.FieldLogger, id string, res deliveryResult) {
	if res.Err != nil {
		if err := e.jobs.AddJobError(id, res.Err.Error(), res.Email, res.Receiver.Id); err != nil {
			logger.WithError(err).Error("failed to record delivery error")
		}
	}

	if _, err := e.jobs.RecordAttempt(id, res.Receiver.Id, res.Email, res.Err == nil); err != nil {
		logger.WithError(err).Error("failed to record job progress")
	}
}

// park sets the job aside until the earliest deferred timezone comes due.
func (e *executor) park(logger logrus.FieldLogger, job Job, deferred []delivery) error {
	hour, minute, err := ParseSendTime(job.SendTime)
	if err != nil {
		return err
	}

	var resumeAt time.Time
	for _, d := range deferred {
		at, _ := nextOccurrence(d.receiver.Timezone, job.CreatedAt, hour, minute)
		if resumeAt.IsZero() || at.Before(resumeAt) {
			resumeAt = at
		}
	}

	message := fmt.Sprintf("%d emails waiting for their local send time %s", len(deferred), job.SendTime)
	if err := e.jobs.AddJobWarning(job.Id, message, "", ""); err != nil {
		logger.WithError(err).Error("failed to record job warning")
	}

	logger.WithField("resumeAt", resumeAt).Info("job parked")

	return e.jobs.Park(job.Id, resumeAt)
}

func (e *executor) finish(logger logrus.FieldLogger, id string) error {
	job, err := e.jobs.Get(id)
	if err != nil {
		return err
	}

	logger = logger.
		WithField("sent", job.SentCount).
		WithField("failed", job.FailedCount).
		WithField("total", job.TotalCount)

	if remaining := job.Remaining(); remaining != 0 {
		return errors.Errorf("%d of %d emails were never recorded", remaining, job.TotalCount)
	}

	if job.SentCount == 0 {
		logger.Warn("job failed, nothing was sent")
		return e.jobs.UpdateJobStatus(id, JobFailed, fmt.Sprintf("All %d emails failed to send", job.FailedCount))
	}

	if job.FailedCount > 0 {
		logger.Info("job completed with failures")
	} else {
		logger.Info("job completed")
	}

	return e.jobs.UpdateJobStatus(id, JobCompleted, "")
}
