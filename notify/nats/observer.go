package nats

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/bytememiles/email-contactor-sub000"
)

const SubjectPrefix = "contactor.jobs."

// Publisher is the part of *nats.Conn the observer needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// JobEvent is published on contactor.jobs.<id> after every job change.
type JobEvent struct {
	Id          string              `json:"id"`
	Status      contactor.JobStatus `json:"status"`
	SentCount   int                 `json:"sentCount"`
	FailedCount int                 `json:"failedCount"`
	TotalCount  int                 `json:"totalCount"`
	Errors      int                 `json:"errors"`
	Warnings    int                 `json:"warnings"`
	Job         contactor.Job       `json:"job"`
}

// Observer forwards job updates to nats. Publishing is best effort: a
// failure is logged and never reaches the job store.
type Observer struct {
	publisher Publisher
	logger    logrus.FieldLogger
}

func NewObserver(publisher Publisher, logger logrus.FieldLogger) *Observer {
	if logger == nil {
		logger = logrus.New()
	}

	return &Observer{
		publisher: publisher,
		logger:    logger,
	}
}

func Subject(jobId string) string {
	return SubjectPrefix + jobId
}

func (o *Observer) JobUpdated(job contactor.Job) {
	logger := o.logger.WithField("job", job.Id)

	data, err := json.Marshal(JobEvent{
		Id:          job.Id,
		Status:      job.Status,
		SentCount:   job.SentCount,
		FailedCount: job.FailedCount,
		TotalCount:  job.TotalCount,
		Errors:      len(job.Errors),
		Warnings:    len(job.Warnings),
		Job:         job,
	})
	if err != nil {
		logger.WithError(err).Error("failed to encode job event")
		return
	}

	if err := o.publisher.Publish(Subject(job.Id), data); err != nil {
		logger.WithError(err).Warn("failed to publish job event")
	}
}
