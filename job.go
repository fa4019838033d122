package contactor

import (
	"time"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobScheduled JobStatus = "scheduled"
	JobSending   JobStatus = "sending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Claimable reports whether the scheduler may move a job in this status to sending.
func (s JobStatus) Claimable() bool {
	return s == JobPending || s == JobScheduled
}

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobScheduled, JobSending, JobCompleted, JobFailed:
		return true
	}

	return false
}

type JobLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message"`
	Email      string    `json:"email,omitempty"`
	ReceiverId string    `json:"receiverId,omitempty"`
}

type Job struct {
	Id string `sql:",pk" json:"id"`

	ProfileId      string `sql:",notnull" json:"profileId"`
	TemplateId     string `sql:",notnull" json:"templateId"`
	ReceiverListId string `sql:",notnull" json:"receiverListId"`

	Status JobStatus `sql:",notnull" json:"status"`

	// ScheduledTime is the earliest instant the scheduler looks at the job.
	ScheduledTime time.Time `sql:",notnull" json:"scheduledTime"`

	// SendTime is an optional "HH:mm" wall-clock target applied per receiver timezone.
	SendTime string `json:"sendTime,omitempty"`

	SentCount   int `sql:",notnull" json:"sentCount"`
	FailedCount int `sql:",notnull" json:"failedCount"`
	TotalCount  int `sql:",notnull" json:"totalCount"`

	Errors   []JobLogEntry `json:"errors"`
	Warnings []JobLogEntry `json:"warnings"`

	// Attempted holds the delivery keys already counted, see DeliveryKey.
	Attempted map[string]bool `json:"attempted,omitempty"`

	// ResumeAt is set while a sending job is parked waiting for later timezones.
	ResumeAt *time.Time `json:"resumeAt,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// DeliveryKey identifies one address of one receiver inside a job.
func DeliveryKey(receiverId, email string) string {
	return receiverId + "/" + email
}

// Done reports whether every address of the job has been attempted.
func (j Job) Done() bool {
	return j.SentCount+j.FailedCount >= j.TotalCount
}

// Remaining is the number of addresses not yet attempted.
func (j Job) Remaining() int {
	return j.TotalCount - j.SentCount - j.FailedCount
}

// Due reports whether the scheduler should pick the job up at now.
func (j Job) Due(now time.Time) bool {
	if j.Status.Claimable() {
		return !j.ScheduledTime.After(now)
	}

	if j.Status == JobSending && j.ResumeAt != nil {
		return !j.ResumeAt.After(now)
	}

	return false
}

func (j Job) clone() Job {
	c := j

	c.Errors = append([]JobLogEntry(nil), j.Errors...)
	c.Warnings = append([]JobLogEntry(nil), j.Warnings...)

	if j.Attempted != nil {
		c.Attempted = make(map[string]bool, len(j.Attempted))
		for k, v := range j.Attempted {
			c.Attempted[k] = v
		}
	}

	if j.ResumeAt != nil {
		t := *j.ResumeAt
		c.ResumeAt = &t
	}

	return c
}

// JobRequest is what a caller supplies to create a scheduled job.
type JobRequest struct {
	ProfileId      string `json:"profileId"`
	TemplateId     string `json:"templateId"`
	ReceiverListId string `json:"receiverListId"`

	// SendTime "HH:mm" schedules each receiver at that local time.
	SendTime string `json:"sendTime,omitempty"`

	// ScheduledTime is used when SendTime is empty; zero means now.
	ScheduledTime time.Time `json:"scheduledTime,omitempty"`
}
