package contactor

import "github.com/pkg/errors"

var (
	TemplateNotFoundErr     = errors.New("The template was not found")
	ProfileNotFoundErr      = errors.New("The profile was not found")
	SMTPConfigNotFoundErr   = errors.New("The smtp config was not found")
	ReceiverListNotFoundErr = errors.New("The receiver list was not found")
	JobNotFoundErr          = errors.New("The job was not found")

	NoValidReceiversErr  = errors.New("No valid receivers")
	InvalidTransitionErr = errors.New("Invalid job status transition")
	ProgressOverflowErr  = errors.New("Job progress exceeds total count")
)

type TemplateRepository interface {
	Get(id string) (Template, error)
	GetAll() ([]Template, error)

	Create(template *Template) error
	Update(template *Template) error
	Delete(template *Template) error
}

type ProfileRepository interface {
	Get(id string) (Profile, error)

	Create(profile *Profile) error
	Update(profile *Profile) error
}

type SMTPConfigRepository interface {
	Get(id string) (SMTPConfig, error)

	Create(config *SMTPConfig) error
	Update(config *SMTPConfig) error
}

type ReceiverListRepository interface {
	Get(id string) (ReceiverList, error)

	Create(list *ReceiverList) error
	Update(list *ReceiverList) error
}

// JobRepository persists jobs on behalf of the JobStore.
type JobRepository interface {
	GetAll() ([]Job, error)

	Create(*Job) error
	Update(*Job) error
	Delete(id string) error
}
