package file

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/bytememiles/email-contactor-sub000"
)

// document is the on-disk layout, one json file for everything.
type document struct {
	Templates     map[string]contactor.Template     `json:"templates"`
	Profiles      map[string]contactor.Profile      `json:"profiles"`
	SMTPConfigs   map[string]contactor.SMTPConfig   `json:"smtpConfigs"`
	ReceiverLists map[string]contactor.ReceiverList `json:"receiverLists"`
	Jobs          []contactor.Job                   `json:"jobs"`
}

func emptyDocument() *document {
	return &document{
		Templates:     map[string]contactor.Template{},
		Profiles:      map[string]contactor.Profile{},
		SMTPConfigs:   map[string]contactor.SMTPConfig{},
		ReceiverLists: map[string]contactor.ReceiverList{},
		Jobs:          []contactor.Job{},
	}
}

// Store keeps all entities in memory and rewrites the whole file after each
// change. An empty path keeps it memory only. It is meant for a single process.
type Store struct {
	path string

	mu  sync.Mutex
	doc *document
}

func Open(path string) (*Store, error) {
	s := &Store{path: path, doc: emptyDocument()}

	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to read %s", path)
	}

	if len(data) == 0 {
		return s, nil
	}

	doc := emptyDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, errors.Wrapf(err, "Failed to parse %s", path)
	}

	s.doc = doc
	s.fill()

	return s, nil
}

// fill replaces maps a hand edited file may have left null.
func (s *Store) fill() {
	empty := emptyDocument()

	if s.doc.Templates == nil {
		s.doc.Templates = empty.Templates
	}
	if s.doc.Profiles == nil {
		s.doc.Profiles = empty.Profiles
	}
	if s.doc.SMTPConfigs == nil {
		s.doc.SMTPConfigs = empty.SMTPConfigs
	}
	if s.doc.ReceiverLists == nil {
		s.doc.ReceiverLists = empty.ReceiverLists
	}
	if s.doc.Jobs == nil {
		s.doc.Jobs = empty.Jobs
	}
}

// persist must be called with mu held. The file is replaced through a rename
// so a crash never leaves it half written.
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "Failed to encode store")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return errors.Wrap(err, "Failed to create temp file")
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "Failed to write store")
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "Failed to write store")
	}

	return errors.Wrap(os.Rename(tmp.Name(), s.path), "Failed to replace store")
}

func (s *Store) update(fn func(doc *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.doc); err != nil {
		return err
	}

	return s.persist()
}

func (s *Store) read(fn func(doc *document)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(s.doc)
}

func (s *Store) Templates() contactor.TemplateRepository {
	return &templateRepository{s}
}

func (s *Store) Profiles() contactor.ProfileRepository {
	return &profileRepository{s}
}

func (s *Store) SMTPConfigs() contactor.SMTPConfigRepository {
	return &smtpConfigRepository{s}
}

func (s *Store) ReceiverLists() contactor.ReceiverListRepository {
	return &receiverListRepository{s}
}

func (s *Store) Jobs() contactor.JobRepository {
	return &jobRepository{s}
}

type templateRepository struct {
	s *Store
}

func (repo *templateRepository) Get(id string) (contactor.Template, error) {
	var template contactor.Template
	var ok bool

	repo.s.read(func(doc *document) {
		template, ok = doc.Templates[id]
	})

	if !ok {
		return template, contactor.TemplateNotFoundErr
	}

	return template, nil
}

func (repo *templateRepository) GetAll() ([]contactor.Template, error) {
	templates := make([]contactor.Template, 0)

	repo.s.read(func(doc *document) {
		for _, t := range doc.Templates {
			templates = append(templates, t)
		}
	})

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})

	return templates, nil
}

func (repo *templateRepository) Create(template *contactor.Template) error {
	return repo.s.update(func(doc *document) error {
		if _, ok := doc.Templates[template.Id]; ok {
			return errors.Errorf("template %s already exists", template.Id)
		}

		doc.Templates[template.Id] = *template
		return nil
	})
}

func (repo *templateRepository) Update(template *contactor.Template) error {
	return repo.s.update(func(doc *document) error {
		if _, ok := doc.Templates[template.Id]; !ok {
			return contactor.TemplateNotFoundErr
		}

		doc.Templates[template.Id] = *template
		return nil
	})
}

func (repo *templateRepository) Delete(template *contactor.Template) error {
	return repo.s.update(func(doc *document) error {
		if _, ok := doc.Templates[template.Id]; !ok {
			return contactor.TemplateNotFoundErr
		}

		delete(doc.Templates, template.Id)
		return nil
	})
}

type profileRepository struct {
	s *Store
}

func (repo *profileRepository) Get(id string) (contactor.Profile, error) {
	var profile contactor.Profile
	var ok bool

	repo.s.read(func(doc *document) {
		profile, ok = doc.Profiles[id]
	})

	if !ok {
		return profile, contactor.ProfileNotFoundErr
	}

	return profile, nil
}

func (repo *profileRepository) Create(profile *contactor.Profile) error {
	return repo.s.update(func(doc *document) error {
		if _, ok := doc.Profiles[profile.Id]; ok {
			return errors.Errorf("profile %s already exists", profile.Id)
		}

		doc.Profiles[profile.Id] = *profile
		return nil
	})
}

func (repo *profileRepository) Update(profile *contactor.Profile) error {
	return repo.s.update(func(doc *document) error {
		if _, ok := doc.Profiles[profile.Id]; !ok {
			return contactor.ProfileNotFoundErr
		}

		doc.Profiles[profile.Id] = *profile
		return nil
	})
}

type smtpConfigRepository struct {
	s *Store
}

func (repo *smtpConfigRepository) Get(id string) (contactor.SMTPConfig, error) {
	var config contactor.SMTPConfig
	var ok bool

	repo.s.read(func(doc *document) {
		config, ok = doc.SMTPConfigs[id]
	})

	if !ok {
		return config, contactor.SMTPConfigNotFoundErr
	}

	return config, nil
}

func (repo *smtpConfigRepository) Create(config *contactor.SMTPConfig) error {
	return repo.s.update(func(doc *document) error {
		if _, ok := doc.SMTPConfigs[config.Id]; ok {
			return errors.Errorf("smtp config %s already exists", config.Id)
		}

		doc.SMTPConfigs[config.Id] = *config
		return nil
	})
}

func (repo *smtpConfigRepository) Update(config *contactor.SMTPConfig) error {
	return repo.s.update(func(doc *document) error {
		if _, ok := doc.SMTPConfigs[config.Id]; !ok {
			return contactor.SMTPConfigNotFoundErr
		}

		doc.SMTPConfigs[config.Id] = *config
		return nil
	})
}

type receiverListRepository struct {
	s *Store
}

func (repo *receiverListRepository) Get(id string) (contactor.ReceiverList, error) {
	var list contactor.ReceiverList
	var ok bool

	repo.s.read(func(doc *document) {
		list, ok = doc.ReceiverLists[id]
	})

	if !ok {
		return list, contactor.ReceiverListNotFoundErr
	}

	return list, nil
}

func (repo *receiverListRepository) Create(list *contactor.ReceiverList) error {
	return repo.s.update(func(doc *document) error {
		if _, ok := doc.ReceiverLists[list.Id]; ok {
			return errors.Errorf("receiver list %s already exists", list.Id)
		}

		doc.ReceiverLists[list.Id] = *list
		return nil
	})
}

func (repo *receiverListRepository) Update(list *contactor.ReceiverList) error {
	return repo.s.update(func(doc *document) error {
		if _, ok := doc.ReceiverLists[list.Id]; !ok {
			return contactor.ReceiverListNotFoundErr
		}

		doc.ReceiverLists[list.Id] = *list
		return nil
	})
}

type jobRepository struct {
	s *Store
}

func (repo *jobRepository) GetAll() ([]contactor.Job, error) {
	var jobs []contactor.Job

	repo.s.read(func(doc *document) {
		jobs = append([]contactor.Job{}, doc.Jobs...)
	})

	return jobs, nil
}

func (repo *jobRepository) Create(job *contactor.Job) error {
	return repo.s.update(func(doc *document) error {
		if repo.index(doc, job.Id) >= 0 {
			return errors.Errorf("job %s already exists", job.Id)
		}

		doc.Jobs = append(doc.Jobs, *job)
		return nil
	})
}

func (repo *jobRepository) Update(job *contactor.Job) error {
	return repo.s.update(func(doc *document) error {
		i := repo.index(doc, job.Id)
		if i < 0 {
			return contactor.JobNotFoundErr
		}

		doc.Jobs[i] = *job
		return nil
	})
}

func (repo *jobRepository) Delete(id string) error {
	return repo.s.update(func(doc *document) error {
		i := repo.index(doc, id)
		if i < 0 {
			return contactor.JobNotFoundErr
		}

		doc.Jobs = append(doc.Jobs[:i], doc.Jobs[i+1:]...)
		return nil
	})
}

func (repo *jobRepository) index(doc *document, id string) int {
	for i := range doc.Jobs {
		if doc.Jobs[i].Id == id {
			return i
		}
	}

	return -1
}
