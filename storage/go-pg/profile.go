package gopg

import (
	"github.com/go-pg/pg"

	"github.com/bytememiles/email-contactor-sub000"
)

func NewProfileRepository(db *pg.DB) contactor.ProfileRepository {
	return &profileRepository{
		db: db,
	}
}

type profileRepository struct {
	db *pg.DB
}

type profileWrapper struct {
	TableName struct{} `sql:"contactor_profiles,alias:cp" json:"-"`

	*contactor.Profile
}

func (repo *profileRepository) Get(id string) (contactor.Profile, error) {
	wrapped := &profileWrapper{
		Profile: &contactor.Profile{},
	}

	if err := repo.db.Model(wrapped).Where("id = ?", id).Select(); err != nil {
		if err == pg.ErrNoRows {
			return *wrapped.Profile, contactor.ProfileNotFoundErr
		}

		return *wrapped.Profile, err
	}

	return *wrapped.Profile, nil
}

func (repo *profileRepository) Create(profile *contactor.Profile) error {
	return repo.db.Insert(&profileWrapper{Profile: profile})
}

func (repo *profileRepository) Update(profile *contactor.Profile) error {
	return repo.db.Update(&profileWrapper{Profile: profile})
}

func NewSMTPConfigRepository(db *pg.DB) contactor.SMTPConfigRepository {
	return &smtpConfigRepository{
		db: db,
	}
}

type smtpConfigRepository struct {
	db *pg.DB
}

type smtpConfigWrapper struct {
	TableName struct{} `sql:"contactor_smtp_configs,alias:csc" json:"-"`

	*contactor.SMTPConfig
}

func (repo *smtpConfigRepository) Get(id string) (contactor.SMTPConfig, error) {
	wrapped := &smtpConfigWrapper{
		SMTPConfig: &contactor.SMTPConfig{},
	}

	if err := repo.db.Model(wrapped).Where("id = ?", id).Select(); err != nil {
		if err == pg.ErrNoRows {
			return *wrapped.SMTPConfig, contactor.SMTPConfigNotFoundErr
		}

		return *wrapped.SMTPConfig, err
	}

	return *wrapped.SMTPConfig, nil
}

func (repo *smtpConfigRepository) Create(config *contactor.SMTPConfig) error {
	return repo.db.Insert(&smtpConfigWrapper{SMTPConfig: config})
}

func (repo *smtpConfigRepository) Update(config *contactor.SMTPConfig) error {
	return repo.db.Update(&smtpConfigWrapper{SMTPConfig: config})
}
