package gopg

import (
	"github.com/go-pg/pg"

	"github.com/bytememiles/email-contactor-sub000"
)

func NewJobRepository(db *pg.DB) contactor.JobRepository {
	return &jobRepository{
		db: db,
	}
}

type jobWrapper struct {
	TableName struct{} `sql:"contactor_jobs, alias:cj" json:"-"`

	*contactor.Job
}

type jobRepository struct {
	db *pg.DB
}

func (repo *jobRepository) GetAll() ([]contactor.Job, error) {
	jobs := make([]contactor.Job, 0)
	var wrappedJobs []jobWrapper

	if err := repo.db.Model(&wrappedJobs).Order("created_at ASC").Select(); err != nil {
		if err == pg.ErrNoRows {
			return jobs, nil
		}

		return jobs, err
	}

	for _, j := range wrappedJobs {
		jobs = append(jobs, *j.Job)
	}

	return jobs, nil
}

func (repo *jobRepository) Create(job *contactor.Job) error {
	return repo.db.Insert(&jobWrapper{Job: job})
}

func (repo *jobRepository) Update(job *contactor.Job) error {
	return repo.db.Update(&jobWrapper{Job: job})
}

func (repo *jobRepository) Delete(id string) error {
	_, err := repo.db.Model(&jobWrapper{Job: &contactor.Job{}}).Where("id = ?", id).Delete()
	return err
}
