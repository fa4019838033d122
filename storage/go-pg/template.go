package gopg

import (
	"time"

	"github.com/go-pg/pg"

	"github.com/bytememiles/email-contactor-sub000"
)

func NewTemplateRepository(db *pg.DB) contactor.TemplateRepository {
	return &templateRepository{
		db: db,
	}
}

type templateRepository struct {
	db *pg.DB
}

type templateWrapper struct {
	TableName struct{} `sql:"contactor_templates,alias:ct" json:"-"`

	*contactor.Template
}

func (repo *templateRepository) Get(id string) (contactor.Template, error) {
	wrapped := &templateWrapper{
		Template: &contactor.Template{},
	}

	if err := repo.db.Model(wrapped).Where("id = ?", id).Select(); err != nil {
		if err == pg.ErrNoRows {
			return *wrapped.Template, contactor.TemplateNotFoundErr
		}

		return *wrapped.Template, err
	}

	return *wrapped.Template, nil
}

func (repo *templateRepository) GetAll() ([]contactor.Template, error) {
	var wrapped []templateWrapper
	templates := make([]contactor.Template, 0)

	if err := repo.db.Model(&wrapped).Order("name ASC").Select(); err != nil && err != pg.ErrNoRows {
		return templates, err
	}

	for _, t := range wrapped {
		templates = append(templates, *t.Template)
	}

	return templates, nil
}

func (repo *templateRepository) Create(template *contactor.Template) error {
	return repo.db.Insert(&templateWrapper{Template: template})
}

func (repo *templateRepository) Update(template *contactor.Template) error {
	template.UpdatedAt = time.Now()

	return repo.db.Update(&templateWrapper{Template: template})
}

func (repo *templateRepository) Delete(template *contactor.Template) error {
	return repo.db.Delete(&templateWrapper{Template: template})
}
