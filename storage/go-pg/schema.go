package gopg

import (
	"github.com/go-pg/pg"
	"github.com/go-pg/pg/orm"
	"github.com/pkg/errors"
)

// CreateSchema creates the contactor tables that do not exist yet.
func CreateSchema(db *pg.DB) error {
	models := []interface{}{
		(*templateWrapper)(nil),
		(*profileWrapper)(nil),
		(*smtpConfigWrapper)(nil),
		(*receiverListWrapper)(nil),
		(*jobWrapper)(nil),
	}

	for _, model := range models {
		if err := db.CreateTable(model, &orm.CreateTableOptions{IfNotExists: true}); err != nil {
			return errors.Wrapf(err, "Failed to create table for %T", model)
		}
	}

	return nil
}
