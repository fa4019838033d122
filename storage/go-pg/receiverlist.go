package gopg

import (
	"github.com/go-pg/pg"

	"github.com/bytememiles/email-contactor-sub000"
)

func NewReceiverListRepository(db *pg.DB) contactor.ReceiverListRepository {
	return &receiverListRepository{
		db: db,
	}
}

type receiverListRepository struct {
	db *pg.DB
}

// Receivers are kept as a jsonb column on the list row.
type receiverListWrapper struct {
	TableName struct{} `sql:"contactor_receiver_lists,alias:crl" json:"-"`

	*contactor.ReceiverList
}

func (repo *receiverListRepository) Get(id string) (contactor.ReceiverList, error) {
	wrapped := &receiverListWrapper{
		ReceiverList: &contactor.ReceiverList{},
	}

	if err := repo.db.Model(wrapped).Where("id = ?", id).Select(); err != nil {
		if err == pg.ErrNoRows {
			return *wrapped.ReceiverList, contactor.ReceiverListNotFoundErr
		}

		return *wrapped.ReceiverList, err
	}

	return *wrapped.ReceiverList, nil
}

func (repo *receiverListRepository) Create(list *contactor.ReceiverList) error {
	return repo.db.Insert(&receiverListWrapper{ReceiverList: list})
}

func (repo *receiverListRepository) Update(list *contactor.ReceiverList) error {
	return repo.db.Update(&receiverListWrapper{ReceiverList: list})
}
