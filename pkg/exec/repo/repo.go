// Package repo persists the order archive: terminal order snapshots
// and the full event history, written by the archive worker off the
// event topic.
package repo

import (
	"gorm.io/gorm"
)

type IRepo interface {
	Order() IOrder
	OrderEvent() IOrderEvent
	Migrate() error
}

type Repo struct {
	archiveDB *gorm.DB
}

func NewRepo(archiveDB *gorm.DB) IRepo {
	return &Repo{
		archiveDB: archiveDB,
	}
}

func (r *Repo) Order() IOrder {
	return NewOrderSQLRepo(r.archiveDB)
}

func (r *Repo) OrderEvent() IOrderEvent {
	return NewOrderEventSQLRepo(r.archiveDB)
}

func (r *Repo) Migrate() error {
	return r.archiveDB.AutoMigrate(&OrderRecord{}, &OrderEventRecord{})
}
