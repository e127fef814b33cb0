package repo

import (
	"context"

	"gorm.io/gorm"
)

type OrderEventSQLRepo struct {
	db *gorm.DB
}

func NewOrderEventSQLRepo(db *gorm.DB) *OrderEventSQLRepo {
	return &OrderEventSQLRepo{
		db: db,
	}
}

func (s *OrderEventSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (r *OrderEventSQLRepo) Create(ctx context.Context, record *OrderEventRecord) (*OrderEventRecord, error) {
	return record, r.dbWithContext(ctx).Create(record).Error
}

func (r *OrderEventSQLRepo) BulkCreate(ctx context.Context, records []*OrderEventRecord) ([]*OrderEventRecord, error) {
	return records, r.dbWithContext(ctx).Create(records).Error
}

func (r *OrderEventSQLRepo) History(ctx context.Context, venue, symbol string, coi uint64) ([]*OrderEventRecord, error) {
	var records []*OrderEventRecord
	err := r.dbWithContext(ctx).
		Where("venue = ? AND symbol = ? AND client_order_index = ?", venue, symbol, coi).
		Order("local_ts asc").
		Find(&records).Error
	return records, err
}
