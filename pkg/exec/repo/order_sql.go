package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderSQLRepo struct {
	db *gorm.DB
}

func NewOrderSQLRepo(db *gorm.DB) *OrderSQLRepo {
	return &OrderSQLRepo{
		db: db,
	}
}

func (s *OrderSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Create upserts on the order key so a replayed archive message does
// not duplicate the row.
func (r *OrderSQLRepo) Create(ctx context.Context, record *OrderRecord) (*OrderRecord, error) {
	return record, r.dbWithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "venue"}, {Name: "symbol"}, {Name: "client_order_index"}},
			UpdateAll: true,
		}).
		Create(record).Error
}

func (r *OrderSQLRepo) Find(ctx context.Context, venue, symbol string, coi uint64) (*OrderRecord, error) {
	var record OrderRecord
	err := r.dbWithContext(ctx).
		Where("venue = ? AND symbol = ? AND client_order_index = ?", venue, symbol, coi).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}
