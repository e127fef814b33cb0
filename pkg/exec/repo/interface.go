package repo

import (
	"context"
)

type IOrder interface {
	Create(ctx context.Context, record *OrderRecord) (*OrderRecord, error)
	Find(ctx context.Context, venue, symbol string, coi uint64) (*OrderRecord, error)
}

type IOrderEvent interface {
	Create(ctx context.Context, record *OrderEventRecord) (*OrderEventRecord, error)
	BulkCreate(ctx context.Context, records []*OrderEventRecord) ([]*OrderEventRecord, error)
	History(ctx context.Context, venue, symbol string, coi uint64) ([]*OrderEventRecord, error)
}
