package stores

import (
	"context"

	"gorm.io/gorm"
)

type contextKey string

const TxKey contextKey = "tx"

type BaseStore struct {
	db *gorm.DB
}

func CreateBaseStore(db *gorm.DB) *BaseStore {
	return &BaseStore{db: db}
}

func (s *BaseStore) GetDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxKey).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

// WithTransaction runs fn in a transaction carried by the returned context.
// Every store built on the same *gorm.DB joins it. Nested calls reuse the outer
// transaction.
func (s *BaseStore) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, TxKey, tx)
		return fn(txCtx)
	})
}

func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(TxKey).(*gorm.DB)
	return ok
}
