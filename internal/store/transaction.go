package store

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type contextKey int

const (
	transactionKey contextKey = iota
)

var ErrTxNotStarted = errors.New("transaction hasn't started yet")

// Tx is the gorm transaction carried in a context by NewTransactionContext.
// Every store method called with that context joins it.
type Tx struct {
	tx *gorm.DB
}

// WithTransaction runs fn inside a transaction and commits when fn returns nil.
// Any error rolls the transaction back and is returned unchanged. When ctx
// already carries a transaction, fn joins it and the outer owner commits.
func WithTransaction(ctx context.Context, s Store, fn func(txCtx context.Context) error) error {
	if FromContext(ctx) != nil {
		return fn(ctx)
	}

	txCtx, err := s.NewTransactionContext(ctx)
	if err != nil {
		return err
	}

	if err := fn(txCtx); err != nil {
		if _, rbErr := Rollback(txCtx); rbErr != nil {
			zap.S().Named("store").Warnw("rollback after failed transaction", "error", rbErr, "cause", err)
		}
		return err
	}

	_, err = Commit(txCtx)
	return err
}

func Commit(ctx context.Context) (context.Context, error) {
	tx, ok := ctx.Value(transactionKey).(*Tx)
	if !ok || tx == nil {
		return ctx, nil
	}
	return context.WithValue(ctx, transactionKey, nil), tx.Commit()
}

func Rollback(ctx context.Context) (context.Context, error) {
	tx, ok := ctx.Value(transactionKey).(*Tx)
	if !ok || tx == nil {
		return ctx, nil
	}
	return context.WithValue(ctx, transactionKey, nil), tx.Rollback()
}

// FromContext returns the open transaction of ctx, or nil.
func FromContext(ctx context.Context) *gorm.DB {
	tx, found := ctx.Value(transactionKey).(*Tx)
	if !found || tx == nil {
		return nil
	}
	return tx.tx
}

func newTransactionContext(ctx context.Context, db *gorm.DB) (context.Context, error) {
	if FromContext(ctx) != nil {
		return ctx, nil
	}

	tx := db.Session(&gorm.Session{Context: ctx}).Begin()
	if tx.Error != nil {
		return ctx, tx.Error
	}

	return context.WithValue(ctx, transactionKey, &Tx{tx: tx}), nil
}

func (t *Tx) Commit() error {
	if t.tx == nil {
		return ErrTxNotStarted
	}

	if err := t.tx.Commit().Error; err != nil {
		zap.S().Named("store").Errorw("failed to commit transaction", "error", err)
		return err
	}
	t.tx = nil
	return nil
}

func (t *Tx) Rollback() error {
	if t.tx == nil {
		return ErrTxNotStarted
	}

	if err := t.tx.Rollback().Error; err != nil {
		zap.S().Named("store").Errorw("failed to rollback transaction", "error", err)
		return err
	}
	t.tx = nil
	return nil
}
