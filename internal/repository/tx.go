package repository

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

type txKey struct{}

type commitHooksKey struct{}

// Transactor runs fn inside one database transaction. Repositories called with
// the context passed to fn join that transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type GormTransactor struct {
	db *gorm.DB
}

func NewGormTransactor(db *gorm.DB) *GormTransactor {
	return &GormTransactor{db: db}
}

func (t *GormTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return fn(ctx)
	}

	hooksCtx, runHooks := WithCommitHooks(ctx)
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(hooksCtx, txKey{}, tx))
	})
	if err != nil {
		return err
	}

	runHooks(ctx)
	return nil
}

type commitHooks struct {
	mu  sync.Mutex
	fns []func(ctx context.Context)
}

// WithCommitHooks returns a context that collects AfterCommit callbacks and a
// function that runs them in registration order. Transactor implementations call
// run only once the transaction has committed.
func WithCommitHooks(ctx context.Context) (context.Context, func(ctx context.Context)) {
	hooks := &commitHooks{}
	run := func(ctx context.Context) {
		hooks.mu.Lock()
		fns := hooks.fns
		hooks.fns = nil
		hooks.mu.Unlock()

		for _, fn := range fns {
			fn(ctx)
		}
	}
	return context.WithValue(ctx, commitHooksKey{}, hooks), run
}

// AfterCommit defers fn until the surrounding transaction commits. Outside a
// transaction fn runs immediately. A rolled back transaction drops fn.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	hooks, ok := ctx.Value(commitHooksKey{}).(*commitHooks)
	if !ok || hooks == nil {
		fn(ctx)
		return
	}

	hooks.mu.Lock()
	hooks.fns = append(hooks.fns, fn)
	hooks.mu.Unlock()
}

// WithoutTx detaches ctx from any surrounding transaction so a read runs on its
// own connection and cannot abort the transaction when it fails.
func WithoutTx(ctx context.Context) context.Context {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); !ok {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, (*gorm.DB)(nil))
}

func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
