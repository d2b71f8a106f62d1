package circuitbreaker

import (
	"context"
	"database/sql"
)

// DB routes the calls a repository makes through a Breaker. Only the call
// itself is guarded: rows and transactions it returns are used directly.
type DB struct {
	breaker *Breaker
	db      *sql.DB
}

// NewDB guards db with a breaker built from cfg.
func NewDB(db *sql.DB, cfg Config) *DB {
	return &DB{breaker: New(cfg), db: db}
}

func (g *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := g.breaker.Do(func() (err error) {
		res, err = g.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (g *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := g.breaker.Do(func() (err error) {
		rows, err = g.db.QueryContext(ctx, query, args...)
		return err
	})
	return rows, err
}

func (g *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	var tx *sql.Tx
	err := g.breaker.Do(func() (err error) {
		tx, err = g.db.BeginTx(ctx, opts)
		return err
	})
	return tx, err
}

// Breaker exposes the guard for state inspection.
func (g *DB) Breaker() *Breaker { return g.breaker }
