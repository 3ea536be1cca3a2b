// Package store is the PostgreSQL record store behind imports and exports.
//
// Imports run in serializable transactions, so a lost write race surfaces
// as a serialization failure that the import coordinator retries. Writes
// are upserts on the type's key field; types without a key always insert.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/bulkcsv/internal/config"
	"github.com/JonMunkholm/bulkcsv/internal/core"
)

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store implements core.DataStore on a pgx pool.
type Store struct {
	pool  *pgxpool.Pool
	txOpt pgx.TxOptions
}

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:  pool,
		txOpt: pgx.TxOptions{IsoLevel: pgx.Serializable},
	}
}

// Connect opens and verifies a pool using the database settings.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Begin opens a serializable transaction.
func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	t, err := s.pool.BeginTx(ctx, s.txOpt)
	if err != nil {
		return nil, classify(nil, err)
	}
	return &tx{tx: t}, nil
}

// AutoCommit returns a writer whose writes each commit on their own.
func (s *Store) AutoCommit() core.Writer {
	return writer{db: s.pool}
}

// Records streams all records of a type in insertion order. Rows are read
// from the database as the sequence is consumed.
func (s *Store) Records(ctx context.Context, desc *core.TypeDescriptor) iter.Seq2[core.TypedRecord, error] {
	return func(yield func(core.TypedRecord, error) bool) {
		rows, err := s.pool.Query(ctx, selectSQL(desc))
		if err != nil {
			yield(core.TypedRecord{}, fmt.Errorf("query %s: %w", desc.Table, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(desc, rows)
			if err != nil {
				yield(core.TypedRecord{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(core.TypedRecord{}, fmt.Errorf("read %s: %w", desc.Table, err))
		}
	}
}

// Record reads one record by id. An id that is not a UUID cannot match.
func (s *Store) Record(ctx context.Context, desc *core.TypeDescriptor, id string) (core.TypedRecord, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return core.TypedRecord{}, fmt.Errorf("%w: %s %s", core.ErrNoRecord, desc.Name, id)
	}

	rows, err := s.pool.Query(ctx, selectOneSQL(desc), uid)
	if err != nil {
		return core.TypedRecord{}, fmt.Errorf("query %s: %w", desc.Table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return core.TypedRecord{}, fmt.Errorf("read %s: %w", desc.Table, err)
		}
		return core.TypedRecord{}, fmt.Errorf("%w: %s %s", core.ErrNoRecord, desc.Name, id)
	}
	return scanRecord(desc, rows)
}

type tx struct {
	tx pgx.Tx
}

func (t *tx) Write(ctx context.Context, desc *core.TypeDescriptor, rec core.TypedRecord) (core.ObjectRef, error) {
	return write(ctx, t.tx, desc, rec)
}

func (t *tx) Commit(ctx context.Context) error {
	return classify(nil, t.tx.Commit(ctx))
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

type writer struct {
	db querier
}

func (w writer) Write(ctx context.Context, desc *core.TypeDescriptor, rec core.TypedRecord) (core.ObjectRef, error) {
	return write(ctx, w.db, desc, rec)
}

func write(ctx context.Context, db querier, desc *core.TypeDescriptor, rec core.TypedRecord) (core.ObjectRef, error) {
	stmt, err := buildWrite(desc, rec, uuid.New())
	if err != nil {
		return core.ObjectRef{}, err
	}

	var (
		id      pgtype.UUID
		created bool
	)
	if err := db.QueryRow(ctx, stmt.sql, stmt.args...).Scan(&id, &created); err != nil {
		return core.ObjectRef{}, classify(desc, err)
	}

	return core.ObjectRef{
		Type:    desc.Name,
		ID:      uuid.UUID(id.Bytes).String(),
		Created: created,
	}, nil
}
