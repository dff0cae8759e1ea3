package app

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"modernc.org/sqlite"

	"github.com/simplesurance/biztracing"
	"github.com/simplesurance/biztracing/bizerr"
	"github.com/simplesurance/biztracing/pgxtrace"
)

type Category struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	TypeID int    `json:"typeId"`
}

type Operation struct {
	ID         int64     `json:"id"`
	CategoryID int64     `json:"categoryId"`
	Sum        float64   `json:"sum"`
	Comment    string    `json:"comment,omitempty"`
	Date       time.Time `json:"date"`
}

// Store is the data access layer of the handlers. All commands are traced.
type Store interface {
	Categories(ctx context.Context, userID string) ([]Category, error)
	Operation(ctx context.Context, userID string, id int64) (*Operation, error)
	DeleteOperation(ctx context.Context, userID string, id int64) error
	Close() error
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS categories (
	id      INTEGER PRIMARY KEY,
	user_id TEXT NOT NULL,
	name    TEXT NOT NULL,
	type_id INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS operations (
	id          INTEGER PRIMARY KEY,
	user_id     TEXT NOT NULL,
	category_id INTEGER NOT NULL REFERENCES categories (id),
	sum         REAL NOT NULL,
	comment     TEXT NOT NULL DEFAULT '',
	date        TEXT NOT NULL,
	is_deleted  INTEGER NOT NULL DEFAULT 0
);`

// sqlStore stores data in SQLite, commands are traced by the biztracing
// driver wrapper.
type sqlStore struct {
	db *sql.DB
}

// dsnConnector opens connections of drivers that do not implement
// driver.DriverContext.
type dsnConnector struct {
	dsn string
	drv driver.Driver
}

func (c dsnConnector) Connect(context.Context) (driver.Conn, error) {
	return c.drv.Open(c.dsn)
}

func (c dsnConnector) Driver() driver.Driver {
	return c.drv
}

// openDB opens a database via drv without registering the driver.
func openDB(drv driver.Driver, dsn string) (*sql.DB, error) {
	if dc, ok := drv.(driver.DriverContext); ok {
		connector, err := dc.OpenConnector(dsn)
		if err != nil {
			return nil, err
		}

		return sql.OpenDB(connector), nil
	}

	return sql.OpenDB(dsnConnector{dsn: dsn, drv: drv}), nil
}

func newSQLiteStore(ctx context.Context, dsn string, opts ...biztracing.Opt) (*sqlStore, error) {
	db, err := openDB(biztracing.WrapDriver(&sqlite.Driver{}, opts...), dsn)
	if err != nil {
		return nil, fmt.Errorf("app: open sqlite database: %w", err)
	}

	// sqlite does not support concurrent writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("app: create sqlite schema: %w", err)
	}

	return &sqlStore{db: db}, nil
}

func (s *sqlStore) Categories(ctx context.Context, userID string) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, type_id FROM categories WHERE user_id = :userId ORDER BY name",
		sql.Named("userId", userID),
	)
	if err != nil {
		return nil, fmt.Errorf("app: query categories: %w", err)
	}
	defer rows.Close()

	var result []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.TypeID); err != nil {
			return nil, fmt.Errorf("app: scan category: %w", err)
		}

		result = append(result, c)
	}

	return result, rows.Err()
}

func (s *sqlStore) Operation(ctx context.Context, userID string, id int64) (*Operation, error) {
	var (
		op   Operation
		date string
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT id, category_id, sum, comment, date FROM operations WHERE id = :operationId AND user_id = :userId AND is_deleted = 0",
		sql.Named("operationId", id),
		sql.Named("userId", userID),
	).Scan(&op.ID, &op.CategoryID, &op.Sum, &op.Comment, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bizerr.Wrap(bizerr.NotFound, err, fmt.Sprintf("operation %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("app: query operation: %w", err)
	}

	op.Date, err = time.Parse(time.DateOnly, date)
	if err != nil {
		return nil, fmt.Errorf("app: parse date of operation %d: %w", id, err)
	}

	return &op, nil
}

func (s *sqlStore) DeleteOperation(ctx context.Context, userID string, id int64) error {
	var count int

	err := biztracing.QueryScalar(ctx, s.db, &count,
		"SELECT COUNT(*) FROM operations WHERE id = :operationId AND user_id = :userId AND is_deleted = 0",
		sql.Named("operationId", id),
		sql.Named("userId", userID),
	)
	if err != nil {
		return fmt.Errorf("app: count operations: %w", err)
	}

	if count == 0 {
		return bizerr.NotFoundf("operation %d not found", id)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE operations SET is_deleted = 1 WHERE id = :operationId AND user_id = :userId",
		sql.Named("operationId", id),
		sql.Named("userId", userID),
	)
	if err != nil {
		return fmt.Errorf("app: delete operation: %w", err)
	}

	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// pgStore stores data in PostgreSQL, commands are traced by pgxtrace.
type pgStore struct {
	pool *pgxpool.Pool
}

func newPostgresStore(ctx context.Context, dsn string, tracer *pgxtrace.Tracer) (*pgStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("app: parse postgres dsn: %w", err)
	}

	cfg.ConnConfig.Tracer = tracer

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: create postgres pool: %w", err)
	}

	return &pgStore{pool: pool}, nil
}

func (s *pgStore) Categories(ctx context.Context, userID string) ([]Category, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, name, type_id FROM categories WHERE user_id = @userId ORDER BY name",
		pgx.NamedArgs{"userId": userID},
	)
	if err != nil {
		return nil, fmt.Errorf("app: query categories: %w", err)
	}

	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Category, error) {
		var c Category
		err := row.Scan(&c.ID, &c.Name, &c.TypeID)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("app: scan categories: %w", err)
	}

	return result, nil
}

func (s *pgStore) Operation(ctx context.Context, userID string, id int64) (*Operation, error) {
	var op Operation

	err := s.pool.QueryRow(ctx,
		"SELECT id, category_id, sum, comment, date FROM operations WHERE id = @operationId AND user_id = @userId AND NOT is_deleted",
		pgx.NamedArgs{"operationId": id, "userId": userID},
	).Scan(&op.ID, &op.CategoryID, &op.Sum, &op.Comment, &op.Date)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bizerr.Wrap(bizerr.NotFound, err, fmt.Sprintf("operation %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("app: query operation: %w", err)
	}

	return &op, nil
}

func (s *pgStore) DeleteOperation(ctx context.Context, userID string, id int64) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE operations SET is_deleted = true WHERE id = @operationId AND user_id = @userId AND NOT is_deleted",
		pgx.NamedArgs{"operationId": id, "userId": userID},
	)
	if err != nil {
		return fmt.Errorf("app: delete operation: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return bizerr.NotFoundf("operation %d not found", id)
	}

	return nil
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

var (
	_ Store = &sqlStore{}
	_ Store = &pgStore{}
)
