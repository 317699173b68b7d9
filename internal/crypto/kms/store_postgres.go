package kms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
)

// PostgresStore persists wrapped key records.
//
// Schema:
//
//	CREATE TABLE kms_keys (
//	    id         TEXT PRIMARY KEY,
//	    purpose    TEXT NOT NULL,
//	    wrapped    BYTEA NOT NULL,
//	    nonce      BYTEA NOT NULL,
//	    status     TEXT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    retired_at TIMESTAMPTZ
//	);
//	CREATE UNIQUE INDEX kms_keys_active_purpose
//	    ON kms_keys (purpose) WHERE status = 'active';
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Save(ctx context.Context, rec *record) error {
	query := `
		INSERT INTO kms_keys (id, purpose, wrapped, nonce, status, created_at, retired_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL)
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query,
		rec.ID, string(rec.Purpose), rec.Wrapped, rec.Nonce, string(rec.Status), rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert kms key: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*record, error) {
	query := `
		SELECT id, purpose, wrapped, nonce, status, created_at, retired_at
		FROM kms_keys WHERE id = $1
	`
	rec, err := s.scanOne(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) ActiveByPurpose(ctx context.Context, purpose Purpose) (*record, error) {
	query := `
		SELECT id, purpose, wrapped, nonce, status, created_at, retired_at
		FROM kms_keys WHERE purpose = $1 AND status = 'active'
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, string(purpose)))
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, retiredAt time.Time) error {
	query := `UPDATE kms_keys SET status = $2, retired_at = $3 WHERE id = $1`
	res, err := s.execer(ctx).ExecContext(ctx, query, id, string(status), retiredAt)
	if err != nil {
		return fmt.Errorf("update kms key status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update kms key status: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, purpose Purpose) ([]*record, error) {
	query := `
		SELECT id, purpose, wrapped, nonce, status, created_at, retired_at
		FROM kms_keys WHERE ($1 = '' OR purpose = $1)
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, string(purpose))
	if err != nil {
		return nil, fmt.Errorf("query kms keys: %w", err)
	}
	defer rows.Close()

	var out []*record
	for rows.Next() {
		rec, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kms keys: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row rowScanner) (*record, error) {
	var (
		rec       record
		purpose   string
		status    string
		retiredAt sql.NullTime
	)
	err := row.Scan(&rec.ID, &purpose, &rec.Wrapped, &rec.Nonce, &status, &rec.CreatedAt, &retiredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan kms key: %w", err)
	}
	rec.Purpose = Purpose(purpose)
	rec.Status = Status(status)
	if retiredAt.Valid {
		rec.RetiredAt = retiredAt.Time
	}
	return &rec, nil
}
