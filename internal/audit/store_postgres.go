package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"custodia/internal/crypto/engine"
	"custodia/pkg/domain"
	txcontext "custodia/pkg/platform/tx"
)

// PostgresStore persists audit events append-only.
//
// Schema:
//
//	CREATE TABLE audit_events (
//	    id             UUID PRIMARY KEY,
//	    event_type     TEXT NOT NULL,
//	    action         TEXT NOT NULL,
//	    actor          TEXT NOT NULL,
//	    resource_type  TEXT NOT NULL DEFAULT '',
//	    resource_id    TEXT NOT NULL DEFAULT '',
//	    classification TEXT NOT NULL,
//	    outcome        TEXT NOT NULL,
//	    origin         TEXT NOT NULL DEFAULT '',
//	    client_agent   TEXT NOT NULL DEFAULT '',
//	    category       TEXT NOT NULL,
//	    occurred_at    TIMESTAMPTZ NOT NULL,
//	    metadata       JSONB,
//	    sig_key_id     TEXT NOT NULL,
//	    sig_mac        BYTEA NOT NULL
//	);
//	CREATE INDEX audit_events_occurred_at_idx ON audit_events (occurred_at);
//	CREATE INDEX audit_events_action_idx ON audit_events (action, occurred_at);
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

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			id, event_type, action, actor, resource_type, resource_id,
			classification, outcome, origin, client_agent, category,
			occurred_at, metadata, sig_key_id, sig_mac
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(event.ID),
		event.Type,
		event.Action,
		event.Actor,
		event.ResourceType,
		event.ResourceID,
		string(event.Classification),
		string(event.Outcome),
		event.Origin,
		event.ClientAgent,
		string(event.Category),
		event.Timestamp,
		metadata,
		event.Signature.KeyID,
		event.Signature.MAC,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryWindow(ctx context.Context, filter Filter, from, to time.Time) ([]Event, error) {
	query := `
		SELECT id, event_type, action, actor, resource_type, resource_id,
		       classification, outcome, origin, client_agent, category,
		       occurred_at, metadata, sig_key_id, sig_mac
		FROM audit_events
		WHERE occurred_at >= $1 AND occurred_at < $2
	`
	args := []any{from, to}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		query += fmt.Sprintf(" AND %s = $%d", column, len(args))
	}
	add("event_type", filter.Type)
	add("action", filter.Action)
	add("actor", filter.Actor)
	add("origin", filter.Origin)
	add("outcome", string(filter.Outcome))
	add("classification", string(filter.Classification))
	query += " ORDER BY occurred_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit window: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	query := `
		SELECT id, event_type, action, actor, resource_type, resource_id,
		       classification, outcome, origin, client_agent, category,
		       occurred_at, metadata, sig_key_id, sig_mac
		FROM audit_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events WHERE occurred_at >= $1`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, c domain.Classification) (int64, error) {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM audit_events WHERE classification = $1 AND occurred_at < $2`,
		string(c), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	return res.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			event          Event
			eventID        uuid.UUID
			classification string
			outcome        string
			category       string
			metadata       []byte
			sig            engine.Signature
		)
		err := rows.Scan(
			&eventID,
			&event.Type,
			&event.Action,
			&event.Actor,
			&event.ResourceType,
			&event.ResourceID,
			&classification,
			&outcome,
			&event.Origin,
			&event.ClientAgent,
			&category,
			&event.Timestamp,
			&metadata,
			&sig.KeyID,
			&sig.MAC,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ID = domain.EventID(eventID)
		event.Classification = domain.Classification(classification)
		event.Outcome = Outcome(outcome)
		event.Category = Category(category)
		event.Signature = sig
		event.Timestamp = event.Timestamp.UTC()
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal event metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
