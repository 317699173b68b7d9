package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresSnapshotStore retains snapshots in postgres.
//
// Schema:
//
//	CREATE TABLE compliance_snapshots (
//	    id          BIGSERIAL PRIMARY KEY,
//	    area_scores JSONB NOT NULL,
//	    violations  INT NOT NULL,
//	    overall     DOUBLE PRECISION NOT NULL,
//	    computed_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX compliance_snapshots_computed_at_idx ON compliance_snapshots (computed_at);
type PostgresSnapshotStore struct {
	db *sql.DB
}

func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

func (s *PostgresSnapshotStore) Save(ctx context.Context, snapshot Snapshot) error {
	scores, err := json.Marshal(snapshot.AreaScores)
	if err != nil {
		return fmt.Errorf("marshal area scores: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO compliance_snapshots (area_scores, violations, overall, computed_at)
		 VALUES ($1, $2, $3, $4)`,
		scores, snapshot.ViolationCount, snapshot.Overall, snapshot.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresSnapshotStore) ListRange(ctx context.Context, from, to time.Time) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT area_scores, violations, overall, computed_at
		 FROM compliance_snapshots
		 WHERE computed_at >= $1 AND computed_at < $2
		 ORDER BY computed_at ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			snap   Snapshot
			scores []byte
		)
		if err := rows.Scan(&scores, &snap.ViolationCount, &snap.Overall, &snap.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := json.Unmarshal(scores, &snap.AreaScores); err != nil {
			return nil, fmt.Errorf("unmarshal area scores: %w", err)
		}
		snap.ComputedAt = snap.ComputedAt.UTC()
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}
