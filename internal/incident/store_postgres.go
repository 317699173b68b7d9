package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// PostgresStore persists incidents and forensics records.
//
// Schema:
//
//	CREATE TABLE incidents (
//	    id               UUID PRIMARY KEY,
//	    type             TEXT NOT NULL,
//	    severity         TEXT NOT NULL,
//	    state            TEXT NOT NULL,
//	    description      TEXT NOT NULL,
//	    detection_method TEXT NOT NULL,
//	    affected_systems TEXT[] NOT NULL DEFAULT '{}',
//	    affected_users   TEXT[] NOT NULL DEFAULT '{}',
//	    responders       TEXT[] NOT NULL DEFAULT '{}',
//	    timeline         JSONB NOT NULL,
//	    containment      JSONB NOT NULL DEFAULT '[]',
//	    initial_findings JSONB,
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    updated_at       TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE forensics_records (
//	    id              UUID PRIMARY KEY,
//	    incident_id     UUID NOT NULL REFERENCES incidents(id),
//	    collection_type TEXT NOT NULL,
//	    source          TEXT NOT NULL DEFAULT '',
//	    snapshots       JSONB NOT NULL,
//	    log_extracts    JSONB NOT NULL,
//	    sig_key_id      TEXT NOT NULL,
//	    sig_mac         BYTEA NOT NULL,
//	    collected_at    TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, inc *Incident) error {
	timeline, containment, findings, err := marshalIncidentJSON(inc)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO incidents (
			id, type, severity, state, description, detection_method,
			affected_systems, affected_users, responders,
			timeline, containment, initial_findings, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(inc.ID),
		inc.Type,
		string(inc.Severity),
		inc.State.String(),
		inc.Description,
		inc.DetectionMethod,
		pq.Array(inc.AffectedSystems),
		pq.Array(inc.AffectedUsers),
		pq.Array(inc.Responders),
		timeline,
		containment,
		findings,
		inc.CreatedAt,
		inc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.IncidentID) (*Incident, error) {
	query := `
		SELECT id, type, severity, state, description, detection_method,
		       affected_systems, affected_users, responders,
		       timeline, containment, initial_findings, created_at, updated_at
		FROM incidents
		WHERE id = $1
	`
	inc, err := scanIncident(s.db.QueryRowContext(ctx, query, uuid.UUID(id)))
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	return inc, err
}

func (s *PostgresStore) Update(ctx context.Context, inc *Incident) error {
	timeline, containment, findings, err := marshalIncidentJSON(inc)
	if err != nil {
		return err
	}
	query := `
		UPDATE incidents
		SET state = $2, responders = $3, timeline = $4, containment = $5,
		    initial_findings = $6, updated_at = $7
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(inc.ID),
		inc.State.String(),
		pq.Array(inc.Responders),
		timeline,
		containment,
		findings,
		inc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Incident, error) {
	query := `
		SELECT id, type, severity, state, description, detection_method,
		       affected_systems, affected_users, responders,
		       timeline, containment, initial_findings, created_at, updated_at
		FROM incidents
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveForensics(ctx context.Context, rec ForensicsRecord) error {
	snapshots, err := json.Marshal(rec.Snapshots)
	if err != nil {
		return fmt.Errorf("marshal snapshots: %w", err)
	}
	extracts, err := json.Marshal(rec.LogExtracts)
	if err != nil {
		return fmt.Errorf("marshal log extracts: %w", err)
	}
	query := `
		INSERT INTO forensics_records (
			id, incident_id, collection_type, source,
			snapshots, log_extracts, sig_key_id, sig_mac, collected_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(rec.ID),
		uuid.UUID(rec.IncidentID),
		rec.CollectionType,
		rec.Source,
		snapshots,
		extracts,
		rec.Signature.KeyID,
		rec.Signature.MAC,
		rec.CollectedAt,
	)
	if err != nil {
		return fmt.Errorf("insert forensics record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetForensics(ctx context.Context, id domain.ForensicsID) (*ForensicsRecord, error) {
	query := `
		SELECT id, incident_id, collection_type, source,
		       snapshots, log_extracts, sig_key_id, sig_mac, collected_at
		FROM forensics_records
		WHERE id = $1
	`
	rec, err := scanForensics(s.db.QueryRowContext(ctx, query, uuid.UUID(id)))
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	return rec, err
}

func (s *PostgresStore) ListForensics(ctx context.Context, incidentID domain.IncidentID) ([]ForensicsRecord, error) {
	query := `
		SELECT id, incident_id, collection_type, source,
		       snapshots, log_extracts, sig_key_id, sig_mac, collected_at
		FROM forensics_records
		WHERE incident_id = $1
		ORDER BY collected_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(incidentID))
	if err != nil {
		return nil, fmt.Errorf("query forensics records: %w", err)
	}
	defer rows.Close()

	var out []ForensicsRecord
	for rows.Next() {
		rec, err := scanForensics(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forensics records: %w", err)
	}
	return out, nil
}

func marshalIncidentJSON(inc *Incident) (timeline, containment, findings []byte, err error) {
	timeline, err = json.Marshal(inc.Timeline)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal timeline: %w", err)
	}
	containment, err = json.Marshal(inc.Containment)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal containment: %w", err)
	}
	if inc.InitialFindings != nil {
		findings, err = json.Marshal(inc.InitialFindings)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal initial findings: %w", err)
		}
	}
	return timeline, containment, findings, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var (
		inc         Incident
		id          uuid.UUID
		severity    string
		state       string
		systems     pq.StringArray
		users       pq.StringArray
		responders  pq.StringArray
		timeline    []byte
		containment []byte
		findings    []byte
	)
	err := row.Scan(
		&id, &inc.Type, &severity, &state, &inc.Description, &inc.DetectionMethod,
		&systems, &users, &responders,
		&timeline, &containment, &findings, &inc.CreatedAt, &inc.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	inc.ID = domain.IncidentID(id)
	inc.Severity = Severity(severity)
	inc.State, err = ParseState(state)
	if err != nil {
		return nil, err
	}
	inc.AffectedSystems = systems
	inc.AffectedUsers = users
	inc.Responders = responders
	if err := json.Unmarshal(timeline, &inc.Timeline); err != nil {
		return nil, fmt.Errorf("unmarshal timeline: %w", err)
	}
	if err := json.Unmarshal(containment, &inc.Containment); err != nil {
		return nil, fmt.Errorf("unmarshal containment: %w", err)
	}
	if len(findings) > 0 {
		if err := json.Unmarshal(findings, &inc.InitialFindings); err != nil {
			return nil, fmt.Errorf("unmarshal initial findings: %w", err)
		}
	}
	inc.CreatedAt = inc.CreatedAt.UTC()
	inc.UpdatedAt = inc.UpdatedAt.UTC()
	return &inc, nil
}

func scanForensics(row rowScanner) (*ForensicsRecord, error) {
	var (
		rec        ForensicsRecord
		id         uuid.UUID
		incidentID uuid.UUID
		snapshots  []byte
		extracts   []byte
	)
	err := row.Scan(
		&id, &incidentID, &rec.CollectionType, &rec.Source,
		&snapshots, &extracts, &rec.Signature.KeyID, &rec.Signature.MAC, &rec.CollectedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan forensics record: %w", err)
	}
	rec.ID = domain.ForensicsID(id)
	rec.IncidentID = domain.IncidentID(incidentID)
	if err := json.Unmarshal(snapshots, &rec.Snapshots); err != nil {
		return nil, fmt.Errorf("unmarshal snapshots: %w", err)
	}
	if err := json.Unmarshal(extracts, &rec.LogExtracts); err != nil {
		return nil, fmt.Errorf("unmarshal log extracts: %w", err)
	}
	rec.CollectedAt = rec.CollectedAt.UTC()
	return &rec, nil
}
