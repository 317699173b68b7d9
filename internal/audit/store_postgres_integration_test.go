//go:build integration

package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/internal/crypto/engine"
	"custodia/pkg/domain"
	txcontext "custodia/pkg/platform/tx"
	"custodia/pkg/testutil/containers"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
    id             UUID PRIMARY KEY,
    event_type     TEXT NOT NULL,
    action         TEXT NOT NULL,
    actor          TEXT NOT NULL,
    resource_type  TEXT NOT NULL DEFAULT '',
    resource_id    TEXT NOT NULL DEFAULT '',
    classification TEXT NOT NULL,
    outcome        TEXT NOT NULL,
    origin         TEXT NOT NULL DEFAULT '',
    client_agent   TEXT NOT NULL DEFAULT '',
    category       TEXT NOT NULL,
    occurred_at    TIMESTAMPTZ NOT NULL,
    metadata       JSONB,
    sig_key_id     TEXT NOT NULL,
    sig_mac        BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_occurred_at_idx ON audit_events (occurred_at);
CREATE INDEX IF NOT EXISTS audit_events_action_idx ON audit_events (action, occurred_at);
`

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *audit.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(s.postgres.Apply(context.Background(), auditSchema))
	s.store = audit.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_events"))
}

func storedEvent(action, actor string, at time.Time) audit.Event {
	outcome := audit.OutcomeSuccess
	if action == audit.ActionLoginFailed {
		outcome = audit.OutcomeDenied
	}
	return audit.Event{
		ID:             domain.NewEventID(),
		Type:           "authentication",
		Action:         action,
		Actor:          actor,
		ResourceType:   "session",
		ResourceID:     "sess-1",
		Classification: domain.ClassificationSensitive,
		Outcome:        outcome,
		Origin:         "10.0.0.8",
		ClientAgent:    "integration-test",
		Category:       audit.CategoryFor(action, outcome),
		Timestamp:      at.UTC(),
		Metadata:       map[string]any{"attempt": "1"},
		Signature:      engine.Signature{KeyID: "audit-v1", MAC: []byte("not-a-real-mac")},
	}
}

func (s *PostgresStoreSuite) TestAppendAndQueryWindow() {
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	s.Require().NoError(s.store.Append(ctx, storedEvent(audit.ActionLoginFailed, "officer-1", base)))
	s.Require().NoError(s.store.Append(ctx, storedEvent(audit.ActionLoginFailed, "officer-2", base.Add(time.Minute))))
	s.Require().NoError(s.store.Append(ctx, storedEvent(audit.ActionRecordAccessed, "officer-1", base.Add(2*time.Minute))))

	events, err := s.store.QueryWindow(ctx, audit.Filter{Actor: "officer-1"}, base, base.Add(time.Hour))
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(audit.ActionLoginFailed, events[0].Action)
	s.Equal(audit.ActionRecordAccessed, events[1].Action)

	got := events[0]
	s.Equal(audit.CategorySecurity, got.Category)
	s.Equal(domain.ClassificationSensitive, got.Classification)
	s.Equal(map[string]any{"attempt": "1"}, got.Metadata)
	s.Equal("audit-v1", got.Signature.KeyID)
	s.Equal([]byte("not-a-real-mac"), got.Signature.MAC)
}

func (s *PostgresStoreSuite) TestQueryWindowExcludesUpperBound() {
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	s.Require().NoError(s.store.Append(ctx, storedEvent(audit.ActionRecordAccessed, "officer-1", base)))
	s.Require().NoError(s.store.Append(ctx, storedEvent(audit.ActionRecordAccessed, "officer-1", base.Add(time.Hour))))

	events, err := s.store.QueryWindow(ctx, audit.Filter{}, base, base.Add(time.Hour))
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *PostgresStoreSuite) TestListRecentNewestFirst() {
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e := storedEvent(audit.ActionRecordAccessed, "officer-1", base.Add(time.Duration(i)*time.Minute))
		s.Require().NoError(s.store.Append(ctx, e))
	}

	events, err := s.store.ListRecent(ctx, 3)
	s.Require().NoError(err)
	s.Require().Len(events, 3)
	s.Equal(base.Add(4*time.Minute), events[0].Timestamp)
	s.Equal(base.Add(2*time.Minute), events[2].Timestamp)
}

func (s *PostgresStoreSuite) TestCountSince() {
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	s.Require().NoError(s.store.Append(ctx, storedEvent(audit.ActionRecordAccessed, "officer-1", base.Add(-2*time.Hour))))
	s.Require().NoError(s.store.Append(ctx, storedEvent(audit.ActionRecordAccessed, "officer-1", base)))

	count, err := s.store.CountSince(ctx, base.Add(-time.Hour))
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *PostgresStoreSuite) TestDeleteOlderThanScopedByClassification() {
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	old := storedEvent(audit.ActionRecordAccessed, "officer-1", base.Add(-48*time.Hour))
	oldCJI := storedEvent(audit.ActionRecordAccessed, "officer-2", base.Add(-48*time.Hour))
	oldCJI.Classification = domain.ClassificationCJI
	recent := storedEvent(audit.ActionRecordAccessed, "officer-3", base)

	s.Require().NoError(s.store.Append(ctx, old))
	s.Require().NoError(s.store.Append(ctx, oldCJI))
	s.Require().NoError(s.store.Append(ctx, recent))

	purged, err := s.store.DeleteOlderThan(ctx, base.Add(-24*time.Hour), domain.ClassificationSensitive)
	s.Require().NoError(err)
	s.Equal(int64(1), purged)

	events, err := s.store.QueryWindow(ctx, audit.Filter{}, base.Add(-72*time.Hour), base.Add(time.Hour))
	s.Require().NoError(err)
	s.Len(events, 2)
}

func (s *PostgresStoreSuite) TestAppendHonorsAmbientTransaction() {
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)

	txCtx := txcontext.WithTx(ctx, tx)
	s.Require().NoError(s.store.Append(txCtx, storedEvent(audit.ActionRecordAccessed, "officer-1", base)))
	s.Require().NoError(tx.Rollback())

	count, err := s.store.CountSince(ctx, base.Add(-time.Hour))
	s.Require().NoError(err)
	s.Equal(0, count)
}
