package dashboard

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/audit"
	"custodia/internal/compliance"
	"custodia/internal/crypto/engine"
	"custodia/internal/crypto/kms"
	"custodia/internal/incident"
	"custodia/internal/platform/config"
	"custodia/pkg/requestcontext"
)

type nopExecutor struct{}

func (nopExecutor) Execute(context.Context, incident.ActionType, string) (string, error) {
	return "completed", nil
}

type nopSnapshots struct{}

func (nopSnapshots) CaptureSnapshot(context.Context, string) ([]byte, error) { return nil, nil }

type nopLogs struct{}

func (nopLogs) ExtractLogs(context.Context, string) ([]byte, error) { return nil, nil }

type fixture struct {
	audit     *audit.Service
	incidents *incident.Service
	dashboard *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	buf := make([]byte, 32)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	kmsSvc, err := kms.New(base64.StdEncoding.EncodeToString(buf), kms.NewMemoryStore(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	eng, err := engine.New(kmsSvc, "test-search-salt")
	require.NoError(t, err)

	auditStore := audit.NewMemoryStore()
	auditSvc := audit.NewService(auditStore, eng, slog.New(slog.DiscardHandler))
	incidentSvc := incident.NewService(
		incident.NewMemoryStore(),
		nopExecutor{},
		nopSnapshots{},
		nopLogs{},
		eng,
		slog.New(slog.DiscardHandler),
	)
	scoring := compliance.NewService(auditSvc, incidentSvc, config.DefaultComplianceConfig(), slog.New(slog.DiscardHandler))
	return &fixture{
		audit:     auditSvc,
		incidents: incidentSvc,
		dashboard: NewService(auditStore, incidentSvc, scoring),
	}
}

func TestOverview_EmptyStores(t *testing.T) {
	f := newFixture(t)

	overview, err := f.dashboard.Overview(context.Background())
	require.NoError(t, err, "empty stores never error")

	assert.Zero(t, overview.EventsToday)
	assert.Zero(t, overview.ActiveIncidents)
	assert.Zero(t, overview.CriticalIncidents)
	assert.Empty(t, overview.RecentAlerts)
	assert.Empty(t, overview.RecentAuditEntries)
	assert.Equal(t, 100.0, overview.AreaScores[compliance.AreaAccessControl])
}

func TestOverview_Populated(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	// Yesterday's event stays out of today's count.
	_, err := f.audit.Record(requestcontext.WithTime(context.Background(), now.Add(-24*time.Hour)), audit.Event{
		Type: "authentication", Action: audit.ActionLoginSucceeded, Actor: "user-1", Outcome: audit.OutcomeSuccess,
	})
	require.NoError(t, err)

	for range 3 {
		_, err := f.audit.Record(requestcontext.WithTime(context.Background(), now.Add(-time.Hour)), audit.Event{
			Type: "authentication", Action: audit.ActionLoginFailed, Actor: "user-2", Outcome: audit.OutcomeDenied, Origin: "10.0.0.1",
		})
		require.NoError(t, err)
	}

	ctx := context.Background()
	_, err = f.incidents.CreateIncident(ctx, incident.CreateSpec{
		Type: incident.TypeBruteForce, Severity: string(incident.SeverityCritical),
		Description: "active attack", DetectionMethod: incident.DetectionAutomated,
	})
	require.NoError(t, err)
	resolved, err := f.incidents.CreateIncident(ctx, incident.CreateSpec{
		Type: incident.TypeUnauthorizedAccess, Severity: string(incident.SeverityLow),
		Description: "handled", DetectionMethod: incident.DetectionManual,
	})
	require.NoError(t, err)
	for _, target := range []incident.State{
		incident.StateTriaged, incident.StateContained, incident.StateInvestigating,
		incident.StateRecovering, incident.StateResolved,
	} {
		_, err = f.incidents.UpdateState(ctx, resolved.ID, target, "progressing", "analyst-3")
		require.NoError(t, err)
	}

	overview, err := f.dashboard.Overview(requestcontext.WithTime(context.Background(), now))
	require.NoError(t, err)

	assert.Equal(t, 3, overview.EventsToday)
	assert.Equal(t, 1, overview.ActiveIncidents, "resolved incidents are not active")
	assert.Equal(t, 1, overview.CriticalIncidents)
	assert.Len(t, overview.RecentAlerts, 3, "denied logins are security alerts")
	assert.Len(t, overview.RecentAuditEntries, 4)
}
