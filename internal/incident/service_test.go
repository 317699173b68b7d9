package incident

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/audit"
	"custodia/internal/crypto/engine"
	"custodia/internal/crypto/kms"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

type stubExecutor struct {
	failTargets map[string]bool
}

func (e *stubExecutor) Execute(_ context.Context, _ ActionType, target string) (string, error) {
	if e.failTargets[target] {
		return "", errors.New("target unreachable")
	}
	return "completed", nil
}

type stubSnapshots struct{}

func (stubSnapshots) CaptureSnapshot(_ context.Context, system string) ([]byte, error) {
	return []byte("snapshot of " + system), nil
}

type stubLogs struct{}

func (stubLogs) ExtractLogs(_ context.Context, system string) ([]byte, error) {
	return []byte("logs from " + system), nil
}

type capturingRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *capturingRecorder) Record(_ context.Context, event audit.Event) (*audit.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return &event, nil
}

func (r *capturingRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

func newTestSigner(t *testing.T) *engine.Engine {
	t.Helper()
	buf := make([]byte, 32)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	kmsSvc, err := kms.New(base64.StdEncoding.EncodeToString(buf), kms.NewMemoryStore(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	eng, err := engine.New(kmsSvc, "test-search-salt")
	require.NoError(t, err)
	return eng
}

func newTestIncidentService(t *testing.T, opts ...Option) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(
		store,
		&stubExecutor{},
		stubSnapshots{},
		stubLogs{},
		newTestSigner(t),
		slog.New(slog.DiscardHandler),
		opts...,
	)
	return svc, store
}

func validSpec() CreateSpec {
	return CreateSpec{
		Type:            TypeBruteForce,
		Severity:        string(SeverityHigh),
		Description:     "12 failed logins from 10.0.0.1",
		DetectionMethod: DetectionAutomated,
		AffectedSystems: []string{"auth-gateway"},
		AffectedUsers:   []string{"user-17"},
	}
}

func TestCreateIncident(t *testing.T) {
	recorder := &capturingRecorder{}
	svc, _ := newTestIncidentService(t, WithAuditor(recorder))
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), at)

	inc, err := svc.CreateIncident(ctx, validSpec())
	require.NoError(t, err)

	assert.False(t, inc.ID.IsNil())
	assert.Equal(t, StateNew, inc.State)
	assert.Equal(t, DetectionAutomated, inc.DetectionMethod)
	assert.Equal(t, at, inc.CreatedAt)
	require.Len(t, inc.Timeline, 1, "timeline is seeded at creation")
	assert.Contains(t, recorder.actions(), audit.ActionIncidentCreated)
}

func TestCreateIncident_Validation(t *testing.T) {
	svc, _ := newTestIncidentService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateSpec)
	}{
		{"missing type", func(s *CreateSpec) { s.Type = "" }},
		{"missing description", func(s *CreateSpec) { s.Description = "" }},
		{"unknown severity", func(s *CreateSpec) { s.Severity = "catastrophic" }},
		{"unknown detection method", func(s *CreateSpec) { s.DetectionMethod = "psychic" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)
			_, err := svc.CreateIncident(ctx, spec)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation) || dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestUpdateState_FullLifecycle(t *testing.T) {
	svc, _ := newTestIncidentService(t)
	ctx := context.Background()

	inc, err := svc.CreateIncident(ctx, validSpec())
	require.NoError(t, err)

	for _, target := range []State{
		StateTriaged, StateContained, StateInvestigating,
		StateRecovering, StateResolved, StateClosed,
	} {
		inc, err = svc.UpdateState(ctx, inc.ID, target, "advancing response", "analyst-3")
		require.NoError(t, err, "transition to %s", target)
		assert.Equal(t, target, inc.State)
	}

	// creation seed plus six transitions
	assert.Len(t, inc.Timeline, 7)
	last := inc.Timeline[len(inc.Timeline)-1]
	assert.Equal(t, StateResolved, last.From)
	assert.Equal(t, StateClosed, last.To)
	assert.Equal(t, "analyst-3", last.Actor)
}

func TestResponders_TrackActingIdentities(t *testing.T) {
	svc, store := newTestIncidentService(t)
	ctx := requestcontext.WithActorID(context.Background(), "analyst-1")

	inc, err := svc.CreateIncident(ctx, validSpec())
	require.NoError(t, err)
	assert.Equal(t, []string{"analyst-1"}, inc.Responders, "creator joins the responders set")

	inc, err = svc.UpdateState(ctx, inc.ID, StateTriaged, "taking over", "analyst-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"analyst-1", "analyst-2"}, inc.Responders)

	// Same actor again stays a set, not a log.
	inc, err = svc.UpdateState(ctx, inc.ID, StateContained, "contained", "analyst-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"analyst-1", "analyst-2"}, inc.Responders)

	containCtx := requestcontext.WithActorID(context.Background(), "analyst-3")
	_, err = svc.Contain(containCtx, inc.ID, []ContainmentRequest{
		{Type: ActionIsolateSystem, Target: "auth-gateway"},
	})
	require.NoError(t, err)

	stored, err := store.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"analyst-1", "analyst-2", "analyst-3"}, stored.Responders)
}

func TestResponders_SystemIdentityExcluded(t *testing.T) {
	svc, _ := newTestIncidentService(t)

	inc, err := svc.CreateIncident(context.Background(), validSpec())
	require.NoError(t, err)
	assert.Empty(t, inc.Responders, "automated creation names no responder")
}

func TestUpdateState_Rejections(t *testing.T) {
	svc, _ := newTestIncidentService(t)
	ctx := context.Background()

	inc, err := svc.CreateIncident(ctx, validSpec())
	require.NoError(t, err)

	t.Run("direct close from new is illegal", func(t *testing.T) {
		_, err := svc.UpdateState(ctx, inc.ID, StateClosed, "shortcut", "analyst-3")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	t.Run("note is required", func(t *testing.T) {
		_, err := svc.UpdateState(ctx, inc.ID, StateTriaged, "", "analyst-3")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("actor is required", func(t *testing.T) {
		_, err := svc.UpdateState(ctx, inc.ID, StateTriaged, "triaged by shift lead", "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("unknown incident", func(t *testing.T) {
		other, err := svc.CreateIncident(ctx, validSpec())
		require.NoError(t, err)
		missing := other.ID
		svcEmpty, _ := newTestIncidentService(t)
		_, err = svcEmpty.UpdateState(ctx, missing, StateTriaged, "note", "analyst-3")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestUpdateState_ConcurrentTransitionsSerialized(t *testing.T) {
	svc, _ := newTestIncidentService(t)
	ctx := context.Background()

	inc, err := svc.CreateIncident(ctx, validSpec())
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.UpdateState(ctx, inc.ID, StateTriaged, "race", "analyst-3")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent transition may win")
}

func TestContain_PartialFailure(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(
		store,
		&stubExecutor{failTargets: map[string]bool{"db-7": true}},
		stubSnapshots{},
		stubLogs{},
		newTestSigner(t),
		slog.New(slog.DiscardHandler),
	)
	ctx := context.Background()

	inc, err := svc.CreateIncident(ctx, validSpec())
	require.NoError(t, err)

	result, err := svc.Contain(ctx, inc.ID, []ContainmentRequest{
		{Type: ActionIsolateSystem, Target: "auth-gateway"},
		{Type: ActionIsolateSystem, Target: "db-7"},
	})
	require.NoError(t, err, "partial failure is a result, not an error")

	require.Len(t, result.Successful, 1)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "auth-gateway", result.Successful[0].Target)
	assert.Equal(t, "db-7", result.Failed[0].Target)
	assert.NotEmpty(t, result.Failed[0].Error)

	stored, err := svc.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Containment, 2, "both attempts land on the incident record")
}

func TestContain_Validation(t *testing.T) {
	svc, _ := newTestIncidentService(t)
	ctx := context.Background()

	inc, err := svc.CreateIncident(ctx, validSpec())
	require.NoError(t, err)

	t.Run("empty batch", func(t *testing.T) {
		_, err := svc.Contain(ctx, inc.ID, nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("unknown action type", func(t *testing.T) {
		_, err := svc.Contain(ctx, inc.ID, []ContainmentRequest{{Type: "unplug_everything", Target: "x"}})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("missing target", func(t *testing.T) {
		_, err := svc.Contain(ctx, inc.ID, []ContainmentRequest{{Type: ActionBlockAddress}})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestCollectForensics(t *testing.T) {
	svc, _ := newTestIncidentService(t)
	ctx := context.Background()

	spec := validSpec()
	spec.AffectedSystems = []string{"auth-gateway", "db-7"}
	inc, err := svc.CreateIncident(ctx, spec)
	require.NoError(t, err)

	rec, err := svc.CollectForensics(ctx, inc.ID, "post-containment", "analyst-3")
	require.NoError(t, err)

	assert.False(t, rec.ID.IsNil())
	assert.Equal(t, inc.ID, rec.IncidentID)
	assert.Equal(t, []byte("snapshot of db-7"), rec.Snapshots["db-7"])
	assert.Equal(t, []byte("logs from auth-gateway"), rec.LogExtracts["auth-gateway"])

	t.Run("queried back byte-identical with valid signature", func(t *testing.T) {
		got, err := svc.GetForensics(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.Snapshots, got.Snapshots)
		assert.Equal(t, rec.LogExtracts, got.LogExtracts)
		require.NoError(t, svc.VerifyForensics(ctx, *got))
	})

	t.Run("tampered extract fails verification", func(t *testing.T) {
		got, err := svc.GetForensics(ctx, rec.ID)
		require.NoError(t, err)
		got.LogExtracts["db-7"][0] ^= 0x01
		err = svc.VerifyForensics(ctx, *got)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAuthenticationFailure))
	})
}

func TestGenerateRecoveryPlan(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(
		store,
		&stubExecutor{failTargets: map[string]bool{"db-7": true}},
		stubSnapshots{},
		stubLogs{},
		newTestSigner(t),
		slog.New(slog.DiscardHandler),
	)
	ctx := context.Background()

	inc, err := svc.CreateIncident(ctx, validSpec())
	require.NoError(t, err)

	_, err = svc.Contain(ctx, inc.ID, []ContainmentRequest{
		{Type: ActionIsolateSystem, Target: "db-7"},
	})
	require.NoError(t, err)

	plan, err := svc.GenerateRecoveryPlan(ctx, inc.ID)
	require.NoError(t, err)

	require.NotEmpty(t, plan.Steps)
	assert.Contains(t, plan.Steps[0], "retry failed containment", "failed actions surface first")
	assert.Equal(t, 50*time.Hour, plan.EstimatedDuration, "high severity base plus one failed action")
}

func TestGenerateIncidentReport(t *testing.T) {
	svc, _ := newTestIncidentService(t)
	ctx := context.Background()

	inc, err := svc.CreateIncident(ctx, validSpec())
	require.NoError(t, err)
	_, err = svc.UpdateState(ctx, inc.ID, StateTriaged, "confirmed brute force", "analyst-3")
	require.NoError(t, err)

	report, err := svc.GenerateIncidentReport(ctx, inc.ID)
	require.NoError(t, err)

	assert.Equal(t, ReportIDFor(inc.ID), report.ReportID)
	assert.Regexp(t, `^IR-[0-9A-F]{12}$`, report.ReportID)
	assert.Equal(t, inc.ID.Reference(), report.IncidentID)
	assert.Len(t, report.Timeline, 2)
	assert.Equal(t, 1, report.Impact.SystemCount)

	again, err := svc.GenerateIncidentReport(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, report.ReportID, again.ReportID, "report identifier is stable")
}
