package audit

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/crypto/engine"
	"custodia/internal/crypto/kms"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

func newTestEngine(t *testing.T) *engine.Engine {
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

func newTestService(t *testing.T, opts ...Option) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, newTestEngine(t), slog.New(slog.DiscardHandler), opts...)
	return svc, store
}

func validEvent() Event {
	return Event{
		Type:           "authentication",
		Action:         ActionLoginFailed,
		Actor:          "user-17",
		Classification: domain.ClassificationPublic,
		Outcome:        OutcomeDenied,
		Origin:         "10.0.0.1",
	}
}

func TestRecord_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing event type", func(e *Event) { e.Type = "" }},
		{"missing action", func(e *Event) { e.Action = "" }},
		{"missing actor", func(e *Event) { e.Actor = "" }},
		{"unknown outcome", func(e *Event) { e.Outcome = "maybe" }},
		{"unknown classification", func(e *Event) { e.Classification = "top-secret" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validEvent()
			tt.mutate(&event)
			_, err := svc.Record(ctx, event)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation) || dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestRecord_StampsAndSigns(t *testing.T) {
	svc, store := newTestService(t)
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), at)

	recorded, err := svc.Record(ctx, validEvent())
	require.NoError(t, err)

	assert.False(t, recorded.ID.IsNil())
	assert.Equal(t, at, recorded.Timestamp)
	assert.Equal(t, CategorySecurity, recorded.Category, "denied outcome routes to the security category")
	assert.NotEmpty(t, recorded.Signature.KeyID)
	assert.NotEmpty(t, recorded.Signature.MAC)

	stored, err := store.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, recorded.ID, stored[0].ID)

	require.NoError(t, svc.VerifyEvent(ctx, stored[0]))
}

func TestVerifyEvent_DetectsTampering(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	recorded, err := svc.Record(ctx, validEvent())
	require.NoError(t, err)

	tampered := *recorded
	tampered.Actor = "user-99"
	err = svc.VerifyEvent(ctx, tampered)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAuthenticationFailure))
}

type failingStore struct {
	MemoryStore
}

func (s *failingStore) Append(context.Context, Event) error {
	return errors.New("disk full")
}

func TestRecord_StoreFailurePropagates(t *testing.T) {
	svc := NewService(&failingStore{}, newTestEngine(t), slog.New(slog.DiscardHandler))

	_, err := svc.Record(context.Background(), validEvent())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}

type capturingPublisher struct {
	got chan Event
}

func (p *capturingPublisher) Publish(_ context.Context, event Event) error {
	p.got <- event
	return nil
}

func TestRecord_SecurityFanOut(t *testing.T) {
	pub := &capturingPublisher{got: make(chan Event, 1)}
	svc, _ := newTestService(t, WithPublisher(pub))
	ctx := context.Background()

	t.Run("security event is published", func(t *testing.T) {
		recorded, err := svc.Record(ctx, validEvent())
		require.NoError(t, err)

		select {
		case published := <-pub.got:
			assert.Equal(t, recorded.ID, published.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("security event never reached the publisher")
		}
	})

	t.Run("operations event is not published", func(t *testing.T) {
		event := validEvent()
		event.Action = ActionLoginSucceeded
		event.Outcome = OutcomeSuccess
		_, err := svc.Record(ctx, event)
		require.NoError(t, err)

		select {
		case <-pub.got:
			t.Fatal("operations event must not fan out")
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestQueryWindow(t *testing.T) {
	svc, _ := newTestService(t)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	for i, origin := range []string{"10.0.0.1", "10.0.0.1", "10.0.0.2"} {
		event := validEvent()
		event.Origin = origin
		ctx := requestcontext.WithTime(context.Background(), base.Add(time.Duration(i)*time.Minute))
		_, err := svc.Record(ctx, event)
		require.NoError(t, err)
	}

	ctx := context.Background()

	t.Run("filters by origin within window", func(t *testing.T) {
		got, err := svc.QueryWindow(ctx, Filter{Origin: "10.0.0.1"}, base, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("window end is exclusive", func(t *testing.T) {
		got, err := svc.QueryWindow(ctx, Filter{}, base, base.Add(time.Minute))
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("inverted window is rejected", func(t *testing.T) {
		_, err := svc.QueryWindow(ctx, Filter{}, base.Add(time.Hour), base)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestPurgeExpired(t *testing.T) {
	svc, store := newTestService(t)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	old := validEvent()
	oldCtx := requestcontext.WithTime(context.Background(), now.AddDate(-8, 0, 0))
	_, err := svc.Record(oldCtx, old)
	require.NoError(t, err)

	fresh := validEvent()
	freshCtx := requestcontext.WithTime(context.Background(), now.Add(-time.Hour))
	_, err = svc.Record(freshCtx, fresh)
	require.NoError(t, err)

	deleted, err := svc.PurgeExpired(requestcontext.WithTime(context.Background(), now))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
}
