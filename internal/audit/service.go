package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"custodia/internal/crypto/engine"
	"custodia/internal/platform/metrics"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

// publishTimeout bounds the SIEM fan-out so a stalled broker cannot hold
// goroutines forever. The store is the system of record, not the broker.
const publishTimeout = 5 * time.Second

// Signer is the slice of the encryption engine the pipeline depends on.
type Signer interface {
	Sign(ctx context.Context, payload []byte) (*engine.Signature, error)
	VerifyIntegrity(ctx context.Context, payload []byte, sig *engine.Signature) error
}

// Publisher fans security-category events out to an external consumer.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Service is the audit event pipeline. Events are validated, signed, and
// appended; persistence failures always propagate to the caller.
type Service struct {
	store     Store
	signer    Signer
	logger    *slog.Logger
	publisher Publisher
	metrics   *metrics.Metrics
}

type Option func(*Service)

// WithPublisher enables non-blocking fan-out of security-category events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store Store, signer Signer, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{store: store, signer: signer, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record validates, stamps, signs, and appends an event. The returned event
// carries the assigned ID, category, timestamp, and signature. A store
// failure is returned to the caller; silent audit loss is never acceptable.
func (s *Service) Record(ctx context.Context, event Event) (*Event, error) {
	if err := validate(event); err != nil {
		return nil, err
	}

	event.ID = domain.NewEventID()
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	// Postgres keeps microseconds; truncate up front so a persisted event
	// re-signs to the same payload it was signed over.
	event.Timestamp = event.Timestamp.UTC().Truncate(time.Microsecond)
	if event.Classification == "" {
		event.Classification = domain.ClassificationPublic
	}
	if event.Origin == "" {
		event.Origin = requestcontext.ClientIP(ctx)
	}
	if event.ClientAgent == "" {
		event.ClientAgent = requestcontext.UserAgent(ctx)
	}
	event.Category = CategoryFor(event.Action, event.Outcome)

	payload, err := canonicalPayload(event)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to serialize audit event for signing")
	}
	sig, err := s.signer.Sign(ctx, payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign audit event")
	}
	event.Signature = *sig

	if err := s.store.Append(ctx, event); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "audit event was not persisted")
	}

	if s.metrics != nil {
		s.metrics.AuditEventsRecorded.WithLabelValues(string(event.Category)).Inc()
	}

	if s.publisher != nil && event.Category == CategorySecurity {
		go s.fanOut(event)
	}

	return &event, nil
}

// fanOut pushes a security event to the external consumer. Failures are
// logged and never reach the Record caller; the event is already persisted.
func (s *Service) fanOut(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "security event fan-out failed",
			"event_id", event.ID.String(),
			"action", event.Action,
			"error", err,
		)
	}
}

// QueryWindow returns events matching the filter within [from, to).
func (s *Service) QueryWindow(ctx context.Context, filter Filter, from, to time.Time) ([]Event, error) {
	if !from.Before(to) {
		return nil, dErrors.New(dErrors.CodeValidation, "query window start must precede its end")
	}
	return s.store.QueryWindow(ctx, filter, from, to)
}

// VerifyEvent re-checks an event's integrity signature against its payload.
func (s *Service) VerifyEvent(ctx context.Context, event Event) error {
	payload, err := canonicalPayload(event)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to serialize audit event for verification")
	}
	return s.signer.VerifyIntegrity(ctx, payload, &event.Signature)
}

// PurgeExpired removes events past their classification's retention period.
// Returns the number of deleted events.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	now := requestcontext.Now(ctx)
	var total int64
	for _, c := range []domain.Classification{
		domain.ClassificationPublic,
		domain.ClassificationSensitive,
		domain.ClassificationCJI,
	} {
		cutoff := now.AddDate(0, 0, -c.RetentionDays())
		n, err := s.store.DeleteOlderThan(ctx, cutoff, c)
		if err != nil {
			return total, dErrors.Wrap(err, dErrors.CodeInternal, "retention purge failed")
		}
		total += n
	}
	if total > 0 {
		s.logger.InfoContext(ctx, "retention purge completed", "deleted", total)
	}
	return total, nil
}

func validate(event Event) error {
	switch {
	case event.Type == "":
		return dErrors.New(dErrors.CodeValidation, "event type is required")
	case event.Action == "":
		return dErrors.New(dErrors.CodeValidation, "action is required")
	case event.Actor == "":
		return dErrors.New(dErrors.CodeValidation, "actor is required")
	}
	if event.Outcome != OutcomeSuccess && event.Outcome != OutcomeDenied {
		return dErrors.Newf(dErrors.CodeValidation, "outcome must be %q or %q", OutcomeSuccess, OutcomeDenied)
	}
	if event.Classification != "" {
		if _, err := domain.ParseClassification(string(event.Classification)); err != nil {
			return err
		}
	}
	return nil
}

// canonicalPayload is the byte sequence signatures cover: the event with its
// signature field zeroed, in stable JSON field order.
func canonicalPayload(event Event) ([]byte, error) {
	event.Signature = engine.Signature{}
	return json.Marshal(event)
}
