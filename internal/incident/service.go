package incident

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"custodia/internal/audit"
	"custodia/internal/crypto/engine"
	"custodia/internal/platform/metrics"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// lockStripes bounds memory for per-incident serialization. Two incidents
// sharing a stripe contend but never corrupt each other.
const lockStripes = 64

// ActionExecutor performs one containment action against an external system.
type ActionExecutor interface {
	Execute(ctx context.Context, action ActionType, target string) (string, error)
}

// SnapshotSource captures the current state of an affected system without
// mutating it.
type SnapshotSource interface {
	CaptureSnapshot(ctx context.Context, system string) ([]byte, error)
}

// LogSource extracts recent log content for an affected system.
type LogSource interface {
	ExtractLogs(ctx context.Context, system string) ([]byte, error)
}

// Signer provides tamper evidence for forensics bundles.
type Signer interface {
	Sign(ctx context.Context, payload []byte) (*engine.Signature, error)
	VerifyIntegrity(ctx context.Context, payload []byte, sig *engine.Signature) error
}

// Recorder feeds incident activity into the audit pipeline.
type Recorder interface {
	Record(ctx context.Context, event audit.Event) (*audit.Event, error)
}

// ContainmentRequest is one requested action in a containment batch.
type ContainmentRequest struct {
	Type   ActionType `json:"type"`
	Target string     `json:"target"`
}

// Service owns the incident lifecycle. Transitions within a single incident
// are serialized through striped locks; independent incidents proceed
// concurrently.
type Service struct {
	store     Store
	executor  ActionExecutor
	snapshots SnapshotSource
	logs      LogSource
	signer    Signer
	logger    *slog.Logger
	auditor   Recorder
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	locks [lockStripes]sync.Mutex
}

type Option func(*Service)

// WithAuditor wires incident activity into the audit pipeline. Audit
// failures propagate to callers; incident actions must leave a trail.
func WithAuditor(r Recorder) Option {
	return func(s *Service) { s.auditor = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(
	store Store,
	executor ActionExecutor,
	snapshots SnapshotSource,
	logs LogSource,
	signer Signer,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:     store,
		executor:  executor,
		snapshots: snapshots,
		logs:      logs,
		signer:    signer,
		logger:    logger,
		tracer:    otel.Tracer("custodia/incident"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// addResponder records an acting identity on the incident's responders set.
// Automated activity under the system identity is not a responder.
func addResponder(inc *Incident, actor string) {
	if actor == "" || actor == "system" {
		return
	}
	for _, r := range inc.Responders {
		if r == actor {
			return
		}
	}
	inc.Responders = append(inc.Responders, actor)
}

func (s *Service) lockFor(id domain.IncidentID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id.String()))
	return &s.locks[h.Sum32()%lockStripes]
}

// CreateIncident validates the spec, assigns an identifier, seeds the
// timeline, and persists the incident in state "new".
func (s *Service) CreateIncident(ctx context.Context, spec CreateSpec) (*Incident, error) {
	ctx, span := s.tracer.Start(ctx, "incident.create")
	defer span.End()

	severity, err := validateSpec(spec)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx).UTC()
	actor := requestcontext.ActorID(ctx)
	if actor == "" {
		actor = "system"
	}

	inc := &Incident{
		ID:              domain.NewIncidentID(),
		Type:            spec.Type,
		Severity:        severity,
		State:           StateNew,
		Description:     spec.Description,
		DetectionMethod: spec.DetectionMethod,
		AffectedSystems: spec.AffectedSystems,
		AffectedUsers:   spec.AffectedUsers,
		InitialFindings: spec.InitialFindings,
		Timeline: []TimelineEntry{{
			At:    now,
			From:  StateNew,
			To:    StateNew,
			Actor: actor,
			Note:  "incident opened",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	addResponder(inc, actor)

	if err := s.store.Create(ctx, inc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist incident")
	}
	if s.metrics != nil {
		s.metrics.IncidentsOpen.Inc()
	}
	s.logger.InfoContext(ctx, "incident created",
		"incident_id", inc.ID.Reference(),
		"type", inc.Type,
		"severity", inc.Severity,
		"detection_method", inc.DetectionMethod,
	)

	if err := s.recordAudit(ctx, audit.ActionIncidentCreated, inc, map[string]any{
		"type":             inc.Type,
		"severity":         string(inc.Severity),
		"detection_method": inc.DetectionMethod,
	}); err != nil {
		return nil, err
	}
	return inc, nil
}

// UpdateState moves an incident to a new lifecycle stage. The transition
// table is enforced; every move requires a note and an acting identity and
// appends a timeline entry.
func (s *Service) UpdateState(ctx context.Context, id domain.IncidentID, target State, note, actor string) (*Incident, error) {
	ctx, span := s.tracer.Start(ctx, "incident.update_state")
	defer span.End()

	if note == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a transition note is required")
	}
	if actor == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "an acting identity is required")
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	inc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inc.State.CanTransitionTo(target) {
		return nil, invalidTransition(inc.State, target)
	}

	now := requestcontext.Now(ctx).UTC()
	inc.Timeline = append(inc.Timeline, TimelineEntry{
		At:    now,
		From:  inc.State,
		To:    target,
		Actor: actor,
		Note:  note,
	})
	from := inc.State
	inc.State = target
	inc.UpdatedAt = now
	addResponder(inc, actor)

	if err := s.store.Update(ctx, inc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist incident transition")
	}
	if s.metrics != nil && target == StateResolved {
		s.metrics.IncidentsOpen.Dec()
	}
	s.logger.InfoContext(ctx, "incident state changed",
		"incident_id", inc.ID.Reference(),
		"from", from.String(),
		"to", target.String(),
		"actor", actor,
	)

	if err := s.recordAudit(ctx, audit.ActionIncidentUpdated, inc, map[string]any{
		"from": from.String(),
		"to":   target.String(),
		"note": note,
	}); err != nil {
		return nil, err
	}
	return inc, nil
}

// Contain executes a batch of containment actions. Actions run in parallel
// and independently: one unreachable target never aborts the rest. The
// result separates succeeded and failed actions so operators can retry only
// the failed subset.
func (s *Service) Contain(ctx context.Context, id domain.IncidentID, requests []ContainmentRequest) (*ContainmentResult, error) {
	ctx, span := s.tracer.Start(ctx, "incident.contain")
	defer span.End()

	if len(requests) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one containment action is required")
	}
	for _, req := range requests {
		if _, err := ParseActionType(string(req.Type)); err != nil {
			return nil, err
		}
		if req.Target == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "every containment action needs a target")
		}
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	inc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc.State.Terminal() {
		return nil, dErrors.New(dErrors.CodeConflict, "cannot contain a closed incident")
	}

	result := &ContainmentResult{}
	var resultMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, req := range requests {
		g.Go(func() error {
			outcome, execErr := s.executor.Execute(gctx, req.Type, req.Target)
			action := ContainmentAction{
				Type:   req.Type,
				Target: req.Target,
				At:     requestcontext.Now(ctx).UTC(),
			}
			resultMu.Lock()
			defer resultMu.Unlock()
			if execErr != nil {
				action.Outcome = "failed"
				action.Error = execErr.Error()
				result.Failed = append(result.Failed, action)
				return nil
			}
			action.Outcome = outcome
			result.Successful = append(result.Successful, action)
			return nil
		})
	}
	// Goroutines report failures through the result, never through the
	// group, so Wait cannot fail here.
	_ = g.Wait()

	inc.Containment = append(inc.Containment, result.Successful...)
	inc.Containment = append(inc.Containment, result.Failed...)
	inc.UpdatedAt = requestcontext.Now(ctx).UTC()
	addResponder(inc, requestcontext.ActorID(ctx))
	if err := s.store.Update(ctx, inc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist containment results")
	}
	s.logger.InfoContext(ctx, "containment batch executed",
		"incident_id", inc.ID.Reference(),
		"succeeded", len(result.Successful),
		"failed", len(result.Failed),
	)

	if err := s.recordAudit(ctx, audit.ActionContainmentRun, inc, map[string]any{
		"succeeded": len(result.Successful),
		"failed":    len(result.Failed),
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// forensicsPayload is the byte sequence the bundle signature covers.
type forensicsPayload struct {
	IncidentID     string            `json:"incident_id"`
	CollectionType string            `json:"collection_type"`
	Source         string            `json:"source"`
	Snapshots      map[string][]byte `json:"snapshots"`
	LogExtracts    map[string][]byte `json:"log_extracts"`
	CollectedAt    string            `json:"collected_at"`
}

// CollectForensics gathers system snapshots and log extracts for the
// incident's affected systems in parallel, signs the bundle, and persists an
// immutable record. Source systems are read, never mutated.
func (s *Service) CollectForensics(ctx context.Context, id domain.IncidentID, collectionType, source string) (*ForensicsRecord, error) {
	ctx, span := s.tracer.Start(ctx, "incident.collect_forensics")
	defer span.End()

	if collectionType == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "collection type is required")
	}

	inc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(inc.AffectedSystems) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "incident has no affected systems to collect from")
	}

	rec := ForensicsRecord{
		ID:             domain.NewForensicsID(),
		IncidentID:     inc.ID,
		CollectionType: collectionType,
		Source:         source,
		Snapshots:      make(map[string][]byte, len(inc.AffectedSystems)),
		LogExtracts:    make(map[string][]byte, len(inc.AffectedSystems)),
		CollectedAt:    requestcontext.Now(ctx).UTC(),
	}

	var bundleMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, system := range inc.AffectedSystems {
		g.Go(func() error {
			snapshot, err := s.snapshots.CaptureSnapshot(gctx, system)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeUnavailable, "snapshot capture failed for "+system)
			}
			bundleMu.Lock()
			rec.Snapshots[system] = snapshot
			bundleMu.Unlock()
			return nil
		})
		g.Go(func() error {
			extract, err := s.logs.ExtractLogs(gctx, system)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeUnavailable, "log extraction failed for "+system)
			}
			bundleMu.Lock()
			rec.LogExtracts[system] = extract
			bundleMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(bundlePayload(rec))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to serialize forensics bundle")
	}
	sig, err := s.signer.Sign(ctx, payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign forensics bundle")
	}
	rec.Signature = *sig

	if err := s.store.SaveForensics(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist forensics record")
	}
	s.logger.InfoContext(ctx, "forensics collected",
		"incident_id", inc.ID.Reference(),
		"forensics_id", rec.ID.String(),
		"systems", len(inc.AffectedSystems),
	)

	if err := s.recordAudit(ctx, audit.ActionForensicsTaken, inc, map[string]any{
		"forensics_id":    rec.ID.String(),
		"collection_type": collectionType,
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

// VerifyForensics re-checks a record's bundle signature.
func (s *Service) VerifyForensics(ctx context.Context, rec ForensicsRecord) error {
	payload, err := json.Marshal(bundlePayload(rec))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to serialize forensics bundle")
	}
	return s.signer.VerifyIntegrity(ctx, payload, &rec.Signature)
}

func bundlePayload(rec ForensicsRecord) forensicsPayload {
	return forensicsPayload{
		IncidentID:     rec.IncidentID.String(),
		CollectionType: rec.CollectionType,
		Source:         rec.Source,
		Snapshots:      rec.Snapshots,
		LogExtracts:    rec.LogExtracts,
		CollectedAt:    rec.CollectedAt.Format("2006-01-02T15:04:05.000000Z07:00"),
	}
}

// Get returns one incident.
func (s *Service) Get(ctx context.Context, id domain.IncidentID) (*Incident, error) {
	return s.get(ctx, id)
}

// List returns all incidents, oldest first.
func (s *Service) List(ctx context.Context) ([]Incident, error) {
	return s.store.List(ctx)
}

// GetForensics returns one forensics record.
func (s *Service) GetForensics(ctx context.Context, id domain.ForensicsID) (*ForensicsRecord, error) {
	rec, err := s.store.GetForensics(ctx, id)
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "forensics record not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load forensics record")
	}
	return rec, nil
}

func (s *Service) get(ctx context.Context, id domain.IncidentID) (*Incident, error) {
	inc, err := s.store.Get(ctx, id)
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "incident not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load incident")
	}
	return inc, nil
}

// recordAudit leaves an audit trail for an incident operation. Failures
// propagate: incident actions without a trail are worse than failed ones.
func (s *Service) recordAudit(ctx context.Context, action string, inc *Incident, metadata map[string]any) error {
	if s.auditor == nil {
		return nil
	}
	actor := requestcontext.ActorID(ctx)
	if actor == "" {
		actor = "system"
	}
	_, err := s.auditor.Record(ctx, audit.Event{
		Type:           "incident_response",
		Action:         action,
		Actor:          actor,
		ResourceType:   "incident",
		ResourceID:     inc.ID.Reference(),
		Classification: domain.ClassificationSensitive,
		Outcome:        audit.OutcomeSuccess,
		Metadata:       metadata,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "incident action left no audit trail")
	}
	return nil
}

func validateSpec(spec CreateSpec) (Severity, error) {
	if spec.Type == "" {
		return "", dErrors.New(dErrors.CodeValidation, "incident type is required")
	}
	if spec.Description == "" {
		return "", dErrors.New(dErrors.CodeValidation, "incident description is required")
	}
	if spec.DetectionMethod != DetectionAutomated && spec.DetectionMethod != DetectionManual {
		return "", dErrors.Newf(dErrors.CodeValidation, "detection method must be %q or %q", DetectionAutomated, DetectionManual)
	}
	return ParseSeverity(spec.Severity)
}
