package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"custodia/internal/audit"
	"custodia/internal/incident"
	"custodia/internal/platform/config"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

// defaultScoringWindow is the evidence window CalculateScore uses when no
// explicit range is given.
const defaultScoringWindow = 30 * 24 * time.Hour

// signatureSampleSize caps how many events per window get their integrity
// signature re-checked during scoring.
const signatureSampleSize = 50

// AuditSource is the slice of the audit pipeline scoring reads from.
type AuditSource interface {
	QueryWindow(ctx context.Context, filter audit.Filter, from, to time.Time) ([]audit.Event, error)
	VerifyEvent(ctx context.Context, event audit.Event) error
}

// IncidentSource supplies incident evidence.
type IncidentSource interface {
	List(ctx context.Context) ([]incident.Incident, error)
}

// TrainingTracker is an external collaborator tracking personnel training
// obligations. Optional; without one the training area scores clean.
type TrainingTracker interface {
	OverdueObligations(ctx context.Context) ([]Obligation, error)
}

// Service aggregates audit and incident evidence into per-area scores. All
// scoring is a deduction model: each area starts at 100 and loses points per
// violation, so identical evidence always yields identical scores.
type Service struct {
	audits    AuditSource
	incidents IncidentSource
	training  TrainingTracker
	snapshots SnapshotStore
	cfg       config.ComplianceConfig
	logger    *slog.Logger
}

type Option func(*Service)

func WithTrainingTracker(t TrainingTracker) Option {
	return func(s *Service) { s.training = t }
}

// WithSnapshotStore retains every computed snapshot for trend reporting.
func WithSnapshotStore(store SnapshotStore) Option {
	return func(s *Service) { s.snapshots = store }
}

func NewService(audits AuditSource, incidents IncidentSource, cfg config.ComplianceConfig, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		audits:    audits,
		incidents: incidents,
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CalculateScore scores the trailing evidence window. Nothing is persisted
// unless a snapshot store is configured.
func (s *Service) CalculateScore(ctx context.Context) (*Snapshot, error) {
	now := requestcontext.Now(ctx).UTC()
	snapshot, _, err := s.score(ctx, now.Add(-defaultScoringWindow), now)
	if err != nil {
		return nil, err
	}
	if s.snapshots != nil {
		if err := s.snapshots.Save(ctx, *snapshot); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to retain score snapshot")
		}
	}
	return snapshot, nil
}

// GenerateReport scores evidence restricted to [start, end) and labels each
// area. Two calls over unchanged data return identical scores.
func (s *Service) GenerateReport(ctx context.Context, start, end time.Time) (*Report, error) {
	if !start.Before(end) {
		return nil, dErrors.New(dErrors.CodeValidation, "report window start must precede its end")
	}

	snapshot, violations, err := s.score(ctx, start, end)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Start:         start,
		End:           end,
		Overall:       snapshot.Overall,
		OverallStatus: s.statusFor(snapshot.Overall),
		GeneratedAt:   requestcontext.Now(ctx).UTC(),
	}
	for _, area := range Areas() {
		score := snapshot.AreaScores[area]
		report.Areas = append(report.Areas, AreaAssessment{
			Area:       area,
			Score:      score,
			Status:     s.statusFor(score),
			Violations: violations[area],
		})
	}
	return report, nil
}

// IdentifyGaps returns remediation items ranked worst-first: every area
// below the compliant threshold, plus unresolved incidents and overdue
// training obligations.
func (s *Service) IdentifyGaps(ctx context.Context) ([]Gap, error) {
	now := requestcontext.Now(ctx).UTC()
	snapshot, violations, err := s.score(ctx, now.Add(-defaultScoringWindow), now)
	if err != nil {
		return nil, err
	}

	var gaps []Gap
	for _, area := range Areas() {
		score := snapshot.AreaScores[area]
		if score >= s.cfg.CompliantThreshold {
			continue
		}
		severity := "medium"
		if score < s.cfg.AtRiskThreshold {
			severity = "high"
		}
		gaps = append(gaps, Gap{
			Area:           area,
			Description:    fmt.Sprintf("%s scored %.1f with %d violations in the last 30 days", area, score, violations[area]),
			Severity:       severity,
			Recommendation: recommendationFor(area),
		})
	}

	sort.SliceStable(gaps, func(i, j int) bool {
		return snapshot.AreaScores[gaps[i].Area] < snapshot.AreaScores[gaps[j].Area]
	})
	return gaps, nil
}

// History returns retained snapshots in a time range for trend reporting.
func (s *Service) History(ctx context.Context, from, to time.Time) ([]Snapshot, error) {
	if s.snapshots == nil {
		return nil, nil
	}
	return s.snapshots.ListRange(ctx, from, to)
}

// score runs the deduction model over one evidence window. The returned map
// carries per-area violation counts for reports and gaps.
func (s *Service) score(ctx context.Context, from, to time.Time) (*Snapshot, map[Area]int, error) {
	events, err := s.audits.QueryWindow(ctx, audit.Filter{}, from, to)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to gather audit evidence")
	}
	incidents, err := s.incidents.List(ctx)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to gather incident evidence")
	}
	var inWindow []incident.Incident
	for _, inc := range incidents {
		if !inc.CreatedAt.Before(from) && inc.CreatedAt.Before(to) {
			inWindow = append(inWindow, inc)
		}
	}

	var overdue []Obligation
	if s.training != nil {
		overdue, err = s.training.OverdueObligations(ctx)
		if err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to gather training evidence")
		}
	}

	scores := make(map[Area]float64, len(Areas()))
	violations := make(map[Area]int, len(Areas()))

	scores[AreaAccessControl], violations[AreaAccessControl] = s.scoreAccessControl(events, inWindow)
	scores[AreaAuditAccountability], violations[AreaAuditAccountability] = s.scoreAuditAccountability(ctx, events)
	scores[AreaIncidentResponse], violations[AreaIncidentResponse] = s.scoreIncidentResponse(inWindow)
	scores[AreaDataProtection], violations[AreaDataProtection] = s.scoreDataProtection(events, inWindow)
	scores[AreaPersonnelTraining], violations[AreaPersonnelTraining] = s.scoreTraining(overdue)

	total := 0
	for _, n := range violations {
		total += n
	}

	return &Snapshot{
		AreaScores:     scores,
		ViolationCount: total,
		Overall:        s.overall(scores),
		ComputedAt:     requestcontext.Now(ctx).UTC(),
	}, violations, nil
}

func (s *Service) scoreAccessControl(events []audit.Event, incidents []incident.Incident) (float64, int) {
	denied := 0
	for _, e := range events {
		if e.Outcome == audit.OutcomeDenied {
			denied++
		}
	}
	unauthorized := 0
	for _, inc := range incidents {
		if inc.Type == incident.TypeUnauthorizedAccess && inc.State.Open() {
			unauthorized++
		}
	}
	score := 100.0
	score -= capped(float64(denied)*2, 50)
	score -= capped(float64(unauthorized)*10, 40)
	return clamp(score), denied + unauthorized
}

// scoreAuditAccountability re-verifies a sample of event signatures. A trail
// that cannot prove its own integrity is the area's worst failure mode.
func (s *Service) scoreAuditAccountability(ctx context.Context, events []audit.Event) (float64, int) {
	sample := events
	if len(sample) > signatureSampleSize {
		sample = sample[len(sample)-signatureSampleSize:]
	}
	invalid := 0
	for _, e := range sample {
		if err := s.audits.VerifyEvent(ctx, e); err != nil {
			invalid++
		}
	}
	score := 100.0 - capped(float64(invalid)*20, 90)
	return clamp(score), invalid
}

func (s *Service) scoreIncidentResponse(incidents []incident.Incident) (float64, int) {
	score := 100.0
	open := 0
	for _, inc := range incidents {
		if !inc.State.Open() {
			continue
		}
		open++
		switch inc.Severity {
		case incident.SeverityCritical:
			score -= 15
		case incident.SeverityHigh:
			score -= 10
		default:
			score -= 5
		}
	}
	return clamp(score), open
}

func (s *Service) scoreDataProtection(events []audit.Event, incidents []incident.Incident) (float64, int) {
	deniedCJI := 0
	for _, e := range events {
		if e.Outcome == audit.OutcomeDenied && e.Classification == domain.ClassificationCJI {
			deniedCJI++
		}
	}
	exfiltration := 0
	for _, inc := range incidents {
		if inc.Type == incident.TypeDataExfiltration {
			exfiltration++
		}
	}
	score := 100.0
	score -= capped(float64(deniedCJI)*5, 50)
	score -= capped(float64(exfiltration)*15, 45)
	return clamp(score), deniedCJI + exfiltration
}

func (s *Service) scoreTraining(overdue []Obligation) (float64, int) {
	return clamp(100 - float64(len(overdue))*10), len(overdue)
}

// overall is the weighted mean of area scores. Areas without a configured
// weight count as 1, so the default is a simple mean.
func (s *Service) overall(scores map[Area]float64) float64 {
	var sum, weightSum float64
	for _, area := range Areas() {
		weight := 1.0
		if w, ok := s.cfg.AreaWeights[string(area)]; ok && w > 0 {
			weight = w
		}
		sum += scores[area] * weight
		weightSum += weight
	}
	return sum / weightSum
}

func (s *Service) statusFor(score float64) Status {
	switch {
	case score >= s.cfg.CompliantThreshold:
		return StatusCompliant
	case score >= s.cfg.AtRiskThreshold:
		return StatusAtRisk
	default:
		return StatusNonCompliant
	}
}

func recommendationFor(area Area) string {
	switch area {
	case AreaAccessControl:
		return "review access assignments and tighten authorization rules for the resources seeing denials"
	case AreaAuditAccountability:
		return "investigate signature verification failures and re-key the integrity purpose if compromise is suspected"
	case AreaIncidentResponse:
		return "drive open incidents through containment and resolution; add responders where triage is stalled"
	case AreaDataProtection:
		return "rotate data keys for the affected classifications and review export authorizations"
	case AreaPersonnelTraining:
		return "schedule the overdue training obligations and confirm completion"
	default:
		return "review the underlying evidence for this area"
	}
}

func capped(value, limit float64) float64 {
	if value > limit {
		return limit
	}
	return value
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
