package incident

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

// GenerateRecoveryPlan derives an ordered remediation plan from the incident
// type, severity, and containment history. It has no side effects; callers
// may persist the plan if they want it on file.
func (s *Service) GenerateRecoveryPlan(ctx context.Context, id domain.IncidentID) (*RecoveryPlan, error) {
	inc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	steps := baseRecoverySteps(inc.Type)
	if failed := failedActions(inc.Containment); len(failed) > 0 {
		steps = append([]string{"retry failed containment actions: " + strings.Join(failed, ", ")}, steps...)
	}
	steps = append(steps,
		"verify audit trail completeness for the incident window",
		"document lessons learned and update detection rules",
	)

	return &RecoveryPlan{
		IncidentID:        inc.ID,
		Steps:             steps,
		EstimatedDuration: estimateRecovery(inc.Severity, inc.Containment),
		GeneratedAt:       requestcontext.Now(ctx).UTC(),
	}, nil
}

// GenerateIncidentReport assembles the exportable incident document. The
// report identifier is a stable function of the incident identifier.
func (s *Service) GenerateIncidentReport(ctx context.Context, id domain.IncidentID) (*Report, error) {
	inc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	forensics, err := s.store.ListForensics(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load forensics records")
	}

	containment := ContainmentResult{}
	for _, action := range inc.Containment {
		if action.Error != "" {
			containment.Failed = append(containment.Failed, action)
		} else {
			containment.Successful = append(containment.Successful, action)
		}
	}

	return &Report{
		ReportID:        ReportIDFor(inc.ID),
		IncidentID:      inc.ID.Reference(),
		Type:            inc.Type,
		Severity:        inc.Severity,
		State:           inc.State.String(),
		Description:     inc.Description,
		DetectionMethod: inc.DetectionMethod,
		Timeline:        inc.Timeline,
		Impact: ImpactSummary{
			AffectedSystems: inc.AffectedSystems,
			AffectedUsers:   inc.AffectedUsers,
			SystemCount:     len(inc.AffectedSystems),
			UserCount:       len(inc.AffectedUsers),
		},
		Containment:    containment,
		ForensicsCount: len(forensics),
		CreatedAt:      inc.CreatedAt,
		GeneratedAt:    requestcontext.Now(ctx).UTC(),
	}, nil
}

// ReportIDFor derives the stable operator-facing report identifier.
func ReportIDFor(id domain.IncidentID) string {
	raw := strings.ReplaceAll(uuid.UUID(id).String(), "-", "")
	return "IR-" + strings.ToUpper(raw[:12])
}

func baseRecoverySteps(incidentType string) []string {
	switch incidentType {
	case TypeBruteForce:
		return []string{
			"force credential reset for targeted accounts",
			"confirm origin addresses remain blocked",
			"review authentication lockout thresholds",
		}
	case TypeDataExfiltration:
		return []string{
			"revoke credentials used for the exports",
			"rotate encryption keys for the affected classifications",
			"determine the scope of exported records",
			"notify the designated compliance officer",
		}
	case TypeUnauthorizedAccess:
		return []string{
			"suspend the offending accounts pending review",
			"re-verify access control assignments for affected resources",
			"audit recent access by the involved actors",
		}
	default:
		return []string{
			"assess affected systems for residual compromise",
			"restore affected services from known-good state",
		}
	}
}

func failedActions(actions []ContainmentAction) []string {
	var out []string
	for _, a := range actions {
		if a.Error != "" {
			out = append(out, string(a.Type)+" on "+a.Target)
		}
	}
	return out
}

// estimateRecovery is a coarse duration estimate: severity sets the base and
// every failed containment action adds rework time.
func estimateRecovery(severity Severity, actions []ContainmentAction) time.Duration {
	var base time.Duration
	switch severity {
	case SeverityCritical:
		base = 72 * time.Hour
	case SeverityHigh:
		base = 48 * time.Hour
	case SeverityMedium:
		base = 24 * time.Hour
	default:
		base = 8 * time.Hour
	}
	for _, a := range actions {
		if a.Error != "" {
			base += 2 * time.Hour
		}
	}
	return base
}
