package incident

import (
	"time"

	"custodia/internal/crypto/engine"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Severity ranks how badly an incident can hurt.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func ParseSeverity(raw string) (Severity, error) {
	switch Severity(raw) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(raw), nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown severity %q", raw)
	}
}

// Detection methods. The pattern detector always reports "automated".
const (
	DetectionAutomated = "automated"
	DetectionManual    = "manual"
)

// Incident types the platform recognizes. Free-form types are accepted for
// manually created incidents; these are the ones detection rules emit.
const (
	TypeBruteForce         = "brute_force"
	TypeDataExfiltration   = "data_exfiltration"
	TypeUnauthorizedAccess = "unauthorized_access"
)

// TimelineEntry records one state transition with its acting identity.
type TimelineEntry struct {
	At    time.Time `json:"at"`
	From  State     `json:"from"`
	To    State     `json:"to"`
	Actor string    `json:"actor"`
	Note  string    `json:"note"`
}

// Incident is the aggregate the state machine governs. It is never deleted;
// closed incidents remain for compliance history.
type Incident struct {
	ID              domain.IncidentID
	Type            string
	Severity        Severity
	State           State
	Description     string
	DetectionMethod string
	AffectedSystems []string
	AffectedUsers   []string
	Responders      []string
	Timeline        []TimelineEntry
	Containment     []ContainmentAction
	InitialFindings map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ActionType enumerates supported containment actions.
type ActionType string

const (
	ActionIsolateSystem     ActionType = "isolate_system"
	ActionTerminateSessions ActionType = "terminate_sessions"
	ActionBlockAddress      ActionType = "block_address"
	ActionBackupEvidence    ActionType = "backup_evidence"
)

func ParseActionType(raw string) (ActionType, error) {
	switch ActionType(raw) {
	case ActionIsolateSystem, ActionTerminateSessions, ActionBlockAddress, ActionBackupEvidence:
		return ActionType(raw), nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown containment action %q", raw)
	}
}

// ContainmentAction is one executed (or attempted) action in a containment
// batch. The per-incident list is append-only.
type ContainmentAction struct {
	Type    ActionType `json:"type"`
	Target  string     `json:"target"`
	Outcome string     `json:"outcome"`
	Error   string     `json:"error,omitempty"`
	At      time.Time  `json:"at"`
}

// ContainmentResult separates succeeded and failed actions. Partial failure
// is a first-class outcome, not an error; operators retry only the failed
// subset.
type ContainmentResult struct {
	Successful []ContainmentAction `json:"successful"`
	Failed     []ContainmentAction `json:"failed"`
}

// ForensicsRecord is an immutable evidence bundle captured during an
// investigation. Snapshots and log extracts are keyed by system.
type ForensicsRecord struct {
	ID             domain.ForensicsID
	IncidentID     domain.IncidentID
	CollectionType string
	Source         string
	Snapshots      map[string][]byte
	LogExtracts    map[string][]byte
	Signature      engine.Signature
	CollectedAt    time.Time
}

// RecoveryPlan is derived from incident state; callers may persist it.
type RecoveryPlan struct {
	IncidentID        domain.IncidentID `json:"incident_id"`
	Steps             []string          `json:"steps"`
	EstimatedDuration time.Duration     `json:"estimated_duration"`
	GeneratedAt       time.Time         `json:"generated_at"`
}

// Report is the exportable incident document. The report ID is stable: the
// same incident always yields the same identifier.
type Report struct {
	ReportID        string            `json:"report_id"`
	IncidentID      string            `json:"incident_id"`
	Type            string            `json:"type"`
	Severity        Severity          `json:"severity"`
	State           string            `json:"state"`
	Description     string            `json:"description"`
	DetectionMethod string            `json:"detection_method"`
	Timeline        []TimelineEntry   `json:"timeline"`
	Impact          ImpactSummary     `json:"impact"`
	Containment     ContainmentResult `json:"containment"`
	ForensicsCount  int               `json:"forensics_count"`
	CreatedAt       time.Time         `json:"created_at"`
	GeneratedAt     time.Time         `json:"generated_at"`
}

// ImpactSummary aggregates affected systems and users for the report.
type ImpactSummary struct {
	AffectedSystems []string `json:"affected_systems"`
	AffectedUsers   []string `json:"affected_users"`
	SystemCount     int      `json:"system_count"`
	UserCount       int      `json:"user_count"`
}

// CreateSpec is the input for incident creation.
type CreateSpec struct {
	Type            string
	Severity        string
	Description     string
	DetectionMethod string
	AffectedSystems []string
	AffectedUsers   []string
	InitialFindings map[string]any
}
