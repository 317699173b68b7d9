package compliance

import "time"

// Area is a named compliance dimension scored independently.
type Area string

const (
	AreaAccessControl       Area = "access_control"
	AreaAuditAccountability Area = "audit_accountability"
	AreaIncidentResponse    Area = "incident_response"
	AreaDataProtection      Area = "data_protection"
	AreaPersonnelTraining   Area = "personnel_training"
)

// Areas returns every policy area in stable order. Scoring and reports
// iterate this list so output ordering never depends on map iteration.
func Areas() []Area {
	return []Area{
		AreaAccessControl,
		AreaAuditAccountability,
		AreaIncidentResponse,
		AreaDataProtection,
		AreaPersonnelTraining,
	}
}

// Status is the label a score maps to under the configured thresholds.
type Status string

const (
	StatusCompliant    Status = "compliant"
	StatusAtRisk       Status = "at_risk"
	StatusNonCompliant Status = "non_compliant"
)

// Snapshot is one scoring pass. Superseded snapshots are retained for trend
// reporting, never overwritten.
type Snapshot struct {
	AreaScores     map[Area]float64 `json:"area_scores"`
	ViolationCount int              `json:"violation_count"`
	Overall        float64          `json:"overall"`
	ComputedAt     time.Time        `json:"computed_at"`
}

// AreaAssessment is one report line: an area's score with its status label.
type AreaAssessment struct {
	Area       Area    `json:"area"`
	Score      float64 `json:"score"`
	Status     Status  `json:"status"`
	Violations int     `json:"violations"`
}

// Report is the exportable compliance document for a window.
type Report struct {
	Start         time.Time        `json:"start"`
	End           time.Time        `json:"end"`
	Areas         []AreaAssessment `json:"areas"`
	Overall       float64          `json:"overall"`
	OverallStatus Status           `json:"overall_status"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

// Gap is one ranked remediation item.
type Gap struct {
	Area           Area   `json:"area"`
	Description    string `json:"description"`
	Severity       string `json:"severity"`
	Recommendation string `json:"recommendation"`
}

// Obligation is a training-equivalent requirement tracked by a collaborator.
type Obligation struct {
	Subject     string    `json:"subject"`
	Requirement string    `json:"requirement"`
	DueSince    time.Time `json:"due_since"`
}
