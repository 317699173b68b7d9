package audit

import (
	"time"

	"custodia/internal/crypto/engine"
	"custodia/pkg/domain"
)

// Category classifies audit events by their primary purpose. This enables
// different retention policies, storage routing, and SIEM fan-out.
type Category string

const (
	// CategoryCompliance covers events with legal/regulatory significance.
	// These require tamper-proof storage and long retention.
	CategoryCompliance Category = "compliance"

	// CategorySecurity covers events relevant to security monitoring and
	// forensics. These feed the SIEM fan-out and the pattern detector.
	CategorySecurity Category = "security"

	// CategoryOperations covers events useful for debugging and operational
	// visibility.
	CategoryOperations Category = "operations"
)

// Outcome is the result of the audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
)

// Well-known actions emitted by collaborators. The pipeline accepts any
// action string; these are the ones the detector and scoring engine key on.
const (
	ActionLoginFailed      = "login_failed"
	ActionLoginSucceeded   = "login_succeeded"
	ActionRecordAccessed   = "record_accessed"
	ActionRecordExported   = "record_exported"
	ActionRecordModified   = "record_modified"
	ActionConfigChanged    = "config_changed"
	ActionKeyRotated       = "key_rotated"
	ActionKeyRevoked       = "key_revoked"
	ActionIncidentCreated  = "incident_created"
	ActionIncidentUpdated  = "incident_updated"
	ActionContainmentRun   = "containment_executed"
	ActionForensicsTaken   = "forensics_collected"
	ActionIntegrityFailure = "integrity_check_failed"
)

// actionCategories maps well-known actions to their category. Unknown
// actions default to operations.
var actionCategories = map[string]Category{
	ActionLoginFailed:      CategorySecurity,
	ActionKeyRotated:       CategorySecurity,
	ActionKeyRevoked:       CategorySecurity,
	ActionIncidentCreated:  CategorySecurity,
	ActionContainmentRun:   CategorySecurity,
	ActionIntegrityFailure: CategorySecurity,

	ActionRecordAccessed:  CategoryCompliance,
	ActionRecordExported:  CategoryCompliance,
	ActionRecordModified:  CategoryCompliance,
	ActionConfigChanged:   CategoryCompliance,
	ActionForensicsTaken:  CategoryCompliance,
	ActionIncidentUpdated: CategoryCompliance,

	ActionLoginSucceeded: CategoryOperations,
}

// CategoryFor returns the category for an action. A denied outcome promotes
// any action to the security category regardless of its default.
func CategoryFor(action string, outcome Outcome) Category {
	if outcome == OutcomeDenied {
		return CategorySecurity
	}
	if cat, ok := actionCategories[action]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is a single audit record. Collaborators fill the identifying fields;
// the pipeline stamps ID, timestamp, category, and signature at record time.
type Event struct {
	ID             domain.EventID        `json:"id"`
	Type           string                `json:"event_type"`
	Action         string                `json:"action"`
	Actor          string                `json:"actor"`
	ResourceType   string                `json:"resource_type,omitempty"`
	ResourceID     string                `json:"resource_id,omitempty"`
	Classification domain.Classification `json:"classification"`
	Outcome        Outcome               `json:"outcome"`
	Origin         string                `json:"origin,omitempty"`
	ClientAgent    string                `json:"client_agent,omitempty"`
	Category       Category              `json:"category"`
	Timestamp      time.Time             `json:"timestamp"`
	Metadata       map[string]any        `json:"metadata,omitempty"`
	Signature      engine.Signature      `json:"signature"`
}

// Filter narrows window queries. Zero fields do not constrain.
type Filter struct {
	Type           string
	Action         string
	Actor          string
	Origin         string
	Outcome        Outcome
	Classification domain.Classification
}

// Matches reports whether an event satisfies every set filter field.
func (f Filter) Matches(e Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Origin != "" && e.Origin != f.Origin {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if f.Classification != "" && e.Classification != f.Classification {
		return false
	}
	return true
}
