package detection

import (
	"time"

	"custodia/internal/audit"
	"custodia/internal/incident"
	"custodia/pkg/domain"
)

// GroupKey selects how matched events are grouped before the threshold
// comparison.
type GroupKey string

const (
	GroupByOrigin GroupKey = "origin"
	GroupByActor  GroupKey = "actor"
)

// Rule is a detection rule as data: adding a rule requires no structural
// change to the sweep. Events matching the filter fields are grouped by the
// group key; any group at or above the threshold inside the window raises an
// incident from the template fields.
type Rule struct {
	Name           string
	EventType      string
	Action         string
	Outcome        audit.Outcome
	Classification domain.Classification
	GroupBy        GroupKey
	Threshold      int
	Window         time.Duration
	IncidentType   string
	Severity       incident.Severity
	Title          string
}

func (r Rule) filter() audit.Filter {
	return audit.Filter{
		Type:           r.EventType,
		Action:         r.Action,
		Outcome:        r.Outcome,
		Classification: r.Classification,
	}
}

func (r Rule) groupOf(e audit.Event) string {
	if r.GroupBy == GroupByActor {
		return e.Actor
	}
	return e.Origin
}

// DefaultRules is the shipped rule set. Thresholds and windows are starting
// points; deployments tune them through configuration.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:         "brute-force-auth",
			Action:       audit.ActionLoginFailed,
			Outcome:      audit.OutcomeDenied,
			GroupBy:      GroupByOrigin,
			Threshold:    10,
			Window:       15 * time.Minute,
			IncidentType: incident.TypeBruteForce,
			Severity:     incident.SeverityHigh,
			Title:        "repeated failed logins from a single origin",
		},
		{
			Name:         "excessive-exports",
			Action:       audit.ActionRecordExported,
			Outcome:      audit.OutcomeSuccess,
			GroupBy:      GroupByActor,
			Threshold:    25,
			Window:       time.Hour,
			IncidentType: incident.TypeDataExfiltration,
			Severity:     incident.SeverityCritical,
			Title:        "unusually high export volume by a single actor",
		},
		{
			Name:           "denied-cji-access",
			Action:         audit.ActionRecordAccessed,
			Outcome:        audit.OutcomeDenied,
			Classification: domain.ClassificationCJI,
			GroupBy:        GroupByActor,
			Threshold:      5,
			Window:         30 * time.Minute,
			IncidentType:   incident.TypeUnauthorizedAccess,
			Severity:       incident.SeverityHigh,
			Title:          "repeated denied access to restricted records",
		},
	}
}
