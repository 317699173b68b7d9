package dashboard

import (
	"context"
	"time"

	"custodia/internal/audit"
	"custodia/internal/compliance"
	"custodia/internal/incident"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

const (
	recentEntryLimit = 10
	recentScanLimit  = 100
)

// EventSource is the slice of the audit store the dashboard reads.
type EventSource interface {
	CountSince(ctx context.Context, since time.Time) (int, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

// IncidentSource supplies incident state for the counters.
type IncidentSource interface {
	List(ctx context.Context) ([]incident.Incident, error)
}

// ScoreSource supplies current per-area compliance scores.
type ScoreSource interface {
	CalculateScore(ctx context.Context) (*compliance.Snapshot, error)
}

// Overview is the operator landing view. Every field is a plain derivation
// over persisted state; empty stores produce zero values, never errors.
type Overview struct {
	EventsToday        int                         `json:"events_today"`
	ActiveIncidents    int                         `json:"active_incidents"`
	CriticalIncidents  int                         `json:"critical_incidents"`
	RecentAlerts       []audit.Event               `json:"recent_alerts"`
	RecentAuditEntries []audit.Event               `json:"recent_audit_entries"`
	AreaScores         map[compliance.Area]float64 `json:"area_scores"`
	GeneratedAt        time.Time                   `json:"generated_at"`
}

type Service struct {
	events    EventSource
	incidents IncidentSource
	scores    ScoreSource
}

func NewService(events EventSource, incidents IncidentSource, scores ScoreSource) *Service {
	return &Service{events: events, incidents: incidents, scores: scores}
}

// Overview assembles the read model for one request.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	now := requestcontext.Now(ctx).UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	eventsToday, err := s.events.CountSince(ctx, midnight)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count events")
	}

	recent, err := s.events.ListRecent(ctx, recentScanLimit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list recent events")
	}
	var alerts, entries []audit.Event
	for _, e := range recent {
		if len(entries) < recentEntryLimit {
			entries = append(entries, e)
		}
		if e.Category == audit.CategorySecurity && len(alerts) < recentEntryLimit {
			alerts = append(alerts, e)
		}
	}

	incidents, err := s.incidents.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list incidents")
	}
	active, critical := 0, 0
	for _, inc := range incidents {
		if !inc.State.Open() {
			continue
		}
		active++
		if inc.Severity == incident.SeverityCritical {
			critical++
		}
	}

	snapshot, err := s.scores.CalculateScore(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute compliance scores")
	}

	return &Overview{
		EventsToday:        eventsToday,
		ActiveIncidents:    active,
		CriticalIncidents:  critical,
		RecentAlerts:       alerts,
		RecentAuditEntries: entries,
		AreaScores:         snapshot.AreaScores,
		GeneratedAt:        now,
	}, nil
}
