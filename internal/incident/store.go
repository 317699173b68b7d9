package incident

import (
	"context"

	"custodia/pkg/domain"
)

// Store persists incidents and their forensics records. Incidents are never
// deleted; there is deliberately no delete operation.
type Store interface {
	Create(ctx context.Context, inc *Incident) error
	Get(ctx context.Context, id domain.IncidentID) (*Incident, error)
	Update(ctx context.Context, inc *Incident) error
	List(ctx context.Context) ([]Incident, error)

	SaveForensics(ctx context.Context, rec ForensicsRecord) error
	GetForensics(ctx context.Context, id domain.ForensicsID) (*ForensicsRecord, error)
	ListForensics(ctx context.Context, incidentID domain.IncidentID) ([]ForensicsRecord, error)
}
