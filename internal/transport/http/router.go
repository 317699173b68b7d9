// Package httptransport is the thin HTTP layer. Handlers delegate to domain
// services; transport concerns stay isolated here.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/internal/audit"
	"custodia/internal/compliance"
	"custodia/internal/crypto/engine"
	"custodia/internal/crypto/kms"
	"custodia/internal/dashboard"
	"custodia/internal/export"
	"custodia/internal/incident"
	"custodia/pkg/domain"
	"custodia/pkg/platform/middleware/admin"
	"custodia/pkg/platform/middleware/metadata"
	"custodia/pkg/platform/middleware/requestid"
	"custodia/pkg/platform/middleware/requesttime"
)

// AuditService defines the audit operations the transport exposes.
type AuditService interface {
	Record(ctx context.Context, event audit.Event) (*audit.Event, error)
	QueryWindow(ctx context.Context, filter audit.Filter, from, to time.Time) ([]audit.Event, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

// CryptoService defines the encryption operations the transport exposes.
type CryptoService interface {
	Encrypt(ctx context.Context, plaintext []byte, c domain.Classification, label string) (*engine.Envelope, error)
	Decrypt(ctx context.Context, env *engine.Envelope, label string) ([]byte, error)
	HashForSearch(value string) string
}

// IncidentService defines the incident lifecycle operations the transport
// exposes.
type IncidentService interface {
	CreateIncident(ctx context.Context, spec incident.CreateSpec) (*incident.Incident, error)
	UpdateState(ctx context.Context, id domain.IncidentID, target incident.State, note, actor string) (*incident.Incident, error)
	Contain(ctx context.Context, id domain.IncidentID, requests []incident.ContainmentRequest) (*incident.ContainmentResult, error)
	CollectForensics(ctx context.Context, id domain.IncidentID, collectionType, source string) (*incident.ForensicsRecord, error)
	Get(ctx context.Context, id domain.IncidentID) (*incident.Incident, error)
	List(ctx context.Context) ([]incident.Incident, error)
	GenerateIncidentReport(ctx context.Context, id domain.IncidentID) (*incident.Report, error)
	GenerateRecoveryPlan(ctx context.Context, id domain.IncidentID) (*incident.RecoveryPlan, error)
}

// ComplianceService defines the scoring operations the transport exposes.
type ComplianceService interface {
	CalculateScore(ctx context.Context) (*compliance.Snapshot, error)
	GenerateReport(ctx context.Context, start, end time.Time) (*compliance.Report, error)
	IdentifyGaps(ctx context.Context) ([]compliance.Gap, error)
}

// DashboardService defines the read-model operations the transport exposes.
type DashboardService interface {
	Overview(ctx context.Context) (*dashboard.Overview, error)
}

// KeyService defines the key-inventory operations the transport exposes.
// Only metadata crosses this boundary; material stays inside the KMS.
type KeyService interface {
	ListKeys(ctx context.Context, purpose kms.Purpose) ([]kms.KeyInfo, error)
}

// Attestor signs exported report documents.
type Attestor interface {
	Attest(ctx context.Context, reportID, reportKind string, document any) (*export.Attestation, error)
}

// Handler wires all endpoints to their domain services.
type Handler struct {
	audit      AuditService
	crypto     CryptoService
	incidents  IncidentService
	compliance ComplianceService
	dashboard  DashboardService
	attestor   Attestor
	keys       KeyService
	logger     *slog.Logger

	// adminToken guards operator endpoints; empty disables them.
	adminToken string
}

// Option configures optional handler collaborators.
type Option func(*Handler)

// WithAttestor enables report attestation on export endpoints.
func WithAttestor(a Attestor) Option {
	return func(h *Handler) { h.attestor = a }
}

// WithKeyInventory mounts the operator key-inventory endpoint.
func WithKeyInventory(k KeyService) Option {
	return func(h *Handler) { h.keys = k }
}

// WithAdminToken mounts the operator endpoints behind the given token.
func WithAdminToken(token string) Option {
	return func(h *Handler) { h.adminToken = token }
}

// New constructs the handler with its dependencies.
func New(
	auditSvc AuditService,
	cryptoSvc CryptoService,
	incidentSvc IncidentService,
	complianceSvc ComplianceService,
	dashboardSvc DashboardService,
	logger *slog.Logger,
	opts ...Option,
) *Handler {
	h := &Handler{
		audit:      auditSvc,
		crypto:     cryptoSvc,
		incidents:  incidentSvc,
		compliance: complianceSvc,
		dashboard:  dashboardSvc,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter assembles the full route table with the standard middleware
// chain.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/audit/events", h.handleRecordEvent)
		r.Get("/audit/events", h.handleQueryEvents)

		r.Post("/crypto/encrypt", h.handleEncrypt)
		r.Post("/crypto/decrypt", h.handleDecrypt)
		r.Post("/crypto/search-hash", h.handleSearchHash)

		r.Post("/incidents", h.handleCreateIncident)
		r.Get("/incidents", h.handleListIncidents)
		r.Get("/incidents/{id}", h.handleGetIncident)
		r.Post("/incidents/{id}/state", h.handleUpdateState)
		r.Post("/incidents/{id}/contain", h.handleContain)
		r.Post("/incidents/{id}/forensics", h.handleCollectForensics)
		r.Get("/incidents/{id}/report", h.handleIncidentReport)
		r.Get("/incidents/{id}/recovery-plan", h.handleRecoveryPlan)

		r.Get("/compliance/score", h.handleScore)
		r.Get("/compliance/report", h.handleComplianceReport)
		r.Get("/compliance/gaps", h.handleGaps)

		r.Get("/dashboard", h.handleDashboard)

		if h.adminToken != "" {
			r.Group(func(r chi.Router) {
				r.Use(admin.RequireAdminToken(h.adminToken, h.logger))
				r.Post("/audit/purge", h.handlePurge)
				if h.keys != nil {
					r.Get("/crypto/keys", h.handleListKeys)
				}
			})
		}
	})

	r.Get("/healthz", handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
