package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"custodia/internal/incident"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

type createIncidentRequest struct {
	Type            string         `json:"type"`
	Severity        string         `json:"severity"`
	Description     string         `json:"description"`
	DetectionMethod string         `json:"detection_method"`
	AffectedSystems []string       `json:"affected_systems,omitempty"`
	AffectedUsers   []string       `json:"affected_users,omitempty"`
	InitialFindings map[string]any `json:"initial_findings,omitempty"`
}

func (h *Handler) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.Decode[createIncidentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	inc, err := h.incidents.CreateIncident(ctx, incident.CreateSpec{
		Type:            req.Type,
		Severity:        req.Severity,
		Description:     req.Description,
		DetectionMethod: req.DetectionMethod,
		AffectedSystems: req.AffectedSystems,
		AffectedUsers:   req.AffectedUsers,
		InitialFindings: req.InitialFindings,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "incident creation failed",
			"request_id", requestID,
			"type", req.Type,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "incident opened",
		"request_id", requestID,
		"incident", inc.ID.Reference(),
		"severity", inc.Severity,
	)
	httputil.WriteJSON(w, http.StatusCreated, inc)
}

type listIncidentsResponse struct {
	Incidents []incident.Incident `json:"incidents"`
	Count     int                 `json:"count"`
}

func (h *Handler) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	incidents, err := h.incidents.List(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, listIncidentsResponse{Incidents: incidents, Count: len(incidents)})
}

func (h *Handler) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := incidentIDParam(w, r)
	if !ok {
		return
	}

	inc, err := h.incidents.Get(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, inc)
}

type updateStateRequest struct {
	State string `json:"state"`
	Note  string `json:"note"`
	// Actor overrides the gateway-asserted identity when set.
	Actor string `json:"actor,omitempty"`
}

func (h *Handler) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	id, ok := incidentIDParam(w, r)
	if !ok {
		return
	}

	req, ok := httputil.Decode[updateStateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	target, err := incident.ParseState(req.State)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	actor := req.Actor
	if actor == "" {
		actor = requestcontext.ActorID(ctx)
	}

	inc, err := h.incidents.UpdateState(ctx, id, target, req.Note, actor)
	if err != nil {
		h.logger.WarnContext(ctx, "state transition rejected",
			"request_id", requestID,
			"incident", id.Reference(),
			"target", req.State,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, inc)
}

type containRequest struct {
	Actions []incident.ContainmentRequest `json:"actions"`
}

func (h *Handler) handleContain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	id, ok := incidentIDParam(w, r)
	if !ok {
		return
	}

	req, ok := httputil.Decode[containRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if len(req.Actions) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "at least one containment action is required"))
		return
	}

	result, err := h.incidents.Contain(ctx, id, req.Actions)
	if err != nil {
		h.logger.ErrorContext(ctx, "containment rejected",
			"request_id", requestID,
			"incident", id.Reference(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "containment executed",
		"request_id", requestID,
		"incident", id.Reference(),
		"successful", len(result.Successful),
		"failed", len(result.Failed),
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

type collectForensicsRequest struct {
	CollectionType string `json:"collection_type"`
	Source         string `json:"source"`
}

func (h *Handler) handleCollectForensics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	id, ok := incidentIDParam(w, r)
	if !ok {
		return
	}

	req, ok := httputil.Decode[collectForensicsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rec, err := h.incidents.CollectForensics(ctx, id, req.CollectionType, req.Source)
	if err != nil {
		h.logger.ErrorContext(ctx, "forensics collection failed",
			"request_id", requestID,
			"incident", id.Reference(),
			"source", req.Source,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleIncidentReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := incidentIDParam(w, r)
	if !ok {
		return
	}

	report, err := h.incidents.GenerateIncidentReport(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if wantsAttestation(r) {
		h.writeAttested(w, r, report.ReportID, "incident", report)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleRecoveryPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := incidentIDParam(w, r)
	if !ok {
		return
	}

	plan, err := h.incidents.GenerateRecoveryPlan(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, plan)
}

// incidentIDParam parses the {id} route parameter, writing a validation
// error on failure.
func incidentIDParam(w http.ResponseWriter, r *http.Request) (domain.IncidentID, bool) {
	id, err := domain.ParseIncidentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.IncidentID{}, false
	}
	return id, true
}
