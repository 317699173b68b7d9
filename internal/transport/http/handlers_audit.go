package httptransport

import (
	"net/http"
	"time"

	"custodia/internal/audit"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

// recordEventRequest is the wire shape for submitting an audit event. Origin,
// client agent, timestamp, category, and signature are assigned by the
// pipeline, not the caller.
type recordEventRequest struct {
	Type           string         `json:"type"`
	Action         string         `json:"action"`
	Actor          string         `json:"actor"`
	ResourceType   string         `json:"resource_type"`
	ResourceID     string         `json:"resource_id"`
	Classification string         `json:"classification"`
	Outcome        string         `json:"outcome"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (h *Handler) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.Decode[recordEventRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	event := audit.Event{
		Type:         req.Type,
		Action:       req.Action,
		Actor:        req.Actor,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Outcome:      audit.Outcome(req.Outcome),
		Metadata:     req.Metadata,
	}
	if req.Classification != "" {
		c, err := domain.ParseClassification(req.Classification)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		event.Classification = c
	}

	stored, err := h.audit.Record(ctx, event)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit event rejected",
			"request_id", requestID,
			"action", req.Action,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, stored)
}

type queryEventsResponse struct {
	Events []audit.Event `json:"events"`
	Count  int           `json:"count"`
}

func (h *Handler) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "from must be RFC 3339"))
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "to must be RFC 3339"))
		return
	}
	if to.IsZero() {
		to = requestcontext.Now(ctx)
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}

	filter := audit.Filter{
		Type:    q.Get("type"),
		Action:  q.Get("action"),
		Actor:   q.Get("actor"),
		Origin:  q.Get("origin"),
		Outcome: audit.Outcome(q.Get("outcome")),
	}
	if raw := q.Get("classification"); raw != "" {
		c, err := domain.ParseClassification(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Classification = c
	}

	events, err := h.audit.QueryWindow(ctx, filter, from, to)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, queryEventsResponse{Events: events, Count: len(events)})
}

func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	purged, err := h.audit.PurgeExpired(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "retention purge failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "retention purge completed", "purged", purged)
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"purged": purged})
}

// parseTimeParam parses an optional RFC 3339 query parameter. Empty input
// yields the zero time without error.
func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
