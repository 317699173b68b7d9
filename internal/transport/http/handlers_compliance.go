package httptransport

import (
	"fmt"
	"net/http"

	"custodia/internal/compliance"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snapshot, err := h.compliance.CalculateScore(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "score calculation failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
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
		from = to.AddDate(0, 0, -30)
	}

	report, err := h.compliance.GenerateReport(ctx, from, to)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if wantsAttestation(r) {
		h.writeAttested(w, r, complianceReportID(report), "compliance", report)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

type gapsResponse struct {
	Gaps []compliance.Gap `json:"gaps"`
}

func (h *Handler) handleGaps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	gaps, err := h.compliance.IdentifyGaps(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, gapsResponse{Gaps: gaps})
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	overview, err := h.dashboard.Overview(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "dashboard overview failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, overview)
}

func wantsAttestation(r *http.Request) bool {
	return r.URL.Query().Get("attest") == "1"
}

// writeAttested signs the report document and returns the attestation wrapper
// instead of the bare document.
func (h *Handler) writeAttested(w http.ResponseWriter, r *http.Request, reportID, kind string, document any) {
	ctx := r.Context()

	if h.attestor == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "report attestation is not configured"))
		return
	}

	att, err := h.attestor.Attest(ctx, reportID, kind, document)
	if err != nil {
		h.logger.ErrorContext(ctx, "report attestation failed",
			"request_id", requestcontext.RequestID(ctx),
			"report_id", reportID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, att)
}

// complianceReportID derives a stable identifier from the report window.
func complianceReportID(report *compliance.Report) string {
	const day = "20060102"
	return fmt.Sprintf("CR-%s-%s", report.Start.UTC().Format(day), report.End.UTC().Format(day))
}
