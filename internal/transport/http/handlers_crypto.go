package httptransport

import (
	"context"
	"net/http"

	"custodia/internal/audit"
	"custodia/internal/crypto/engine"
	"custodia/internal/crypto/kms"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

type encryptRequest struct {
	// Plaintext is base64 on the wire per encoding/json []byte handling.
	Plaintext      []byte `json:"plaintext"`
	Classification string `json:"classification"`
	Context        string `json:"context"`
}

func (h *Handler) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.Decode[encryptRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	c, err := domain.ParseClassification(req.Classification)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	env, err := h.crypto.Encrypt(ctx, req.Plaintext, c, req.Context)
	if err != nil {
		h.logger.ErrorContext(ctx, "encryption failed",
			"request_id", requestID,
			"classification", c,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, env)
}

type decryptRequest struct {
	Envelope *engine.Envelope `json:"envelope"`
	Context  string           `json:"context"`
}

type decryptResponse struct {
	Plaintext []byte `json:"plaintext"`
}

func (h *Handler) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.Decode[decryptRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.Envelope == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "envelope is required"))
		return
	}

	plaintext, err := h.crypto.Decrypt(ctx, req.Envelope, req.Context)
	if err != nil {
		// Failed decryptions are signal, not noise.
		h.logger.WarnContext(ctx, "decryption rejected",
			"request_id", requestID,
			"key_id", req.Envelope.KeyID,
			"context", req.Context,
			"error", err,
		)
		if dErrors.HasCode(err, dErrors.CodeAuthenticationFailure) {
			h.recordIntegrityFailure(ctx, req.Envelope, req.Context)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, decryptResponse{Plaintext: plaintext})
}

// recordIntegrityFailure makes a failed authentication check an audit event
// in its own right. The decrypt request still fails regardless of whether
// this write lands.
func (h *Handler) recordIntegrityFailure(ctx context.Context, env *engine.Envelope, label string) {
	actor := requestcontext.ActorID(ctx)
	if actor == "" {
		actor = "unknown"
	}
	_, err := h.audit.Record(ctx, audit.Event{
		Type:           "encryption",
		Action:         audit.ActionIntegrityFailure,
		Actor:          actor,
		ResourceType:   "envelope",
		ResourceID:     env.KeyID,
		Classification: env.Classification,
		Outcome:        audit.OutcomeDenied,
		Metadata:       map[string]any{"context": label},
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "integrity failure left no audit trail",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}

type listKeysResponse struct {
	Keys  []kms.KeyInfo `json:"keys"`
	Count int           `json:"count"`
}

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	purpose, err := kms.ParsePurpose(r.URL.Query().Get("purpose"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	keys, err := h.keys.ListKeys(ctx, purpose)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, listKeysResponse{Keys: keys, Count: len(keys)})
}

type searchHashRequest struct {
	Value string `json:"value"`
}

type searchHashResponse struct {
	Hash string `json:"hash"`
}

func (h *Handler) handleSearchHash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.Decode[searchHashRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if req.Value == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "value is required"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, searchHashResponse{Hash: h.crypto.HashForSearch(req.Value)})
}
