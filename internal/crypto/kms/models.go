package kms

import (
	"time"

	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Purpose tags a key with the use it serves. Keys are never shared across
// purposes: data keys per classification tier, one purpose for integrity
// signatures, one for report attestations.
type Purpose string

const (
	PurposeDataPublic    Purpose = "data-public"
	PurposeDataSensitive Purpose = "data-sensitive"
	PurposeDataCJI       Purpose = "data-cji"
	PurposeIntegrity     Purpose = "integrity"
	PurposeAttestation   Purpose = "attestation"
)

func ParsePurpose(raw string) (Purpose, error) {
	switch Purpose(raw) {
	case PurposeDataPublic, PurposeDataSensitive, PurposeDataCJI, PurposeIntegrity, PurposeAttestation:
		return Purpose(raw), nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown key purpose %q", raw)
	}
}

// PurposeFor maps a classification tier to the key purpose that protects it.
func PurposeFor(c domain.Classification) Purpose {
	switch c {
	case domain.ClassificationCJI:
		return PurposeDataCJI
	case domain.ClassificationSensitive:
		return PurposeDataSensitive
	default:
		return PurposeDataPublic
	}
}

// Status is the lifecycle state of a key.
type Status string

const (
	// StatusActive keys encrypt new data.
	StatusActive Status = "active"
	// StatusRetired keys decrypt legacy data but never encrypt new data.
	StatusRetired Status = "retired"
	// StatusRevoked keys are unavailable for any operation.
	StatusRevoked Status = "revoked"
)

// KeyInfo is the caller-visible view of a key. Material never appears here.
type KeyInfo struct {
	ID        string    `json:"id"`
	Purpose   Purpose   `json:"purpose"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	RetiredAt time.Time `json:"retired_at,omitempty"`
}

// record is the persisted form of a key. Material is stored wrapped under the
// purpose wrapping key and only unwrapped inside the service.
type record struct {
	ID        string
	Purpose   Purpose
	Wrapped   []byte
	Nonce     []byte
	Status    Status
	CreatedAt time.Time
	RetiredAt time.Time
}

func (r *record) info() *KeyInfo {
	return &KeyInfo{
		ID:        r.ID,
		Purpose:   r.Purpose,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		RetiredAt: r.RetiredAt,
	}
}
