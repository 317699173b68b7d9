// Package export wraps exported report documents in signed attestation
// tokens so the external rendering collaborator can verify what it received
// came from this deployment unmodified.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"custodia/internal/crypto/kms"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

// attestationTTL bounds how long an exported document stays presentable.
const attestationTTL = 24 * time.Hour

// Claims binds a report document digest to this deployment.
type Claims struct {
	ReportID      string `json:"report_id"`
	ReportKind    string `json:"report_kind"`
	ContentSHA256 string `json:"content_sha256"`
	KeyID         string `json:"key_id"`
	jwt.RegisteredClaims
}

// KeySource is the slice of the KMS the attestor depends on.
type KeySource interface {
	ActiveMaterial(ctx context.Context, purpose kms.Purpose) ([]byte, *kms.KeyInfo, error)
	Material(ctx context.Context, id string) ([]byte, *kms.KeyInfo, error)
}

// Attestation is an exported document plus its verification token.
type Attestation struct {
	Document json.RawMessage `json:"document"`
	Token    string          `json:"token"`
}

// Attestor signs exported report documents under the KMS attestation key.
type Attestor struct {
	keys   KeySource
	issuer string
}

func NewAttestor(keys KeySource, issuer string) *Attestor {
	return &Attestor{keys: keys, issuer: issuer}
}

// Attest serializes the document and wraps it with an HS256 token over its
// digest. The token carries the signing key ID so verification survives key
// rotation.
func (a *Attestor) Attest(ctx context.Context, reportID, reportKind string, document any) (*Attestation, error) {
	payload, err := json.Marshal(document)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to serialize report document")
	}

	material, info, err := a.keys.ActiveMaterial(ctx, kms.PurposeAttestation)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(payload)
	now := requestcontext.Now(ctx).UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ReportID:      reportID,
		ReportKind:    reportKind,
		ContentSHA256: hex.EncodeToString(digest[:]),
		KeyID:         info.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   reportID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(attestationTTL)),
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(material)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign attestation token")
	}
	return &Attestation{Document: payload, Token: signed}, nil
}

// Verify checks an attestation token and confirms the document digest
// matches what was signed.
func (a *Attestor) Verify(ctx context.Context, att *Attestation) (*Claims, error) {
	if att == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "attestation cannot be nil")
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(att.Token, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		unverified, ok := token.Claims.(*Claims)
		if !ok || unverified.KeyID == "" {
			return nil, jwt.ErrTokenUnverifiable
		}
		material, _, err := a.keys.Material(ctx, unverified.KeyID)
		if err != nil {
			return nil, err
		}
		return material, nil
	})
	if err != nil || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeAuthenticationFailure, "attestation token is not valid")
	}

	digest := sha256.Sum256(att.Document)
	if hex.EncodeToString(digest[:]) != claims.ContentSHA256 {
		return nil, dErrors.New(dErrors.CodeAuthenticationFailure, "document does not match its attestation")
	}
	return &claims, nil
}
