// Package engine performs classification-aware authenticated encryption,
// deterministic search hashing, and integrity signing for the compliance
// core. All operations are stateless and safe to parallelize; key material is
// fetched per call from the KMS and never retained.
package engine

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/domain"

	"custodia/internal/crypto/kms"
)

// KeySource is the slice of the KMS the engine depends on.
type KeySource interface {
	ActiveMaterial(ctx context.Context, purpose kms.Purpose) ([]byte, *kms.KeyInfo, error)
	Material(ctx context.Context, id string) ([]byte, *kms.KeyInfo, error)
}

// Engine is the encryption engine. The search salt is fixed per deployment so
// equality lookups over encrypted columns stay stable across restarts.
type Engine struct {
	keys       KeySource
	searchSalt []byte
}

func New(keys KeySource, searchSalt string) (*Engine, error) {
	if searchSalt == "" {
		return nil, dErrors.New(dErrors.CodeInternal, "search hash salt is not configured")
	}
	return &Engine{keys: keys, searchSalt: []byte(searchSalt)}, nil
}

// Encrypt seals plaintext under the active key for the classification's
// purpose, binding the context label as authenticated data.
func (e *Engine) Encrypt(ctx context.Context, plaintext []byte, c domain.Classification, label string) (*Envelope, error) {
	if label == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "encryption context cannot be empty")
	}
	if _, err := domain.ParseClassification(string(c)); err != nil {
		return nil, err
	}

	material, info, err := e.keys.ActiveMaterial(ctx, kms.PurposeFor(c))
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(material)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate nonce")
	}

	return &Envelope{
		Ciphertext:     gcm.Seal(nil, nonce, plaintext, []byte(label)),
		Nonce:          nonce,
		KeyID:          info.ID,
		Classification: c,
		Algorithm:      AlgorithmAESGCM,
		Context:        label,
	}, nil
}

// Decrypt opens an envelope. It fails closed with no partial output when the
// context differs from encryption time, when tag verification fails, or when
// the referenced key cannot be retrieved.
func (e *Engine) Decrypt(ctx context.Context, env *Envelope, label string) ([]byte, error) {
	if env == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "envelope cannot be nil")
	}
	if env.Algorithm != AlgorithmAESGCM {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unsupported algorithm %q", env.Algorithm)
	}
	if label != env.Context {
		// Reject before touching the KMS: a context mismatch can never
		// decrypt, and refusing early keeps the failure mode uniform.
		return nil, dErrors.New(dErrors.CodeAuthenticationFailure, "encryption context mismatch")
	}

	material, _, err := e.keys.Material(ctx, env.KeyID)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(material)
	if err != nil {
		return nil, err
	}

	// gcm.Open panics on a wrong-length nonce, so malformed envelopes are
	// rejected before it runs.
	if len(env.Nonce) != gcm.NonceSize() || len(env.Ciphertext) == 0 {
		return nil, dErrors.New(dErrors.CodeAuthenticationFailure, "malformed envelope")
	}

	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, []byte(label))
	if err != nil {
		return nil, dErrors.New(dErrors.CodeAuthenticationFailure, "ciphertext authentication failed")
	}
	return plaintext, nil
}

// HashForSearch derives a deterministic, non-reversible digest of a value for
// equality lookups over encrypted columns. Identical input under the same
// salt always yields identical output.
func (e *Engine) HashForSearch(value string) string {
	mac := hmac.New(sha256.New, e.searchSalt)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign produces a keyed signature over payload under the active integrity
// key. Any single-bit mutation of the payload invalidates the signature.
func (e *Engine) Sign(ctx context.Context, payload []byte) (*Signature, error) {
	material, info, err := e.keys.ActiveMaterial(ctx, kms.PurposeIntegrity)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, material)
	mac.Write(payload)
	return &Signature{KeyID: info.ID, MAC: mac.Sum(nil)}, nil
}

// VerifyIntegrity checks a signature against payload. Signatures made under
// retired integrity keys remain verifiable via the key ID they carry.
func (e *Engine) VerifyIntegrity(ctx context.Context, payload []byte, sig *Signature) error {
	if sig == nil || len(sig.MAC) == 0 {
		return dErrors.New(dErrors.CodeAuthenticationFailure, "missing integrity signature")
	}
	material, _, err := e.keys.Material(ctx, sig.KeyID)
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, material)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), sig.MAC) {
		return dErrors.New(dErrors.CodeAuthenticationFailure, "integrity signature mismatch")
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "cipher init failed")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "gcm init failed")
	}
	return gcm, nil
}
