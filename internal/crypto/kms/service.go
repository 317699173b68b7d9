// Package kms owns symmetric key material for the compliance core. Keys are
// tagged by purpose, wrapped at rest under purpose-specific wrapping keys
// derived from a single root secret, and rotated without losing the ability
// to decrypt legacy ciphertext.
package kms

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

const keySize = 32 // AES-256

// Service is the key management service. All key creation and rotation for a
// purpose is serialized through a per-purpose mutex so no two callers observe
// an inconsistent active-key view mid-rotation.
type Service struct {
	store  Store
	logger *slog.Logger
	root   []byte

	mu        sync.Mutex // guards purposeMu
	purposeMu map[Purpose]*sync.Mutex
}

// New builds the KMS from the base64-encoded root secret. It fails when the
// secret is missing or shorter than 32 bytes decoded; there is no degraded
// mode for key management.
func New(rootSecret string, store Store, logger *slog.Logger) (*Service, error) {
	if rootSecret == "" {
		return nil, dErrors.New(dErrors.CodeInternal, "kms root secret is not configured")
	}
	root, err := base64.StdEncoding.DecodeString(rootSecret)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "kms root secret is not valid base64")
	}
	if len(root) < keySize {
		return nil, dErrors.New(dErrors.CodeInternal, "kms root secret must decode to at least 32 bytes")
	}
	return &Service{
		store:     store,
		logger:    logger,
		root:      root,
		purposeMu: make(map[Purpose]*sync.Mutex),
	}, nil
}

// lockFor returns the mutex serializing key lifecycle changes for a purpose.
func (s *Service) lockFor(purpose Purpose) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.purposeMu[purpose]
	if !ok {
		m = &sync.Mutex{}
		s.purposeMu[purpose] = m
	}
	return m
}

// GenerateKey creates a new active key for a purpose and returns its metadata,
// never its material. When an active key already exists it is returned
// unchanged, which makes concurrent bootstrap calls safe.
func (s *Service) GenerateKey(ctx context.Context, purpose Purpose) (*KeyInfo, error) {
	mu := s.lockFor(purpose)
	mu.Lock()
	defer mu.Unlock()

	if existing, err := s.store.ActiveByPurpose(ctx, purpose); err == nil {
		return existing.info(), nil
	} else if !dErrors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "key store unavailable")
	}

	rec, err := s.createKey(ctx, purpose)
	if err != nil {
		return nil, err
	}
	return rec.info(), nil
}

// ActiveKey returns the metadata of the active key for a purpose, creating
// one on demand.
func (s *Service) ActiveKey(ctx context.Context, purpose Purpose) (*KeyInfo, error) {
	if rec, err := s.store.ActiveByPurpose(ctx, purpose); err == nil {
		return rec.info(), nil
	} else if !dErrors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "key store unavailable")
	}
	return s.GenerateKey(ctx, purpose)
}

// Material unwraps and returns key material for internal use by the
// encryption engine. Unknown and revoked identifiers fail with a NotFound
// error, distinct from store unavailability, so callers can tell "key gone"
// from "service down".
func (s *Service) Material(ctx context.Context, id string) ([]byte, *KeyInfo, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.Newf(dErrors.CodeNotFound, "key %s not found", id)
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "key store unavailable")
	}
	if rec.Status == StatusRevoked {
		return nil, nil, dErrors.Newf(dErrors.CodeNotFound, "key %s is revoked", id)
	}

	material, err := s.unwrap(rec)
	if err != nil {
		return nil, nil, err
	}
	return material, rec.info(), nil
}

// ActiveMaterial resolves the active key for a purpose and returns its
// unwrapped material together with its metadata, creating the key on demand.
func (s *Service) ActiveMaterial(ctx context.Context, purpose Purpose) ([]byte, *KeyInfo, error) {
	info, err := s.ActiveKey(ctx, purpose)
	if err != nil {
		return nil, nil, err
	}
	return s.Material(ctx, info.ID)
}

// Rotate retires the current active key for a purpose and generates a new
// active one. Ciphertext produced under the retired key stays decryptable via
// the key identifier stored in its envelope.
func (s *Service) Rotate(ctx context.Context, purpose Purpose) (*KeyInfo, error) {
	mu := s.lockFor(purpose)
	mu.Lock()
	defer mu.Unlock()

	now := requestcontext.Now(ctx)

	current, err := s.store.ActiveByPurpose(ctx, purpose)
	switch {
	case err == nil:
		if err := s.store.UpdateStatus(ctx, current.ID, StatusRetired, now); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to retire key")
		}
	case dErrors.Is(err, sentinel.ErrNotFound):
		// Nothing to retire; rotation of a fresh purpose just creates.
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "key store unavailable")
	}

	rec, err := s.createKey(ctx, purpose)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "key rotated",
		"purpose", purpose,
		"new_key_id", rec.ID,
	)
	return rec.info(), nil
}

// Revoke marks a key as revoked. Revoked keys cannot decrypt; this is the
// response to suspected compromise, not routine rotation.
func (s *Service) Revoke(ctx context.Context, id string) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "key %s not found", id)
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "key store unavailable")
	}

	mu := s.lockFor(rec.Purpose)
	mu.Lock()
	defer mu.Unlock()

	if err := s.store.UpdateStatus(ctx, id, StatusRevoked, requestcontext.Now(ctx)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to revoke key")
	}

	s.logger.WarnContext(ctx, "key revoked", "key_id", id, "purpose", rec.Purpose)
	return nil
}

// ListKeys returns the metadata of every key held for a purpose, newest
// first. Operators use this to audit rotation history; material never leaves
// the service.
func (s *Service) ListKeys(ctx context.Context, purpose Purpose) ([]KeyInfo, error) {
	recs, err := s.store.List(ctx, purpose)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "key store unavailable")
	}
	infos := make([]KeyInfo, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, *rec.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos, nil
}

// createKey generates, wraps, and persists a new active key. Callers hold the
// purpose mutex.
func (s *Service) createKey(ctx context.Context, purpose Purpose) (*record, error) {
	material := make([]byte, keySize)
	if _, err := rand.Read(material); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate key material")
	}

	rec := &record{
		ID:        "key-" + uuid.New().String(),
		Purpose:   purpose,
		Status:    StatusActive,
		CreatedAt: requestcontext.Now(ctx),
	}

	wrapped, nonce, err := s.wrap(rec.ID, purpose, material)
	if err != nil {
		return nil, err
	}
	rec.Wrapped = wrapped
	rec.Nonce = nonce

	if err := s.store.Save(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to persist key")
	}
	return rec, nil
}

// wrappingKey derives the per-purpose wrapping key from the root secret via
// HKDF-SHA256. The purpose acts as the info label so purposes never share
// wrapping keys.
func (s *Service) wrappingKey(purpose Purpose) ([]byte, error) {
	r := hkdf.New(sha256.New, s.root, nil, []byte("custodia/wrap/"+string(purpose)))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive wrapping key")
	}
	return key, nil
}

func (s *Service) wrap(id string, purpose Purpose, material []byte) (wrapped, nonce []byte, err error) {
	wk, err := s.wrappingKey(purpose)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := newGCM(wk)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate nonce")
	}
	// The key ID is bound as AAD so a wrapped blob cannot be replayed under
	// another key record.
	return gcm.Seal(nil, nonce, material, []byte(id)), nonce, nil
}

func (s *Service) unwrap(rec *record) ([]byte, error) {
	wk, err := s.wrappingKey(rec.Purpose)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(wk)
	if err != nil {
		return nil, err
	}
	material, err := gcm.Open(nil, rec.Nonce, rec.Wrapped, []byte(rec.ID))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeAuthenticationFailure, "key unwrap failed")
	}
	return material, nil
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
