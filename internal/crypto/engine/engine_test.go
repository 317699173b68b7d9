package engine

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/crypto/kms"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

func newTestKMS(t *testing.T) *kms.Service {
	t.Helper()
	buf := make([]byte, 32)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	svc, err := kms.New(base64.StdEncoding.EncodeToString(buf), kms.NewMemoryStore(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return svc
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(newTestKMS(t), "test-search-salt")
	require.NoError(t, err)
	return eng
}

func TestNew_RequiresSearchSalt(t *testing.T) {
	_, err := New(newTestKMS(t), "")
	require.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	for _, c := range []domain.Classification{
		domain.ClassificationPublic,
		domain.ClassificationSensitive,
		domain.ClassificationCJI,
	} {
		t.Run(string(c), func(t *testing.T) {
			plaintext := []byte("subject record for " + string(c))

			env, err := eng.Encrypt(ctx, plaintext, c, "case-file")
			require.NoError(t, err)
			assert.Equal(t, AlgorithmAESGCM, env.Algorithm)
			assert.Equal(t, c, env.Classification)
			assert.NotEmpty(t, env.KeyID)
			assert.NotEqual(t, plaintext, env.Ciphertext)

			got, err := eng.Decrypt(ctx, env, "case-file")
			require.NoError(t, err)
			assert.Equal(t, plaintext, got)
		})
	}
}

func TestEncrypt_Validation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	t.Run("empty context label is rejected", func(t *testing.T) {
		_, err := eng.Encrypt(ctx, []byte("x"), domain.ClassificationPublic, "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("unknown classification is rejected", func(t *testing.T) {
		_, err := eng.Encrypt(ctx, []byte("x"), domain.Classification("top-secret"), "case-file")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestDecrypt_WrongContextFails(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	env, err := eng.Encrypt(ctx, []byte("bound to one use site"), domain.ClassificationSensitive, "case-file")
	require.NoError(t, err)

	_, err = eng.Decrypt(ctx, env, "audit-export")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAuthenticationFailure))
}

func TestDecrypt_TamperedCiphertextFails(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	env, err := eng.Encrypt(ctx, []byte("tamper target"), domain.ClassificationSensitive, "case-file")
	require.NoError(t, err)

	env.Ciphertext[0] ^= 0x01
	_, err = eng.Decrypt(ctx, env, "case-file")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAuthenticationFailure))
}

func TestDecrypt_MalformedEnvelopeFailsClosed(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	seal := func(t *testing.T) *Envelope {
		t.Helper()
		env, err := eng.Encrypt(ctx, []byte("malformed target"), domain.ClassificationSensitive, "case-file")
		require.NoError(t, err)
		return env
	}

	t.Run("truncated nonce", func(t *testing.T) {
		env := seal(t)
		env.Nonce = env.Nonce[:4]
		_, err := eng.Decrypt(ctx, env, "case-file")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAuthenticationFailure))
	})

	t.Run("missing nonce", func(t *testing.T) {
		env := seal(t)
		env.Nonce = nil
		_, err := eng.Decrypt(ctx, env, "case-file")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAuthenticationFailure))
	})

	t.Run("empty ciphertext", func(t *testing.T) {
		env := seal(t)
		env.Ciphertext = nil
		_, err := eng.Decrypt(ctx, env, "case-file")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAuthenticationFailure))
	})
}

func TestDecrypt_SurvivesRotation(t *testing.T) {
	kmsSvc := newTestKMS(t)
	eng, err := New(kmsSvc, "test-search-salt")
	require.NoError(t, err)
	ctx := context.Background()

	env, err := eng.Encrypt(ctx, []byte("sealed before rotation"), domain.ClassificationCJI, "case-file")
	require.NoError(t, err)

	_, err = kmsSvc.Rotate(ctx, kms.PurposeDataCJI)
	require.NoError(t, err)

	got, err := eng.Decrypt(ctx, env, "case-file")
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed before rotation"), got)

	fresh, err := eng.Encrypt(ctx, []byte("sealed after rotation"), domain.ClassificationCJI, "case-file")
	require.NoError(t, err)
	assert.NotEqual(t, env.KeyID, fresh.KeyID)
}

func TestHashForSearch(t *testing.T) {
	eng := newTestEngine(t)

	t.Run("deterministic for equal inputs", func(t *testing.T) {
		assert.Equal(t, eng.HashForSearch("j.doe@agency.gov"), eng.HashForSearch("j.doe@agency.gov"))
	})

	t.Run("distinct inputs diverge", func(t *testing.T) {
		assert.NotEqual(t, eng.HashForSearch("j.doe@agency.gov"), eng.HashForSearch("j.doe@agency.go"))
	})

	t.Run("salt separates deployments", func(t *testing.T) {
		other, err := New(newTestKMS(t), "another-salt")
		require.NoError(t, err)
		assert.NotEqual(t, eng.HashForSearch("j.doe@agency.gov"), other.HashForSearch("j.doe@agency.gov"))
	})
}

func TestSignVerify(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	payload := []byte(`{"event":"record.accessed"}`)

	sig, err := eng.Sign(ctx, payload)
	require.NoError(t, err)
	require.NotEmpty(t, sig.KeyID)

	t.Run("valid signature verifies", func(t *testing.T) {
		require.NoError(t, eng.VerifyIntegrity(ctx, payload, sig))
	})

	t.Run("single byte mutation is detected", func(t *testing.T) {
		mutated := append([]byte(nil), payload...)
		mutated[3] ^= 0x01
		err := eng.VerifyIntegrity(ctx, mutated, sig)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAuthenticationFailure))
	})
}

func TestVerifyIntegrity_SurvivesRotation(t *testing.T) {
	kmsSvc := newTestKMS(t)
	eng, err := New(kmsSvc, "test-search-salt")
	require.NoError(t, err)
	ctx := context.Background()
	payload := []byte("signed before rotation")

	sig, err := eng.Sign(ctx, payload)
	require.NoError(t, err)

	_, err = kmsSvc.Rotate(ctx, kms.PurposeIntegrity)
	require.NoError(t, err)

	require.NoError(t, eng.VerifyIntegrity(ctx, payload, sig))
}
