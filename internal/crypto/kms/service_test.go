package kms

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

func testRootSecret(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 32)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(buf)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(testRootSecret(t), NewMemoryStore(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return svc
}

func TestNew_RequiresRootSecret(t *testing.T) {
	t.Run("missing secret is fatal", func(t *testing.T) {
		_, err := New("", NewMemoryStore(), slog.New(slog.DiscardHandler))
		require.Error(t, err)
	})

	t.Run("short secret is fatal", func(t *testing.T) {
		short := base64.StdEncoding.EncodeToString([]byte("too short"))
		_, err := New(short, NewMemoryStore(), slog.New(slog.DiscardHandler))
		require.Error(t, err)
	})

	t.Run("non-base64 secret is fatal", func(t *testing.T) {
		_, err := New("not base64 !!!", NewMemoryStore(), slog.New(slog.DiscardHandler))
		require.Error(t, err)
	})
}

func TestGenerateKey_IdempotentPerPurpose(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.GenerateKey(ctx, PurposeDataSensitive)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, first.Status)

	second, err := svc.GenerateKey(ctx, PurposeDataSensitive)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "repeat generation must return the existing active key")
}

func TestGenerateKey_ConcurrentCallsYieldOneActiveKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			info, err := svc.GenerateKey(ctx, PurposeDataCJI)
			if err == nil {
				ids[i] = info.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, ids[0], ids[i], "all callers must observe the same active key")
	}
}

func TestMaterial(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	info, err := svc.ActiveKey(ctx, PurposeIntegrity)
	require.NoError(t, err)

	t.Run("returns 32 bytes for a known key", func(t *testing.T) {
		material, meta, err := svc.Material(ctx, info.ID)
		require.NoError(t, err)
		assert.Len(t, material, 32)
		assert.Equal(t, info.ID, meta.ID)
	})

	t.Run("unknown key is NotFound", func(t *testing.T) {
		_, _, err := svc.Material(ctx, "key-does-not-exist")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("revoked key is NotFound", func(t *testing.T) {
		require.NoError(t, svc.Revoke(ctx, info.ID))
		_, _, err := svc.Material(ctx, info.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestRotate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	before, err := svc.ActiveKey(ctx, PurposeDataPublic)
	require.NoError(t, err)

	beforeMaterial, _, err := svc.Material(ctx, before.ID)
	require.NoError(t, err)

	after, err := svc.Rotate(ctx, PurposeDataPublic)
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, after.ID)

	t.Run("new encryptions use the new key", func(t *testing.T) {
		active, err := svc.ActiveKey(ctx, PurposeDataPublic)
		require.NoError(t, err)
		assert.Equal(t, after.ID, active.ID)
	})

	t.Run("retired key still yields material", func(t *testing.T) {
		material, meta, err := svc.Material(ctx, before.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusRetired, meta.Status)
		assert.Equal(t, beforeMaterial, material, "retired key material must be stable for legacy decryption")
	})

	t.Run("materials differ across rotation", func(t *testing.T) {
		afterMaterial, _, err := svc.Material(ctx, after.ID)
		require.NoError(t, err)
		assert.NotEqual(t, beforeMaterial, afterMaterial)
	})
}

func TestListKeys(t *testing.T) {
	svc := newTestService(t)

	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	first, err := svc.GenerateKey(requestcontext.WithTime(context.Background(), t0), PurposeDataCJI)
	require.NoError(t, err)
	second, err := svc.Rotate(requestcontext.WithTime(context.Background(), t0.Add(time.Hour)), PurposeDataCJI)
	require.NoError(t, err)

	// Another purpose must not leak into the listing.
	_, err = svc.GenerateKey(context.Background(), PurposeIntegrity)
	require.NoError(t, err)

	keys, err := svc.ListKeys(context.Background(), PurposeDataCJI)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	assert.Equal(t, second.ID, keys[0].ID, "newest first")
	assert.Equal(t, StatusActive, keys[0].Status)
	assert.Equal(t, first.ID, keys[1].ID)
	assert.Equal(t, StatusRetired, keys[1].Status)
	for _, k := range keys {
		assert.Equal(t, PurposeDataCJI, k.Purpose)
	}
}

func TestParsePurpose(t *testing.T) {
	got, err := ParsePurpose("data-cji")
	require.NoError(t, err)
	assert.Equal(t, PurposeDataCJI, got)

	_, err = ParsePurpose("signing")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestPurposeFor(t *testing.T) {
	assert.Equal(t, PurposeDataCJI, PurposeFor("cji"))
	assert.Equal(t, PurposeDataSensitive, PurposeFor("sensitive"))
	assert.Equal(t, PurposeDataPublic, PurposeFor("public"))
}
