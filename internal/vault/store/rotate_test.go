package store

import (
	"crypto/rand"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/sirrvault/internal/crypto"
	apperrors "github.com/allisson/sirrvault/internal/errors"
	"github.com/allisson/sirrvault/internal/webhook"
)

func newTestCipher(t *testing.T) *crypto.Cipher {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	cipher, err := crypto.New(key)
	require.NoError(t, err)
	return cipher
}

func TestRotate_ReEncryptsAllRecordsUnderNewKey(t *testing.T) {
	oldCipher := newTestCipher(t)
	oldPath := filepath.Join(t.TempDir(), "store.db")

	s, err := Open(oldPath, oldCipher, allowAllGate{})
	require.NoError(t, err)
	require.NoError(t, s.Put(PutParams{Key: "A", Value: []byte("alpha")}))
	require.NoError(t, s.Put(PutParams{Key: "B", Value: []byte("bravo"), MaxReads: reads(3)}))
	require.NoError(t, s.Put(PutParams{Key: "C", Value: []byte("charlie"), TTLSeconds: ttl(3600)}))
	require.NoError(t, s.Close())

	newCipher := newTestCipher(t)
	newPath := filepath.Join(t.TempDir(), "store-rotated.db")

	rotated, err := Rotate(oldPath, oldCipher, newPath, newCipher)
	require.NoError(t, err)
	assert.Equal(t, 3, rotated)

	rotatedStore, err := Open(newPath, newCipher, allowAllGate{})
	require.NoError(t, err)
	defer rotatedStore.Close()

	for key, want := range map[string]string{"A": "alpha", "B": "bravo", "C": "charlie"} {
		result, err := rotatedStore.Get(key)
		require.NoError(t, err)
		assert.Equal(t, want, string(result.Value))
	}
}

func TestRotate_FailsOnWrongOldCipher(t *testing.T) {
	oldCipher := newTestCipher(t)
	oldPath := filepath.Join(t.TempDir(), "store.db")

	s, err := Open(oldPath, oldCipher, allowAllGate{})
	require.NoError(t, err)
	require.NoError(t, s.Put(PutParams{Key: "A", Value: []byte("alpha")}))
	require.NoError(t, s.Close())

	wrongCipher := newTestCipher(t)
	newPath := filepath.Join(t.TempDir(), "store-rotated.db")

	_, err = Rotate(oldPath, wrongCipher, newPath, newTestCipher(t))
	assert.Error(t, err)
}

func TestRotate_PreservesActiveCount(t *testing.T) {
	oldCipher := newTestCipher(t)
	oldPath := filepath.Join(t.TempDir(), "store.db")

	s, err := Open(oldPath, oldCipher, allowAllGate{})
	require.NoError(t, err)
	require.NoError(t, s.Put(PutParams{Key: "A", Value: []byte("alpha")}))
	require.NoError(t, s.Put(PutParams{Key: "B", Value: []byte("bravo")}))
	require.NoError(t, s.Close())

	newCipher := newTestCipher(t)
	newPath := filepath.Join(t.TempDir(), "store-rotated.db")

	_, err = Rotate(oldPath, oldCipher, newPath, newCipher)
	require.NoError(t, err)

	rotatedStore, err := Open(newPath, newCipher, maxGate{max: 2})
	require.NoError(t, err)
	defer rotatedStore.Close()

	err = rotatedStore.Put(PutParams{Key: "C", Value: []byte("charlie")})
	assert.ErrorIs(t, err, apperrors.ErrQuotaExceeded)
}

func TestRotate_PreservesWebhookRegistrations(t *testing.T) {
	oldCipher := newTestCipher(t)
	oldPath := filepath.Join(t.TempDir(), "store.db")

	s, err := Open(oldPath, oldCipher, allowAllGate{})
	require.NoError(t, err)
	require.NoError(t, s.Put(PutParams{Key: "A", Value: []byte("alpha")}))

	registry, err := webhook.Open(s.DB(), slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	require.NoError(t, err)
	reg, err := registry.Register("https://example.com/hook", []string{webhook.EventSecretCreated})
	require.NoError(t, err)

	require.NoError(t, s.Close())

	newCipher := newTestCipher(t)
	newPath := filepath.Join(t.TempDir(), "store-rotated.db")

	_, err = Rotate(oldPath, oldCipher, newPath, newCipher)
	require.NoError(t, err)

	rotatedStore, err := Open(newPath, newCipher, allowAllGate{})
	require.NoError(t, err)
	defer rotatedStore.Close()

	rotatedRegistry, err := webhook.Open(rotatedStore.DB(), slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	require.NoError(t, err)

	regs, err := rotatedRegistry.List()
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, reg.ID, regs[0].ID)
	assert.Equal(t, reg.URL, regs[0].URL)
	assert.Equal(t, reg.Secret, regs[0].Secret)
	assert.Equal(t, reg.Events, regs[0].Events)
}
