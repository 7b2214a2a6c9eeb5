package store

import (
	"crypto/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/allisson/sirrvault/internal/crypto"
	apperrors "github.com/allisson/sirrvault/internal/errors"
	"github.com/allisson/sirrvault/internal/vault/domain"
)

type allowAllGate struct{}

func (allowAllGate) Check(int) error { return nil }

type maxGate struct{ max int }

func (g maxGate) Check(current int) error {
	if current >= g.max {
		return apperrors.ErrQuotaExceeded
	}
	return nil
}

func newTestStore(t *testing.T, gate LicenseGate) (*Store, *fakeClock) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	cipher, err := crypto.New(key)
	require.NoError(t, err)

	if gate == nil {
		gate = allowAllGate{}
	}

	s, err := Open(filepath.Join(t.TempDir(), "store.db"), cipher, gate)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := &fakeClock{now: 1_000_000}
	s.clock = clock.Now
	return s, clock
}

type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(seconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += seconds
}

func ttl(seconds int64) *int64 { return &seconds }
func reads(n uint32) *uint32   { return &n }

func TestStore_PutGet_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t, nil)

	err := s.Put(PutParams{Key: "A", Value: []byte("hello"), MaxReads: reads(1), Policy: domain.Burn})
	require.NoError(t, err)

	result, err := s.Get("A")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), result.Value)
}

func TestStore_Put_AlreadyExists(t *testing.T) {
	s, _ := newTestStore(t, nil)

	require.NoError(t, s.Put(PutParams{Key: "A", Value: []byte("v")}))
	err := s.Put(PutParams{Key: "A", Value: []byte("v2")})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

func TestStore_Put_ZeroTTLOrMaxReadsIsInvalid(t *testing.T) {
	s, _ := newTestStore(t, nil)

	err := s.Put(PutParams{Key: "A", Value: []byte("v"), TTLSeconds: ttl(0)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	err = s.Put(PutParams{Key: "B", Value: []byte("v"), MaxReads: reads(0)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestStore_BurnOnExhaustion(t *testing.T) {
	s, _ := newTestStore(t, nil)
	require.NoError(t, s.Put(PutParams{Key: "A", Value: []byte("v"), MaxReads: reads(2), Policy: domain.Burn}))

	result, err := s.Get("A")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), result.Value)
	assert.False(t, result.Burned, "first of two permitted reads must not burn")

	result, err = s.Get("A")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), result.Value)
	assert.True(t, result.Burned, "second and final read must burn")

	_, err = s.Get("A")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	metas, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestStore_SealOnExhaustion(t *testing.T) {
	s, _ := newTestStore(t, nil)
	require.NoError(t, s.Put(PutParams{Key: "B", Value: []byte("v1"), MaxReads: reads(2), Policy: domain.Seal}))

	result, err := s.Get("B")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), result.Value)
	assert.False(t, result.SealedByThisRead, "first of two permitted reads must not seal")

	result, err = s.Get("B")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), result.Value)
	assert.True(t, result.SealedByThisRead, "second and final read must transition active to sealed")

	result, err = s.Get("B")
	require.NoError(t, err)
	assert.True(t, result.Sealed)
	assert.False(t, result.SealedByThisRead, "a read against an already-sealed record is not a new transition")

	require.NoError(t, s.Patch("B", []byte("v2")))

	result, err = s.Get("B")
	require.NoError(t, err)
	assert.True(t, result.Sealed, "patch must not reset the read counter")

	meta, err := s.Head("B")
	require.NoError(t, err)
	assert.True(t, meta.Sealed)
}

func TestStore_Patch_RequiresSealedState(t *testing.T) {
	s, _ := newTestStore(t, nil)
	require.NoError(t, s.Put(PutParams{Key: "A", Value: []byte("v"), Policy: domain.Seal}))

	err := s.Patch("A", []byte("v2"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestStore_ExpiryPrecedence(t *testing.T) {
	s, clock := newTestStore(t, nil)
	require.NoError(t, s.Put(PutParams{Key: "C", Value: []byte("x"), TTLSeconds: ttl(1), Policy: domain.Burn}))

	clock.Advance(2)

	_, err := s.Get("C")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	metas, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t, nil)

	deleted, err := s.Delete("missing")
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, s.Put(PutParams{Key: "A", Value: []byte("v")}))
	deleted, err = s.Delete("A")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete("A")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStore_Prune(t *testing.T) {
	s, clock := newTestStore(t, nil)
	require.NoError(t, s.Put(PutParams{Key: "A", Value: []byte("v"), TTLSeconds: ttl(1)}))
	require.NoError(t, s.Put(PutParams{Key: "B", Value: []byte("v")}))

	clock.Advance(5)

	pruned, err := s.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	metas, err := s.List()
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "B", metas[0].Key)
}

func TestStore_QuotaAdmission(t *testing.T) {
	s, _ := newTestStore(t, maxGate{max: 2})

	require.NoError(t, s.Put(PutParams{Key: "A", Value: []byte("v")}))
	require.NoError(t, s.Put(PutParams{Key: "B", Value: []byte("v")}))

	err := s.Put(PutParams{Key: "C", Value: []byte("v")})
	assert.ErrorIs(t, err, apperrors.ErrQuotaExceeded)

	_, err = s.Delete("A")
	require.NoError(t, err)

	err = s.Put(PutParams{Key: "C", Value: []byte("v")})
	assert.NoError(t, err)
}

func TestStore_AuthFailureIsNotNotFound(t *testing.T) {
	s, _ := newTestStore(t, nil)
	require.NoError(t, s.Put(PutParams{Key: "A", Value: []byte("v")}))

	err := s.db.Update(func(tx *bbolt.Tx) error {
		secrets := tx.Bucket(bucketSecrets)
		raw := secrets.Get([]byte("A"))
		rec, err := decodeRecord("A", append([]byte(nil), raw...))
		if err != nil {
			return err
		}
		rec.Ciphertext[0] ^= 0xFF
		corrupted, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		return secrets.Put([]byte("A"), corrupted)
	})
	require.NoError(t, err)

	_, err = s.Get("A")
	assert.ErrorIs(t, err, apperrors.ErrAuthFailure)
}

func TestStore_HeadDoesNotMutateReadCount(t *testing.T) {
	s, _ := newTestStore(t, nil)
	require.NoError(t, s.Put(PutParams{Key: "A", Value: []byte("v"), MaxReads: reads(1), Policy: domain.Seal}))

	_, err := s.Head("A")
	require.NoError(t, err)

	result, err := s.Get("A")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), result.Value)
}
