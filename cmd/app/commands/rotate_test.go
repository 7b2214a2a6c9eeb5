package commands

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/sirrvault/internal/config"
	"github.com/allisson/sirrvault/internal/crypto"
	"github.com/allisson/sirrvault/internal/keymaterial"
	"github.com/allisson/sirrvault/internal/license"
	"github.com/allisson/sirrvault/internal/vault/store"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedStore(t *testing.T, dataDir, masterKeyHex string) {
	t.Helper()

	km, err := keymaterial.Load(dataDir, masterKeyHex)
	require.NoError(t, err)
	cipher, err := crypto.New(km.Bytes())
	require.NoError(t, err)

	gate := license.New(license.Config{MaxFreeSecrets: 100})
	s, err := store.Open(filepath.Join(dataDir, "store.db"), cipher, gate)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(store.PutParams{Key: "A", Value: []byte("alpha")}))
	require.NoError(t, s.Put(store.PutParams{Key: "B", Value: []byte("bravo")}))
}

func TestRunRotateMasterKey_FileBasedKey(t *testing.T) {
	dataDir := t.TempDir()
	seedStore(t, dataDir, "")

	cfg := &config.Config{DataDir: dataDir}
	var out bytes.Buffer

	require.NoError(t, RunRotateMasterKey(cfg, newTestLogger(), &out))
	assert.Contains(t, out.String(), "Rotated 2 secret(s)")

	// The rotated store opens and reads correctly with the new master.key
	// that RunRotateMasterKey wrote atomically.
	km, err := keymaterial.Load(dataDir, "")
	require.NoError(t, err)
	cipher, err := crypto.New(km.Bytes())
	require.NoError(t, err)

	gate := license.New(license.Config{MaxFreeSecrets: 100})
	s, err := store.Open(filepath.Join(dataDir, "store.db"), cipher, gate)
	require.NoError(t, err)
	defer s.Close()

	result, err := s.Get("A")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(result.Value))
}

func TestRunRotateMasterKey_LeavesNoTempFileBehind(t *testing.T) {
	dataDir := t.TempDir()
	seedStore(t, dataDir, "")

	cfg := &config.Config{DataDir: dataDir}
	require.NoError(t, RunRotateMasterKey(cfg, newTestLogger(), io.Discard))

	_, err := os.Stat(filepath.Join(dataDir, "store.db.rotate-tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunRotateMasterKey_EnvBasedKeyPrintsNewValueInsteadOfWritingFile(t *testing.T) {
	dataDir := t.TempDir()
	masterKeyHex := "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	seedStore(t, dataDir, masterKeyHex)

	cfg := &config.Config{DataDir: dataDir, MasterKeyHex: masterKeyHex}
	var out bytes.Buffer

	require.NoError(t, RunRotateMasterKey(cfg, newTestLogger(), &out))
	assert.Contains(t, out.String(), "MASTER_KEY=")

	_, err := os.Stat(filepath.Join(dataDir, "master.key"))
	assert.True(t, os.IsNotExist(err))
}
