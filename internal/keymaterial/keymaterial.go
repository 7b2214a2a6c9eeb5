// Package keymaterial loads and holds the 32-byte master key used by the
// vault's encryption layer. It is process-wide state, initialized once at
// startup and immutable thereafter.
package keymaterial

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/allisson/sirrvault/internal/errors"
)

// KeySize is the required length, in bytes, of the master key.
const KeySize = 32

const fileName = "master.key"

// Path returns the on-disk location of the master key file under dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, fileName)
}

// KeyMaterial holds the active 32-byte master key.
type KeyMaterial struct {
	key []byte
}

// Load resolves the master key using file/env precedence: a file named
// master.key under dataDir, then the MASTER_KEY hex environment value. If
// neither source exists, a new key is generated and written atomically to
// master.key. If both sources exist and disagree, or the file exists but is
// not exactly KeySize bytes, Load refuses to start.
func Load(dataDir, masterKeyHex string) (*KeyMaterial, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, apperrors.Wrap(err, "create data dir")
	}

	keyPath := filepath.Join(dataDir, fileName)

	fileKey, fileErr := readKeyFile(keyPath)
	if fileErr != nil {
		return nil, fileErr
	}

	var envKey []byte
	if masterKeyHex != "" {
		decoded, err := decodeHexKey(masterKeyHex)
		if err != nil {
			return nil, apperrors.Wrap(err, "decode MASTER_KEY")
		}
		envKey = decoded
	}

	switch {
	case fileKey != nil && envKey != nil:
		if !equal(fileKey, envKey) {
			Zero(fileKey)
			Zero(envKey)
			return nil, apperrors.New("master.key and MASTER_KEY are both set and disagree")
		}
		Zero(envKey)
		return &KeyMaterial{key: fileKey}, nil
	case fileKey != nil:
		return &KeyMaterial{key: fileKey}, nil
	case envKey != nil:
		return &KeyMaterial{key: envKey}, nil
	default:
		return generate(keyPath)
	}
}

func readKeyFile(keyPath string) ([]byte, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, "read master.key")
	}
	if len(data) != KeySize {
		return nil, apperrors.Wrapf(apperrors.New("corrupt key file"), "master.key must be exactly %d bytes, got %d", KeySize, len(data))
	}
	return data, nil
}

func decodeHexKey(hexKey string) ([]byte, error) {
	if len(hexKey) != KeySize*2 {
		return nil, fmt.Errorf("MASTER_KEY must be %d hex characters, got %d", KeySize*2, len(hexKey))
	}
	decoded, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("MASTER_KEY is not valid hex: %w", err)
	}
	return decoded, nil
}

// generate creates a new random key and writes it atomically (temp file +
// rename) with owner-only permissions.
func generate(keyPath string) (*KeyMaterial, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, apperrors.Wrap(err, "generate master key")
	}
	if err := writeAtomic(keyPath, key); err != nil {
		return nil, err
	}
	return &KeyMaterial{key: key}, nil
}

// GenerateNew creates a fresh random 32-byte key without writing it to disk,
// for a rotation workflow that defers installing it until the re-encrypted
// store is ready to be swapped into place.
func GenerateNew() (*KeyMaterial, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, apperrors.Wrap(err, "generate master key")
	}
	return &KeyMaterial{key: key}, nil
}

// WriteAtomic installs km as dataDir's master.key via temp file + rename, so
// a crash mid-write never leaves a truncated or partially-written key file.
func (km *KeyMaterial) WriteAtomic(dataDir string) error {
	return writeAtomic(Path(dataDir), km.key)
}

func writeAtomic(keyPath string, key []byte) error {
	dir := filepath.Dir(keyPath)
	tmp, err := os.CreateTemp(dir, fileName+".tmp-*")
	if err != nil {
		return apperrors.Wrap(err, "create temp key file")
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperrors.Wrap(err, "chmod temp key file")
	}
	if _, err := tmp.Write(key); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperrors.Wrap(err, "write temp key file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperrors.Wrap(err, "sync temp key file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperrors.Wrap(err, "close temp key file")
	}
	if err := os.Rename(tmpPath, keyPath); err != nil {
		os.Remove(tmpPath)
		return apperrors.Wrap(err, "rename temp key file into place")
	}

	return nil
}

// Bytes returns the raw 32-byte key. Callers must not retain or mutate the
// returned slice beyond the call that needs it.
func (k *KeyMaterial) Bytes() []byte {
	return k.key
}

// Close zeroes the key material in memory. Safe to call once at shutdown.
func (k *KeyMaterial) Close() {
	Zero(k.key)
}

// Zero overwrites a byte slice with zeros, used to scrub key material and
// decrypted plaintext scratch buffers once they are no longer needed.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
