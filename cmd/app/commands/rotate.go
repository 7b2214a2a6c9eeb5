package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/allisson/sirrvault/internal/config"
	"github.com/allisson/sirrvault/internal/crypto"
	"github.com/allisson/sirrvault/internal/keymaterial"
	"github.com/allisson/sirrvault/internal/vault/store"
)

// RunRotateMasterKey re-encrypts every secret under a freshly generated
// master key and installs the result in place of the live store. It never
// mutates the live store.db or master.key until the full re-encryption pass
// has succeeded: a new store file is built alongside the original, then
// swapped in with a single rename.
func RunRotateMasterKey(cfg *config.Config, logger *slog.Logger, writer io.Writer) error {
	oldKey, err := keymaterial.Load(cfg.DataDir, cfg.MasterKeyHex)
	if err != nil {
		return fmt.Errorf("failed to load existing master key: %w", err)
	}
	defer oldKey.Close()

	oldCipher, err := crypto.New(oldKey.Bytes())
	if err != nil {
		return fmt.Errorf("failed to initialize cipher for existing master key: %w", err)
	}

	newKey, err := keymaterial.GenerateNew()
	if err != nil {
		return fmt.Errorf("failed to generate new master key: %w", err)
	}
	defer newKey.Close()

	newCipher, err := crypto.New(newKey.Bytes())
	if err != nil {
		return fmt.Errorf("failed to initialize cipher for new master key: %w", err)
	}

	storePath := filepath.Join(cfg.DataDir, "store.db")
	tmpPath := storePath + ".rotate-tmp"
	defer os.Remove(tmpPath)

	logger.Info("rotating master key", slog.String("store", storePath))

	rotated, err := store.Rotate(storePath, oldCipher, tmpPath, newCipher)
	if err != nil {
		return fmt.Errorf("failed to re-encrypt store under new master key: %w", err)
	}

	if err := os.Rename(tmpPath, storePath); err != nil {
		return fmt.Errorf("failed to install rotated store (rotated data preserved at %s): %w", tmpPath, err)
	}

	if cfg.MasterKeyHex != "" {
		_, _ = fmt.Fprintln(writer, "# MASTER_KEY was supplied via environment, not master.key.")
		_, _ = fmt.Fprintln(writer, "# Set this as the new MASTER_KEY before the next restart:")
		_, _ = fmt.Fprintf(writer, "MASTER_KEY=%s\n", hex.EncodeToString(newKey.Bytes()))
	} else if err := newKey.WriteAtomic(cfg.DataDir); err != nil {
		return fmt.Errorf(
			"store rotated successfully but failed to write new master.key (store is now unreadable with the old key): %w",
			err,
		)
	}

	logger.Info("master key rotation complete", slog.Int("records_rotated", rotated))
	_, _ = fmt.Fprintf(writer, "Rotated %d secret(s) to a new master key.\n", rotated)

	return nil
}
