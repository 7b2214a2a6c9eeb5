package store

import (
	"time"

	"go.etcd.io/bbolt"

	apperrors "github.com/allisson/sirrvault/internal/errors"
)

// Rotate re-encrypts every record from the database at oldPath (decrypted
// with oldCipher) into a freshly created database at newPath (encrypted with
// newCipher), preserving every field except ciphertext and nonce. It does
// not touch oldPath and does not install newPath as the live store; the
// caller is responsible for the rename-into-place once Rotate succeeds.
func Rotate(oldPath string, oldCipher Cipher, newPath string, newCipher Cipher) (rotated int, err error) {
	oldDB, err := bbolt.Open(oldPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second, ReadOnly: true})
	if err != nil {
		return 0, apperrors.Wrap(err, "open source store database")
	}
	defer oldDB.Close()

	newDB, err := bbolt.Open(newPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return 0, apperrors.Wrap(err, "create destination store database")
	}
	defer newDB.Close()

	err = newDB.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSecrets, bucketExpiry, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, apperrors.Wrap(err, "create destination buckets")
	}

	err = oldDB.View(func(oldTx *bbolt.Tx) error {
		secrets := oldTx.Bucket(bucketSecrets)
		if secrets == nil {
			return nil
		}

		return newDB.Update(func(newTx *bbolt.Tx) error {
			return secrets.ForEach(func(k, v []byte) error {
				rec, err := decodeRecord(string(k), v)
				if err != nil {
					return apperrors.Wrapf(err, "decode record %q", string(k))
				}

				plaintext, err := oldCipher.Decrypt(rec.Ciphertext, rec.Nonce)
				if err != nil {
					return apperrors.Wrapf(apperrors.ErrAuthFailure, "decrypt record %q during rotation", string(k))
				}

				ciphertext, nonce, err := newCipher.Encrypt(plaintext)
				if err != nil {
					return apperrors.Wrapf(err, "re-encrypt record %q", string(k))
				}
				rec.Ciphertext = ciphertext
				rec.Nonce = nonce

				if err := putRecord(newTx, rec); err != nil {
					return err
				}
				rotated++
				return nil
			})
		})
	})
	if err != nil {
		return 0, err
	}

	if err := copyMetaCount(oldDB, newDB); err != nil {
		return 0, err
	}

	if err := copyOtherBuckets(oldDB, newDB); err != nil {
		return 0, apperrors.Wrap(err, "copy non-secret buckets")
	}

	return rotated, nil
}

// copyOtherBuckets copies every top-level bucket in oldDB that Rotate didn't
// already handle verbatim into newDB. This is how webhook registrations
// (bucket "webhooks", owned by internal/webhook but opened against the same
// database file as the Store) survive rotation: they need no re-encryption,
// just to exist in the destination file before it's installed in place of
// the live store.db.
func copyOtherBuckets(oldDB, newDB *bbolt.DB) error {
	handled := map[string]bool{
		string(bucketSecrets): true,
		string(bucketExpiry):  true,
		string(bucketMeta):    true,
	}

	return oldDB.View(func(oldTx *bbolt.Tx) error {
		return oldTx.ForEach(func(name []byte, oldBucket *bbolt.Bucket) error {
			if handled[string(name)] {
				return nil
			}
			return newDB.Update(func(newTx *bbolt.Tx) error {
				newBucket, err := newTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return oldBucket.ForEach(func(k, v []byte) error {
					return newBucket.Put(append([]byte(nil), k...), append([]byte(nil), v...))
				})
			})
		})
	})
}

// copyMetaCount transfers the active-secret counter from old to new so
// admission accounting survives rotation.
func copyMetaCount(oldDB, newDB *bbolt.DB) error {
	var count int
	if err := oldDB.View(func(tx *bbolt.Tx) error {
		c, err := readCount(tx)
		count = c
		return err
	}); err != nil {
		return apperrors.Wrap(err, "read active count")
	}

	return newDB.Update(func(tx *bbolt.Tx) error {
		return writeCount(tx, count)
	})
}
