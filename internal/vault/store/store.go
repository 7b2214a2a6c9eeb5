// Package store provides transactional access to the embedded key/value
// database backing the vault: put/get/patch/delete/head/list/prune, the
// burn/seal state machine, and the active-secret admission count.
package store

import (
	"time"

	"go.etcd.io/bbolt"

	apperrors "github.com/allisson/sirrvault/internal/errors"
	"github.com/allisson/sirrvault/internal/vault/domain"
)

var (
	bucketSecrets = []byte("secrets")
	bucketExpiry  = []byte("secrets_by_expiry")
	bucketMeta    = []byte("meta")

	metaKeyCount = []byte("count")
)

// LicenseGate decides whether a new secret may be admitted given the number
// of currently active secrets. Implemented by internal/license.Gate; kept as
// an interface here so the store package does not depend on license
// validation details.
type LicenseGate interface {
	Check(currentActive int) error
}

// Cipher encrypts and decrypts secret values. Implemented by
// internal/crypto.Cipher.
type Cipher interface {
	Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error)
	Decrypt(ciphertext, nonce []byte) ([]byte, error)
}

// Clock returns the current wall-clock time in unix seconds. Overridable in
// tests; production code uses RealClock.
type Clock func() int64

// RealClock is the production Clock, backed by time.Now.
func RealClock() int64 { return time.Now().Unix() }

// Engine is the operation set the HTTP handler layer and the Sweeper depend
// on. Implemented by both *Store and *InstrumentedStore, so handlers don't
// care whether metrics are enabled.
type Engine interface {
	Put(p PutParams) error
	Get(key string) (GetResult, error)
	Patch(key string, newValue []byte) error
	Head(key string) (domain.Meta, error)
	List() ([]domain.Meta, error)
	Delete(key string) (bool, error)
	Prune() (int, error)
}

// Store is the embedded-bbolt-backed implementation of the vault's secret
// engine.
type Store struct {
	db      *bbolt.DB
	cipher  Cipher
	license LicenseGate
	clock   Clock
}

// Open opens (creating if necessary) the bbolt database at path and prepares
// its buckets.
func Open(path string, cipher Cipher, license LicenseGate) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, apperrors.Wrap(err, "open store database")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSecrets, bucketExpiry, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, "create buckets")
	}

	return &Store{db: db, cipher: cipher, license: license, clock: RealClock}, nil
}

// DB exposes the underlying bbolt handle so other components sharing the
// same database file (the webhook registry) can open their own buckets
// without a second file.
func (s *Store) DB() *bbolt.DB {
	return s.db
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutParams bundles put's optional fields.
type PutParams struct {
	Key       string
	Value     []byte
	TTLSeconds *int64
	MaxReads   *uint32
	Policy     domain.Policy
}

// Put inserts a new record. Fails with ErrAlreadyExists if key is present,
// ErrQuotaExceeded if the license gate rejects admission, and
// ErrInvalidInput if ttl_seconds or max_reads is zero. Existence, admission,
// and insertion all happen inside the same write transaction so concurrent
// puts cannot both pass the quota check.
func (s *Store) Put(p PutParams) error {
	if p.TTLSeconds != nil && *p.TTLSeconds == 0 {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "ttl_seconds must be greater than zero")
	}
	if p.MaxReads != nil && *p.MaxReads == 0 {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "max_reads must be greater than zero")
	}

	ciphertext, nonce, err := s.cipher.Encrypt(p.Value)
	if err != nil {
		return apperrors.Wrap(err, "encrypt value")
	}

	now := s.clock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		secrets := tx.Bucket(bucketSecrets)

		if secrets.Get([]byte(p.Key)) != nil {
			return apperrors.ErrAlreadyExists
		}

		count, err := readCount(tx)
		if err != nil {
			return err
		}
		if err := s.license.Check(count); err != nil {
			return err
		}

		rec := &domain.Record{
			Key:        p.Key,
			Ciphertext: ciphertext,
			Nonce:      nonce,
			CreatedAt:  now,
			MaxReads:   p.MaxReads,
			Policy:     p.Policy,
		}
		if p.TTLSeconds != nil {
			expiresAt := now + *p.TTLSeconds
			rec.ExpiresAt = &expiresAt
		}

		if err := s.insert(tx, rec); err != nil {
			return err
		}
		return writeCount(tx, count+1)
	})
}

// GetResult is the tagged outcome of Get.
type GetResult struct {
	Value  []byte
	Sealed bool
	Found  bool
	// Burned reports whether this read caused a Burn-policy record to be
	// permanently removed.
	Burned bool
	// SealedByThisRead reports whether this read caused a Seal-policy record
	// to transition from active to sealed, as opposed to the record already
	// having been sealed before this read.
	SealedByThisRead bool
}

// Get implements the read/burn/seal algorithm from the core spec: look up,
// evict if expired, return Sealed without mutation if exhausted-under-Seal,
// otherwise decrypt, increment read_count, and either burn or persist.
func (s *Store) Get(key string) (GetResult, error) {
	now := s.clock()
	var result GetResult

	err := s.db.Update(func(tx *bbolt.Tx) error {
		secrets := tx.Bucket(bucketSecrets)

		raw := secrets.Get([]byte(key))
		if raw == nil {
			return nil
		}
		// Copy out of the borrowed view before any mutation in this
		// transaction — bbolt invalidates the slice on the next write to
		// this bucket.
		owned := append([]byte(nil), raw...)

		rec, err := decodeRecord(key, owned)
		if err != nil {
			return err
		}

		if rec.IsExpired(now) {
			return s.evict(tx, rec)
		}

		if rec.IsSealed() {
			result.Sealed = true
			return nil
		}

		plaintext, err := s.cipher.Decrypt(rec.Ciphertext, rec.Nonce)
		if err != nil {
			return err
		}

		rec.ReadCount++

		if rec.Policy == domain.Burn && rec.IsBurned() {
			if err := s.remove(tx, rec.Key, rec.ExpiresAt); err != nil {
				return err
			}
			result.Burned = true
		} else {
			if err := s.put(tx, rec); err != nil {
				return err
			}
			if rec.Policy == domain.Seal && rec.IsSealed() {
				result.SealedByThisRead = true
			}
		}

		result.Found = true
		result.Value = plaintext
		return nil
	})
	if err != nil {
		return GetResult{}, err
	}
	if !result.Found && !result.Sealed {
		return GetResult{}, apperrors.ErrNotFound
	}
	return result, nil
}

// Patch replaces ciphertext and nonce on a Sealed record, leaving
// read_count, expires_at, max_reads, and created_at unchanged. Fails with
// ErrInvalidState if the record is not currently Sealed, and ErrNotFound if
// missing or expired.
func (s *Store) Patch(key string, newValue []byte) error {
	now := s.clock()

	ciphertext, nonce, err := s.cipher.Encrypt(newValue)
	if err != nil {
		return apperrors.Wrap(err, "encrypt value")
	}

	notFound := false

	err = s.db.Update(func(tx *bbolt.Tx) error {
		secrets := tx.Bucket(bucketSecrets)

		raw := secrets.Get([]byte(key))
		if raw == nil {
			notFound = true
			return nil
		}
		owned := append([]byte(nil), raw...)

		rec, err := decodeRecord(key, owned)
		if err != nil {
			return err
		}

		if rec.IsExpired(now) {
			notFound = true
			return s.evict(tx, rec)
		}

		if !rec.IsSealed() {
			return apperrors.ErrInvalidState
		}

		rec.Ciphertext = ciphertext
		rec.Nonce = nonce
		return s.put(tx, rec)
	})
	if err != nil {
		return err
	}
	if notFound {
		return apperrors.ErrNotFound
	}
	return nil
}

// Head returns metadata only, never mutating read_count. Expired records
// are evicted as a side effect and reported as not found.
func (s *Store) Head(key string) (domain.Meta, error) {
	now := s.clock()
	var meta domain.Meta
	found := false

	err := s.db.Update(func(tx *bbolt.Tx) error {
		secrets := tx.Bucket(bucketSecrets)

		raw := secrets.Get([]byte(key))
		if raw == nil {
			return nil
		}
		owned := append([]byte(nil), raw...)

		rec, err := decodeRecord(key, owned)
		if err != nil {
			return err
		}

		if rec.IsExpired(now) {
			return s.evict(tx, rec)
		}

		meta = rec.ToMeta()
		found = true
		return nil
	})
	if err != nil {
		return domain.Meta{}, err
	}
	if !found {
		return domain.Meta{}, apperrors.ErrNotFound
	}
	return meta, nil
}

// List returns metadata for every non-expired key, evicting any expired
// record it encounters during the scan.
func (s *Store) List() ([]domain.Meta, error) {
	now := s.clock()
	var metas []domain.Meta

	err := s.db.Update(func(tx *bbolt.Tx) error {
		secrets := tx.Bucket(bucketSecrets)

		var expired []*domain.Record
		cursor := secrets.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			key := string(k)
			owned := append([]byte(nil), v...)

			rec, err := decodeRecord(key, owned)
			if err != nil {
				return err
			}

			if rec.IsExpired(now) {
				expired = append(expired, rec)
				continue
			}
			metas = append(metas, rec.ToMeta())
		}

		for _, rec := range expired {
			if err := s.evict(tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return metas, nil
}

// Delete removes key unconditionally. Idempotent: deleting an absent key
// returns deleted=false rather than an error.
func (s *Store) Delete(key string) (deleted bool, err error) {
	err = s.db.Update(func(tx *bbolt.Tx) error {
		secrets := tx.Bucket(bucketSecrets)

		raw := secrets.Get([]byte(key))
		if raw == nil {
			return nil
		}
		owned := append([]byte(nil), raw...)

		rec, decErr := decodeRecord(key, owned)
		if decErr != nil {
			return decErr
		}

		if err := s.remove(tx, key, rec.ExpiresAt); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// Prune deletes every record whose expires_at has passed, using the
// secondary expiry index so the scan touches only expired entries instead
// of the full secrets bucket.
func (s *Store) Prune() (pruned int, err error) {
	now := s.clock()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		expiry := tx.Bucket(bucketExpiry)
		cursor := expiry.Cursor()

		var toRemove []string
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			expiresAt := decodeExpiryTimestamp(k)
			if expiresAt > now {
				break
			}
			toRemove = append(toRemove, string(v))
		}

		count, err := readCount(tx)
		if err != nil {
			return err
		}

		secrets := tx.Bucket(bucketSecrets)
		for _, key := range toRemove {
			raw := secrets.Get([]byte(key))
			if raw == nil {
				continue
			}
			owned := append([]byte(nil), raw...)
			rec, err := decodeRecord(key, owned)
			if err != nil {
				return err
			}
			if err := s.remove(tx, rec.Key, rec.ExpiresAt); err != nil {
				return err
			}
			count--
			pruned++
		}
		return writeCount(tx, count)
	})
	return pruned, err
}

// insert writes a brand-new record (no prior expiry index entry to remove)
// and adds it to the expiry index if it has a TTL.
func (s *Store) insert(tx *bbolt.Tx, rec *domain.Record) error {
	return putRecord(tx, rec)
}

// put writes rec's current state, replacing any existing record and expiry
// index entry. The caller is responsible for the active-secret counter.
func (s *Store) put(tx *bbolt.Tx, rec *domain.Record) error {
	return putRecord(tx, rec)
}

// putRecord writes rec's current state, replacing any existing record and
// expiry index entry. It takes no Store receiver so Rotate can reuse it
// against a destination database that isn't wrapped in a Store yet.
func putRecord(tx *bbolt.Tx, rec *domain.Record) error {
	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	secrets := tx.Bucket(bucketSecrets)
	if err := secrets.Put([]byte(rec.Key), encoded); err != nil {
		return apperrors.Wrap(err, "write record")
	}

	if rec.ExpiresAt != nil {
		expiry := tx.Bucket(bucketExpiry)
		if err := expiry.Put(expiryIndexKey(*rec.ExpiresAt, rec.Key), []byte(rec.Key)); err != nil {
			return apperrors.Wrap(err, "write expiry index")
		}
	}
	return nil
}

// remove deletes key from the secrets bucket and its expiry index entry (if
// any), decrementing the active-secret counter.
func (s *Store) remove(tx *bbolt.Tx, key string, expiresAt *int64) error {
	count, err := readCount(tx)
	if err != nil {
		return err
	}

	secrets := tx.Bucket(bucketSecrets)
	if err := secrets.Delete([]byte(key)); err != nil {
		return apperrors.Wrap(err, "delete record")
	}

	if expiresAt != nil {
		expiry := tx.Bucket(bucketExpiry)
		if err := expiry.Delete(expiryIndexKey(*expiresAt, key)); err != nil {
			return apperrors.Wrap(err, "delete expiry index entry")
		}
	}

	if count > 0 {
		count--
	}
	return writeCount(tx, count)
}

// evict removes an expired record encountered on a read path. Distinct from
// remove only in naming: it documents that the deletion was triggered by
// expiry, not by explicit request.
func (s *Store) evict(tx *bbolt.Tx, rec *domain.Record) error {
	return s.remove(tx, rec.Key, rec.ExpiresAt)
}

func readCount(tx *bbolt.Tx) (int, error) {
	meta := tx.Bucket(bucketMeta)
	raw := meta.Get(metaKeyCount)
	if raw == nil {
		return 0, nil
	}
	return int(decodeExpiryTimestamp(raw)), nil
}

func writeCount(tx *bbolt.Tx, count int) error {
	meta := tx.Bucket(bucketMeta)
	buf := make([]byte, 8)
	putUint64(buf, uint64(count))
	if err := meta.Put(metaKeyCount, buf); err != nil {
		return apperrors.Wrap(err, "write active count")
	}
	return nil
}
