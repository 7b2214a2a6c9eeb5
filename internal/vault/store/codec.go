package store

import (
	"encoding/binary"
	"encoding/json"

	apperrors "github.com/allisson/sirrvault/internal/errors"
	"github.com/allisson/sirrvault/internal/vault/domain"
)

// recordVersion1 is the only encoding version this build understands. A
// leading version byte lets a future release change the payload shape
// without breaking the ability to read records written by an older binary.
const recordVersion1 = byte(1)

type encodedRecordV1 struct {
	Ciphertext []byte  `json:"c"`
	Nonce      []byte  `json:"n"`
	CreatedAt  int64   `json:"ca"`
	ExpiresAt  *int64  `json:"ea,omitempty"`
	MaxReads   *uint32 `json:"mr,omitempty"`
	ReadCount  uint32  `json:"rc"`
	Policy     uint8   `json:"p"`
}

func encodeRecord(r *domain.Record) ([]byte, error) {
	body, err := json.Marshal(encodedRecordV1{
		Ciphertext: r.Ciphertext,
		Nonce:      r.Nonce,
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
		MaxReads:   r.MaxReads,
		ReadCount:  r.ReadCount,
		Policy:     uint8(r.Policy),
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "encode record")
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, recordVersion1)
	out = append(out, body...)
	return out, nil
}

func decodeRecord(key string, data []byte) (*domain.Record, error) {
	if len(data) < 1 {
		return nil, apperrors.New("empty record")
	}

	version := data[0]
	if version != recordVersion1 {
		return nil, apperrors.Wrapf(apperrors.ErrInternal, "unsupported record encoding version %d", version)
	}

	var enc encodedRecordV1
	if err := json.Unmarshal(data[1:], &enc); err != nil {
		return nil, apperrors.Wrap(err, "decode record")
	}

	return &domain.Record{
		Key:        key,
		Ciphertext: enc.Ciphertext,
		Nonce:      enc.Nonce,
		CreatedAt:  enc.CreatedAt,
		ExpiresAt:  enc.ExpiresAt,
		MaxReads:   enc.MaxReads,
		ReadCount:  enc.ReadCount,
		Policy:     domain.Policy(enc.Policy),
	}, nil
}

// expiryIndexKey builds the composite big-endian-timestamp-prefixed key used
// by the secrets_by_expiry bucket, so a forward cursor scan visits expired
// entries in expiry order without touching the primary bucket.
func expiryIndexKey(expiresAt int64, key string) []byte {
	out := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(out, uint64(expiresAt))
	copy(out[8:], key)
	return out
}

// decodeExpiryTimestamp reads the leading 8-byte big-endian integer from an
// expiry index key (or the active-count value, which shares the same
// encoding).
func decodeExpiryTimestamp(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b[:8]))
}

func putUint64(buf []byte, v uint64) {
	binary.BigEndian.PutUint64(buf, v)
}
