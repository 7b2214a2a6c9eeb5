// Package domain holds the in-memory representation of a stored secret and
// the state-machine predicates the Store consults on every operation.
package domain

// Policy distinguishes what happens to a Record once its read budget is
// exhausted.
type Policy int

const (
	// Burn destroys the record once max_reads is reached.
	Burn Policy = iota
	// Seal blocks further reads once max_reads is reached but preserves the
	// record, allowing its value to be replaced via patch.
	Seal
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	switch p {
	case Burn:
		return "burn"
	case Seal:
		return "seal"
	default:
		return "unknown"
	}
}

// ParsePolicy parses the wire representation of a Policy. An empty string
// defaults to Burn, matching the HTTP API's optional "policy" field.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "", "burn":
		return Burn, true
	case "seal":
		return Seal, true
	default:
		return Burn, false
	}
}

// Record is the single persisted entity: a key's ciphertext, nonce,
// timestamps, counters, and policy.
type Record struct {
	Key        string
	Ciphertext []byte
	Nonce      []byte
	CreatedAt  int64
	ExpiresAt  *int64
	MaxReads   *uint32
	ReadCount  uint32
	Policy     Policy
}

// IsExpired reports whether the record's TTL has passed as of now (unix
// seconds). Expiry is independent of read-count exhaustion.
func (r *Record) IsExpired(now int64) bool {
	return r.ExpiresAt != nil && *r.ExpiresAt <= now
}

// IsBurned reports whether a Burn-policy record has exhausted its reads.
// Burned records are removed from the store, so this predicate only matters
// transiently while a transaction decides whether to delete.
func (r *Record) IsBurned() bool {
	return r.Policy == Burn && r.exhausted()
}

// IsSealed reports whether a Seal-policy record has exhausted its reads and
// therefore blocks further reads while remaining present.
func (r *Record) IsSealed() bool {
	return r.Policy == Seal && r.exhausted()
}

func (r *Record) exhausted() bool {
	return r.MaxReads != nil && r.ReadCount >= *r.MaxReads
}

// ReadsRemaining returns the number of reads left, or nil when max_reads is
// unset (unlimited).
func (r *Record) ReadsRemaining() *uint32 {
	if r.MaxReads == nil {
		return nil
	}
	remaining := uint32(0)
	if *r.MaxReads > r.ReadCount {
		remaining = *r.MaxReads - r.ReadCount
	}
	return &remaining
}

// Meta is the metadata-only projection of a Record returned by head and
// list: no ciphertext, no nonce.
type Meta struct {
	Key       string `json:"key"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
	MaxReads  *uint32 `json:"max_reads,omitempty"`
	ReadCount uint32 `json:"read_count"`
	Policy    string `json:"policy"`
	Sealed    bool   `json:"sealed"`
}

// ToMeta projects a Record into its metadata-only representation.
func (r *Record) ToMeta() Meta {
	return Meta{
		Key:       r.Key,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		MaxReads:  r.MaxReads,
		ReadCount: r.ReadCount,
		Policy:    r.Policy.String(),
		Sealed:    r.IsSealed(),
	}
}
