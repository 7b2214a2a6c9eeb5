// Package license implements the vault's admission control: whether a new
// secret may be created given the current active count and the configured
// license.
package license

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	apperrors "github.com/allisson/sirrvault/internal/errors"
)

// DefaultMaxFreeSecrets is the admission ceiling applied when no valid
// license key is configured.
const DefaultMaxFreeSecrets = 100

var offlineKeyPattern = regexp.MustCompile(`^lic_[0-9a-f]{40}$`)

// Config holds LicenseGate's tunables.
type Config struct {
	MaxFreeSecrets int
	LicenseKey     string

	// ValidationURL, when set, enables online validation against an issuer
	// endpoint in addition to the offline checksum check.
	ValidationURL string
	// ValidationTTL is how long an online validation result is cached.
	ValidationTTL time.Duration
}

type cacheEntry struct {
	valid     bool
	expiresAt time.Time
}

// Gate decides whether a new secret may be admitted.
type Gate struct {
	maxFreeSecrets int
	licenseKey     string
	validationURL  string
	ttl            time.Duration
	httpClient     *retryablehttp.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New builds a Gate from Config, defaulting MaxFreeSecrets to
// DefaultMaxFreeSecrets and ValidationTTL to 5 minutes.
func New(cfg Config) *Gate {
	maxFree := cfg.MaxFreeSecrets
	if maxFree <= 0 {
		maxFree = DefaultMaxFreeSecrets
	}
	ttl := cfg.ValidationTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 2

	return &Gate{
		maxFreeSecrets: maxFree,
		licenseKey:     cfg.LicenseKey,
		validationURL:  cfg.ValidationURL,
		ttl:            ttl,
		httpClient:     client,
		cache:          make(map[string]cacheEntry),
	}
}

// Check permits admission if currentActive is below the free-tier ceiling,
// or if a valid license key is configured.
func (g *Gate) Check(currentActive int) error {
	if currentActive < g.maxFreeSecrets {
		return nil
	}
	if g.isLicensed() {
		return nil
	}
	return apperrors.ErrQuotaExceeded
}

func (g *Gate) isLicensed() bool {
	if g.licenseKey == "" {
		return false
	}
	if !offlineValid(g.licenseKey) {
		return false
	}
	if g.validationURL == "" {
		return true
	}
	return g.onlineValid()
}

// offlineValid checks the lic_<40-hex> pattern and a checksum embedded in
// its trailing two hex characters: sha256 of the leading 38 characters,
// truncated to one byte.
func offlineValid(key string) bool {
	if !offlineKeyPattern.MatchString(key) {
		return false
	}
	hexPart := key[len("lic_"):]
	payload, checksum := hexPart[:38], hexPart[38:]

	sum := sha256.Sum256([]byte(payload))
	expected := hex.EncodeToString(sum[:1])
	return checksum == expected
}

// GenerateOfflineKey builds a lic_<40-hex> key whose checksum
// offlineValid accepts, for tooling and tests.
func GenerateOfflineKey(payload38Hex string) string {
	sum := sha256.Sum256([]byte(payload38Hex))
	return "lic_" + payload38Hex + hex.EncodeToString(sum[:1])
}

// onlineValid consults the cached result of an online validation call,
// refreshing it against the issuer when the cache has expired. A transient
// issuer failure does not downgrade a previously-valid cached result; it is
// simply retained and the cache window is extended to avoid hammering the
// issuer.
func (g *Gate) onlineValid() bool {
	now := time.Now()

	g.mu.Lock()
	entry, ok := g.cache[g.licenseKey]
	g.mu.Unlock()

	if ok && now.Before(entry.expiresAt) {
		return entry.valid
	}

	valid, err := g.callIssuer()
	if err != nil {
		if ok {
			g.storeCache(entry.valid, now)
			return entry.valid
		}
		return false
	}

	g.storeCache(valid, now)
	return valid
}

func (g *Gate) storeCache(valid bool, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[g.licenseKey] = cacheEntry{valid: valid, expiresAt: now.Add(g.ttl)}
}

type validationRequest struct {
	LicenseKey string `json:"license_key"`
}

type validationResponse struct {
	Valid bool `json:"valid"`
}

func (g *Gate) callIssuer() (bool, error) {
	body, err := json.Marshal(validationRequest{LicenseKey: g.licenseKey})
	if err != nil {
		return false, apperrors.Wrap(err, "marshal validation request")
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, g.validationURL, bytes.NewReader(body))
	if err != nil {
		return false, apperrors.Wrap(err, "build validation request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false, apperrors.Wrap(err, "call license issuer")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, apperrors.Wrapf(apperrors.ErrInternal, "license issuer returned status %d", resp.StatusCode)
	}

	var parsed validationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, apperrors.Wrap(err, "decode validation response")
	}
	return parsed.Valid, nil
}
