// Package webhook implements outbound event notifications: registration,
// an SSRF guard on registered targets, HMAC-signed delivery, and best-effort
// asynchronous dispatch.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.etcd.io/bbolt"

	apperrors "github.com/allisson/sirrvault/internal/errors"
)

// Event names fired by the vault store.
const (
	EventSecretCreated = "secret.created"
	EventSecretRead    = "secret.read"
	EventSecretSealed  = "secret.sealed"
	EventSecretBurned  = "secret.burned"
	EventSecretDeleted = "secret.deleted"
	EventSecretPruned  = "secret.pruned"
)

// MaxRegistrations caps how many webhooks a single instance may register.
const MaxRegistrations = 10

var bucketWebhooks = []byte("webhooks")

// Registration is a persisted webhook subscription.
type Registration struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret"`
	Events    []string  `json:"events"`
	CreatedAt time.Time `json:"created_at"`
}

// wantsEvent reports whether this registration subscribes to event.
func (r *Registration) wantsEvent(event string) bool {
	for _, e := range r.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Registry persists webhook registrations in their own bbolt bucket inside
// an already-open database, and fires deliveries asynchronously.
type Registry struct {
	db             *bbolt.DB
	logger         *slog.Logger
	httpClient     *retryablehttp.Client
	allowedOrigins map[string]struct{}
}

// Open creates the webhooks bucket (if absent) in db and returns a Registry.
// allowedOrigins, when non-empty, restricts registration to URLs whose
// scheme://host[:port] origin is present in the set.
func Open(db *bbolt.DB, logger *slog.Logger, allowedOrigins []string) (*Registry, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketWebhooks)
		return err
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "create webhooks bucket")
	}

	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 2
	client.HTTPClient.Timeout = 5 * time.Second

	return &Registry{
		db:             db,
		logger:         logger,
		httpClient:     client,
		allowedOrigins: origins,
	}, nil
}

// Register validates target, generates a signing secret, and persists a new
// Registration. It enforces MaxRegistrations and the SSRF guard.
func (r *Registry) Register(target string, events []string) (*Registration, error) {
	if err := guardURL(target, r.allowedOrigins); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "events must not be empty")
	}

	reg := &Registration{
		URL:       target,
		Events:    events,
		CreatedAt: time.Now().UTC(),
	}

	err := r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWebhooks)
		if bucket.Stats().KeyN >= MaxRegistrations {
			return apperrors.Wrapf(apperrors.ErrQuotaExceeded, "at most %d webhook registrations allowed", MaxRegistrations)
		}

		id, err := randomID()
		if err != nil {
			return apperrors.Wrap(err, "generate webhook id")
		}
		secret, err := randomSecret()
		if err != nil {
			return apperrors.Wrap(err, "generate webhook secret")
		}
		reg.ID = id
		reg.Secret = secret

		encoded, err := json.Marshal(reg)
		if err != nil {
			return apperrors.Wrap(err, "marshal webhook registration")
		}
		return bucket.Put([]byte(reg.ID), encoded)
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// List returns all registrations, secrets included (the management surface
// is bearer-gated, same as every other mutating endpoint).
func (r *Registry) List() ([]*Registration, error) {
	var out []*Registration
	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWebhooks)
		return bucket.ForEach(func(_, value []byte) error {
			var reg Registration
			if err := json.Unmarshal(value, &reg); err != nil {
				return apperrors.Wrap(err, "unmarshal webhook registration")
			}
			out = append(out, &reg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a registration by id. It is idempotent: deleting an absent
// id is not an error.
func (r *Registry) Delete(id string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWebhooks).Delete([]byte(id))
	})
}

// Fire asynchronously delivers event/payload to every registration
// subscribed to it. Delivery never blocks the caller and never surfaces an
// error to it; failures are logged only.
func (r *Registry) Fire(event string, payload any) {
	regs, err := r.List()
	if err != nil {
		r.logger.Error("webhook list failed during fire", "event", event, "error", err)
		return
	}
	if len(regs) == 0 {
		return
	}

	body, err := json.Marshal(struct {
		Event     string    `json:"event"`
		Timestamp time.Time `json:"timestamp"`
		Data      any       `json:"data"`
	}{Event: event, Timestamp: time.Now().UTC(), Data: payload})
	if err != nil {
		r.logger.Error("webhook payload marshal failed", "event", event, "error", err)
		return
	}

	for _, reg := range regs {
		if !reg.wantsEvent(event) {
			continue
		}
		go r.deliver(reg, event, body)
	}
}

// deliveryGuard re-runs the SSRF guard at delivery time, since DNS can
// change between registration and delivery. Overridable in tests.
var deliveryGuard = guardURL

func (r *Registry) deliver(reg *Registration, event string, body []byte) {
	if err := deliveryGuard(reg.URL, r.allowedOrigins); err != nil {
		r.logger.Warn("webhook delivery blocked by SSRF guard", "webhook_id", reg.ID, "error", err)
		return
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, reg.URL, bytes.NewReader(body))
	if err != nil {
		r.logger.Error("webhook request build failed", "webhook_id", reg.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sirrvault-Signature", "sha256="+sign(reg.Secret, body))
	req.Header.Set("X-Sirrvault-Event", event)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn("webhook delivery failed", "webhook_id", reg.ID, "event", event, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		r.logger.Warn("webhook delivery rejected", "webhook_id", reg.ID, "event", event, "status", resp.StatusCode)
	}
}

// sign computes the hex-encoded HMAC-SHA256 of body using secret.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func randomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "wh_" + hex.EncodeToString(b), nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}

// guardURL enforces the SSRF policy: https only, no loopback/private/
// link-local/unique-local target address, and — when allowedOrigins is
// non-empty — the URL's origin must be a member.
func guardURL(raw string, allowedOrigins map[string]struct{}) error {
	u, err := url.Parse(raw)
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "invalid webhook url: %v", err)
	}
	if u.Scheme != "https" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "webhook url must use https")
	}
	host := u.Hostname()
	if host == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "webhook url must have a host")
	}

	if len(allowedOrigins) > 0 {
		origin := u.Scheme + "://" + u.Host
		if _, ok := allowedOrigins[origin]; !ok {
			return apperrors.Wrapf(apperrors.ErrInvalidInput, "webhook origin %s not in allowlist", origin)
		}
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "cannot resolve webhook host: %v", err)
	}
	for _, ip := range ips {
		if isBlockedIP(ip) {
			return apperrors.Wrapf(apperrors.ErrInvalidInput, "webhook host %s resolves to disallowed address %s", host, ip)
		}
	}
	return nil
}

func isBlockedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	// IPv6 unique-local (fc00::/7) is covered by net.IP.IsPrivate in Go
	// 1.17+; the explicit check below guards against older semantics.
	if ip4 := ip.To4(); ip4 == nil {
		if strings.HasPrefix(fmt.Sprintf("%02x", ip[0]), "fc") || strings.HasPrefix(fmt.Sprintf("%02x", ip[0]), "fd") {
			return true
		}
	}
	return false
}
