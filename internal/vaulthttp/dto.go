// Package vaulthttp provides the gin HTTP handlers for the vault's secret
// and webhook management surface.
package vaulthttp

import (
	"encoding/base64"

	validation "github.com/jellydator/validation"

	"github.com/allisson/sirrvault/internal/vault/domain"
)

// maxValueBytes is the largest plaintext secret value accepted, matching the
// original implementation's 1 MiB ceiling. maxEncodedValueLen is the longest
// base64 string that can decode to maxValueBytes or fewer bytes; it is a cheap
// pre-check, and valueSizeRule enforces the decoded size exactly.
const maxValueBytes = 1 << 20

var maxEncodedValueLen = base64.StdEncoding.EncodedLen(maxValueBytes)

// createSecretRequest is the body of POST /secrets.
type createSecretRequest struct {
	Key        string  `json:"key" binding:"required"`
	Value      string  `json:"value" binding:"required"`
	TTLSeconds *int64  `json:"ttl_seconds,omitempty"`
	MaxReads   *uint32 `json:"max_reads,omitempty"`
	Policy     string  `json:"policy,omitempty"`
}

func (r *createSecretRequest) Validate() error {
	if err := validation.ValidateStruct(r,
		validation.Field(&r.Key, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.Value, validation.Required, validation.Length(0, maxEncodedValueLen), base64Rule, valueSizeRule),
		validation.Field(&r.Policy, validation.By(validPolicy)),
	); err != nil {
		return err
	}
	if r.TTLSeconds != nil && *r.TTLSeconds <= 0 {
		return validation.NewError("validation_ttl_seconds", "ttl_seconds must be greater than zero")
	}
	if r.MaxReads != nil && *r.MaxReads == 0 {
		return validation.NewError("validation_max_reads", "max_reads must be greater than zero")
	}
	return nil
}

// decodedValue decodes the request's base64 value field.
func (r *createSecretRequest) decodedValue() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.Value)
}

// policy resolves the request's policy field, defaulting to Burn.
func (r *createSecretRequest) policy() domain.Policy {
	p, _ := domain.ParsePolicy(r.Policy)
	return p
}

// patchSecretRequest is the body of PATCH /secrets/{key}.
type patchSecretRequest struct {
	Value string `json:"value" binding:"required"`
}

func (r *patchSecretRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Value, validation.Required, validation.Length(0, maxEncodedValueLen), base64Rule, valueSizeRule),
	)
}

func (r *patchSecretRequest) decodedValue() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.Value)
}

var base64Rule = validation.By(func(value any) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_base64_type", "must be a string")
	}
	if _, err := base64.StdEncoding.DecodeString(s); err != nil {
		return validation.NewError("validation_base64", "must be valid base64-encoded data")
	}
	return nil
})

// valueSizeRule rejects base64 values that decode to more than maxValueBytes.
var valueSizeRule = validation.By(func(value any) error {
	s, _ := value.(string)
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err == nil && len(decoded) > maxValueBytes {
		return validation.NewError("validation_value_size", "value must decode to at most 1 MiB")
	}
	return nil
})

func validPolicy(value any) error {
	s, _ := value.(string)
	if _, ok := domain.ParsePolicy(s); !ok {
		return validation.NewError("validation_policy", "policy must be \"burn\" or \"seal\"")
	}
	return nil
}

// createSecretResponse is the body of a successful POST /secrets.
type createSecretResponse struct {
	Key string `json:"key"`
}

// getSecretResponse is the body of a successful GET /secrets/{key}.
type getSecretResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// patchSecretResponse is the body of a successful PATCH /secrets/{key}.
type patchSecretResponse struct {
	Patched bool `json:"patched"`
}

// deleteSecretResponse is the body of DELETE /secrets/{key}.
type deleteSecretResponse struct {
	Deleted bool `json:"deleted"`
}

// listSecretsResponse is the body of GET /secrets.
type listSecretsResponse struct {
	Secrets []domain.Meta `json:"secrets"`
}

// pruneResponse is the body of POST /prune.
type pruneResponse struct {
	Pruned int `json:"pruned"`
}

// registerWebhookRequest is the body of POST /webhooks.
type registerWebhookRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

func (r *registerWebhookRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.URL, validation.Required),
		validation.Field(&r.Events, validation.Required, validation.Length(1, 0)),
	)
}

type webhookResponse struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Secret    string   `json:"secret,omitempty"`
	Events    []string `json:"events"`
	CreatedAt string   `json:"created_at"`
}
