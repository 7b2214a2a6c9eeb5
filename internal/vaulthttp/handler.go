package vaulthttp

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/allisson/sirrvault/internal/errors"
	"github.com/allisson/sirrvault/internal/httputil"
	"github.com/allisson/sirrvault/internal/vault/domain"
	"github.com/allisson/sirrvault/internal/vault/store"
	customValidation "github.com/allisson/sirrvault/internal/validation"
	"github.com/allisson/sirrvault/internal/webhook"
)

// SecretHandler handles the secret management HTTP surface.
type SecretHandler struct {
	engine  store.Engine
	webhook *webhook.Registry
	logger  *slog.Logger
}

// NewSecretHandler creates a SecretHandler. webhookRegistry may be nil, in
// which case event firing is a no-op.
func NewSecretHandler(engine store.Engine, webhookRegistry *webhook.Registry, logger *slog.Logger) *SecretHandler {
	return &SecretHandler{engine: engine, webhook: webhookRegistry, logger: logger}
}

func (h *SecretHandler) fire(event string, data any) {
	if h.webhook == nil {
		return
	}
	h.webhook.Fire(event, data)
}

// Create handles POST /secrets.
func (h *SecretHandler) Create(c *gin.Context) {
	var req createSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	value, err := req.decodedValue()
	if err != nil {
		httputil.HandleValidationErrorGin(c, fmt.Errorf("invalid base64 value: %w", err), h.logger)
		return
	}

	err = h.engine.Put(store.PutParams{
		Key:        req.Key,
		Value:      value,
		TTLSeconds: req.TTLSeconds,
		MaxReads:   req.MaxReads,
		Policy:     req.policy(),
	})
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	h.fire(webhook.EventSecretCreated, map[string]string{"key": req.Key})
	c.JSON(201, createSecretResponse{Key: req.Key})
}

// Get handles GET /secrets/{key}.
func (h *SecretHandler) Get(c *gin.Context) {
	key := c.Param("key")

	result, err := h.engine.Get(key)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrAuthFailure) {
			h.logger.Error("secret decryption failed", slog.String("key", key), slog.Any("error", err))
		}
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	if result.Sealed {
		c.JSON(410, httputil.ErrorResponse{Error: "sealed", Message: "secret is sealed"})
		return
	}

	h.fire(webhook.EventSecretRead, map[string]string{"key": key})
	if result.Burned {
		h.fire(webhook.EventSecretBurned, map[string]string{"key": key})
	}
	if result.SealedByThisRead {
		h.fire(webhook.EventSecretSealed, map[string]string{"key": key})
	}
	c.JSON(200, getSecretResponse{
		Key:   key,
		Value: base64.StdEncoding.EncodeToString(result.Value),
	})
}

// Patch handles PATCH /secrets/{key}.
func (h *SecretHandler) Patch(c *gin.Context) {
	key := c.Param("key")

	var req patchSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	value, err := req.decodedValue()
	if err != nil {
		httputil.HandleValidationErrorGin(c, fmt.Errorf("invalid base64 value: %w", err), h.logger)
		return
	}

	if err := h.engine.Patch(key, value); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(200, patchSecretResponse{Patched: true})
}

// Head handles HEAD /secrets/{key}, setting metadata headers instead of a
// body.
func (h *SecretHandler) Head(c *gin.Context) {
	key := c.Param("key")

	meta, err := h.engine.Head(key)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.Header("X-Vault-Read-Count", fmt.Sprintf("%d", meta.ReadCount))
	if meta.MaxReads == nil {
		c.Header("X-Vault-Reads-Remaining", "unlimited")
	} else {
		remaining := uint32(0)
		if *meta.MaxReads > meta.ReadCount {
			remaining = *meta.MaxReads - meta.ReadCount
		}
		c.Header("X-Vault-Reads-Remaining", fmt.Sprintf("%d", remaining))
	}
	c.Header("X-Vault-Policy", meta.Policy)
	c.Header("X-Vault-Created-At", fmt.Sprintf("%d", meta.CreatedAt))
	if meta.ExpiresAt != nil {
		c.Header("X-Vault-Expires-At", fmt.Sprintf("%d", *meta.ExpiresAt))
	}

	if meta.Sealed {
		c.Header("X-Vault-Status", "sealed")
		c.Status(410)
		return
	}
	c.Header("X-Vault-Status", "active")
	c.Status(200)
}

// List handles GET /secrets.
func (h *SecretHandler) List(c *gin.Context) {
	metas, err := h.engine.List()
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	if metas == nil {
		metas = []domain.Meta{}
	}
	c.JSON(200, listSecretsResponse{Secrets: metas})
}

// Delete handles DELETE /secrets/{key}.
func (h *SecretHandler) Delete(c *gin.Context) {
	key := c.Param("key")

	deleted, err := h.engine.Delete(key)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	if deleted {
		h.fire(webhook.EventSecretDeleted, map[string]string{"key": key})
	}
	c.JSON(200, deleteSecretResponse{Deleted: deleted})
}

// Prune handles POST /prune.
func (h *SecretHandler) Prune(c *gin.Context) {
	pruned, err := h.engine.Prune()
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	if pruned > 0 {
		h.fire(webhook.EventSecretPruned, map[string]int{"pruned": pruned})
	}
	c.JSON(200, pruneResponse{Pruned: pruned})
}

// Health handles GET /health.
func Health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

// WebhookHandler handles the webhook management HTTP surface.
type WebhookHandler struct {
	registry *webhook.Registry
	logger   *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(registry *webhook.Registry, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{registry: registry, logger: logger}
}

// Register handles POST /webhooks.
func (h *WebhookHandler) Register(c *gin.Context) {
	var req registerWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	reg, err := h.registry.Register(req.URL, req.Events)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(201, toWebhookResponse(reg, true))
}

// List handles GET /webhooks.
func (h *WebhookHandler) List(c *gin.Context) {
	regs, err := h.registry.List()
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	out := make([]webhookResponse, 0, len(regs))
	for _, reg := range regs {
		out = append(out, toWebhookResponse(reg, false))
	}
	c.JSON(200, gin.H{"webhooks": out})
}

// Delete handles DELETE /webhooks/{id}.
func (h *WebhookHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.registry.Delete(id); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	c.Status(204)
}

func toWebhookResponse(reg *webhook.Registration, includeSecret bool) webhookResponse {
	resp := webhookResponse{
		ID:        reg.ID,
		URL:       reg.URL,
		Events:    reg.Events,
		CreatedAt: reg.CreatedAt.Format(time.RFC3339),
	}
	if includeSecret {
		resp.Secret = reg.Secret
	}
	return resp
}
