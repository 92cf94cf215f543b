package videos

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/streamhive/backend/internal/provider"
	"github.com/streamhive/backend/pkg/response"
)

// WebhookHandler receives lifecycle webhooks from the video provider. Only a
// signature-verified payload reaches the reconciler.
type WebhookHandler struct {
	verifier   *provider.WebhookVerifier
	reconciler *Reconciler
	logger     *zap.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(verifier *provider.WebhookVerifier, reconciler *Reconciler, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{verifier: verifier, reconciler: reconciler, logger: logger}
}

// HandleEvent handles POST /webhooks/video. Responds 400 on missing/malformed
// signature headers or body, 401 on signature mismatch, 200 once the delivery
// was dispatched — including when individual events were unresolvable, so the
// provider does not retry the whole delivery pointlessly — and 500 only on
// unexpected processing failure.
func (h *WebhookHandler) HandleEvent(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "read body: "+err.Error())
		return
	}

	if err := h.verifier.Verify(c.GetHeader(provider.SignatureHeader), body); err != nil {
		switch {
		case errors.Is(err, provider.ErrSignatureMalformed):
			response.BadRequest(c, err.Error())
		case errors.Is(err, provider.ErrSecretUnconfigured):
			h.logger.Error("webhook rejected: secret not configured")
			response.Unauthorized(c, "webhook verification unavailable")
		default:
			h.logger.Warn("webhook signature rejected", zap.Error(err), zap.String("client_ip", c.ClientIP()))
			response.Unauthorized(c, "invalid signature")
		}
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		response.BadRequest(c, "invalid event body: "+err.Error())
		return
	}
	if env.Type == "" {
		response.BadRequest(c, "event type required")
		return
	}

	if err := h.reconciler.Apply(c.Request.Context(), env); err != nil {
		if IsEventError(err) {
			// Per-event failure: reported, acknowledged.
			h.logger.Warn("webhook event not reconciled", zap.String("type", env.Type), zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"received": true, "reconciled": false})
			return
		}
		h.logger.Error("webhook processing failed", zap.String("type", env.Type), zap.Error(err))
		response.Internal(c, "event processing failed")
		return
	}

	h.logger.Info("webhook event reconciled", zap.String("type", env.Type))
	c.JSON(http.StatusOK, gin.H{"received": true, "reconciled": true})
}
