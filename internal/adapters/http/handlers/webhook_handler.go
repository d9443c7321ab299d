// Package handlers - provider webhook handler.
package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/payflowhq/payflow/internal/adapters/http/common"
	"github.com/payflowhq/payflow/internal/application/dtos"
	domainerrors "github.com/payflowhq/payflow/internal/domain/errors"
)

// Webhook signature headers. The signature is HMAC-SHA256 over
// "<timestamp>.<raw body>" keyed with the per-provider secret, hex encoded.
const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"

	// Notifications older than this are rejected to stop replays.
	signatureMaxAge = 5 * time.Minute

	maxWebhookBody = 1 << 20 // 1 MiB
)

// providerNotification is the JSON body a provider posts after settling a
// transaction asynchronously.
type providerNotification struct {
	TransactionID string                 `json:"transactionId" binding:"required,uuid"`
	Status        string                 `json:"status" binding:"required"`
	Reference     string                 `json:"reference"`
	Reason        string                 `json:"reason"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// WebhookHandler verifies and applies provider notifications.
type WebhookHandler struct {
	secrets      map[string]string
	updateStatus UpdateTransactionStatusUseCase
	logger       *slog.Logger
	now          func() time.Time
}

// NewWebhookHandler creates a WebhookHandler. secrets maps the provider
// name from the URL to its shared HMAC secret; providers without a secret
// are rejected.
func NewWebhookHandler(
	secrets map[string]string,
	updateStatus UpdateTransactionStatusUseCase,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		secrets:      secrets,
		updateStatus: updateStatus,
		logger:       logger.With(slog.String("component", "webhook_handler")),
		now:          time.Now,
	}
}

// HandleProviderWebhook receives an asynchronous provider notification.
//
// @Summary Provider webhook
// @Description Receive a signed settlement notification from a payment provider and apply the reported outcome
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Provider name"
// @Param X-Webhook-Signature header string true "Hex HMAC-SHA256 of '<timestamp>.<body>'"
// @Param X-Webhook-Timestamp header string true "Unix timestamp the signature was produced at"
// @Success 200 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Failure 401 {object} common.APIResponse "Signature verification failed"
// @Failure 404 {object} common.APIResponse "Unknown provider or transaction"
// @Router /webhooks/{provider} [post]
func (h *WebhookHandler) HandleProviderWebhook(c *gin.Context) {
	provider := c.Param("provider")

	secret, ok := h.secrets[provider]
	if !ok || secret == "" {
		common.NotFoundResponse(c, "Webhook provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		common.BadRequestResponse(c, "Failed to read request body")
		return
	}

	if err := h.verifySignature(c, secret, body); err != nil {
		h.logger.Warn("webhook signature rejected",
			slog.String("provider", provider),
			slog.String("reason", err.Error()),
		)
		common.UnauthorizedResponse(c, "Webhook signature verification failed")
		return
	}

	var notification providerNotification
	if err := binding.JSON.BindBody(body, &notification); err != nil {
		HandleValidationErrors(c, err)
		return
	}

	status, ok := normalizeProviderStatus(notification.Status)
	if !ok {
		common.ValidationErrorResponse(c, []common.FieldError{
			{Field: "status", Message: "Unrecognized provider status", Code: "transaction_status"},
		})
		return
	}

	cmd := dtos.UpdateTransactionStatusCommand{
		TransactionID: notification.TransactionID,
		Status:        status,
		Metadata:      notificationMetadata(provider, notification),
	}

	result, err := h.updateStatus.Execute(c.Request.Context(), cmd)
	if err != nil {
		// Providers redeliver until they see 2xx. A transition the state
		// machine rejects means the outcome is already recorded, so the
		// redelivery is acknowledged without applying it.
		if domainerrors.KindOf(err) == domainerrors.KindConflict {
			h.logger.Info("webhook redelivery acknowledged without effect",
				slog.String("provider", provider),
				slog.String("transaction_id", notification.TransactionID),
				slog.String("status", status),
			)
			common.Success(c, http.StatusOK, gin.H{
				"received": true,
				"applied":  false,
			})
			return
		}
		common.HandleDomainError(c, err)
		return
	}

	h.logger.Info("webhook notification applied",
		slog.String("provider", provider),
		slog.String("transaction_id", notification.TransactionID),
		slog.String("status", status),
	)

	common.Success(c, http.StatusOK, gin.H{
		"received":    true,
		"applied":     true,
		"transaction": result,
	})
}

// verifySignature checks the HMAC signature and timestamp freshness.
func (h *WebhookHandler) verifySignature(c *gin.Context, secret string, body []byte) error {
	signature := c.GetHeader(SignatureHeader)
	if signature == "" {
		return fmt.Errorf("missing %s header", SignatureHeader)
	}

	timestamp := c.GetHeader(TimestampHeader)
	if timestamp == "" {
		return fmt.Errorf("missing %s header", TimestampHeader)
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp format")
	}
	signedAt := time.Unix(unix, 0)
	age := h.now().Sub(signedAt)
	if age > signatureMaxAge || age < -signatureMaxAge {
		return fmt.Errorf("timestamp outside the accepted window (possible replay)")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// notificationMetadata folds the provider identity and references into the
// transaction metadata applied with the status change.
func notificationMetadata(provider string, n providerNotification) map[string]interface{} {
	metadata := make(map[string]interface{}, len(n.Metadata)+3)
	for k, v := range n.Metadata {
		metadata[k] = v
	}
	metadata["webhookProvider"] = provider
	if n.Reference != "" {
		metadata["providerReference"] = n.Reference
	}
	if n.Reason != "" {
		metadata["providerReason"] = n.Reason
	}
	return metadata
}

// normalizeProviderStatus translates common provider outcome names into the
// transaction status vocabulary. Statuses already in our vocabulary pass
// through untouched.
func normalizeProviderStatus(status string) (string, bool) {
	switch strings.ToUpper(status) {
	case "COMPLETED", "SUCCEEDED", "SUCCESS", "SETTLED":
		return "COMPLETED", true
	case "FAILED", "DECLINED", "FAILURE":
		return "FAILED", true
	case "ROLLED_BACK", "REVERSED", "VOIDED":
		return "ROLLED_BACK", true
	default:
		return "", false
	}
}
