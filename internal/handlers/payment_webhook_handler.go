package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"verify-backend/internal/models"
	"verify-backend/internal/signature"
	"verify-backend/pkg/utils"
)

// PaymentWebhookHandler authenticates inbound payment callbacks before the
// payment pipeline consumes them. It shares the HMAC verifier with every
// other callback consumer instead of rolling its own.
type PaymentWebhookHandler struct {
	secret string
}

func NewPaymentWebhookHandler(secret string) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{secret: secret}
}

// HandleWebhook verifies the payload signature and acknowledges
// POST /webhooks/payment
func (h *PaymentWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload models.PaymentWebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.Error(w, http.StatusBadRequest, "WEBHOOK_BAD_PAYLOAD", "Invalid request body")
		return
	}

	ok := signature.Verify(signature.Payload{
		Amount:        payload.Amount,
		Currency:      payload.Currency,
		CorrelationID: payload.CorrelationID,
		ProviderTxnID: payload.ProviderTxnID,
		Signature:     payload.Signature,
	}, h.secret)
	if !ok {
		log.Printf("[Webhook] rejected payment callback for txn %s: bad signature", payload.ProviderTxnID)
		utils.Error(w, http.StatusUnauthorized, "WEBHOOK_BAD_SIGNATURE", "invalid webhook signature")
		return
	}

	log.Printf("[Webhook] accepted payment callback: event=%s txn=%s", payload.Event, payload.ProviderTxnID)

	utils.JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "webhook accepted",
	})
}
