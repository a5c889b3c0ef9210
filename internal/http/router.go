package http

import (
	"verify-backend/internal/handlers"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(
	otpHandler *handlers.OTPHandler,
	webhookHandler *handlers.PaymentWebhookHandler,
	healthHandler *handlers.HealthHandler,
) *mux.Router {
	r := mux.NewRouter()

	// OTP challenge endpoints (browser-facing, CORS handled upstream)
	r.HandleFunc("/otp/request", otpHandler.RequestOTP).Methods("POST")
	r.HandleFunc("/otp/verify", otpHandler.VerifyOTP).Methods("POST")

	// Inbound payment callback (authenticated by shared HMAC verifier)
	r.HandleFunc("/webhooks/payment", webhookHandler.HandleWebhook).Methods("POST")

	// Operational endpoints
	r.HandleFunc("/health", healthHandler.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}
