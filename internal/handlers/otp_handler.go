package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"verify-backend/internal/models"
	"verify-backend/internal/repositories"
	"verify-backend/internal/services"
	"verify-backend/pkg/utils"
)

// Stable machine-readable error codes for OTP endpoints.
const (
	CodeValidation      = "OTP_VALIDATION_ERROR"
	CodeBadChannel      = "OTP_BAD_CHANNEL"
	CodeRateLimit       = "OTP_RATE_LIMIT"
	CodeInvalidCode     = "OTP_INVALID_CODE"
	CodeInvalidState    = "OTP_INVALID_STATE"
	CodeExpired         = "OTP_EXPIRED"
	CodeMaxAttempts     = "OTP_MAX_ATTEMPTS"
	CodeMismatch        = "OTP_MISMATCH"
	CodeNotFound        = "OTP_NOT_FOUND"
	CodeTableMissing    = "OTP_TABLE_MISSING"
	CodePermissionError = "OTP_PERMISSION_ERROR"
	CodeInternal        = "INTERNAL_ERROR"
)

type OTPHandler struct {
	Service *services.ChallengeService
}

func NewOTPHandler(service *services.ChallengeService) *OTPHandler {
	return &OTPHandler{Service: service}
}

// RequestOTP issues a new challenge
// POST /otp/request
func (h *OTPHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req models.RequestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Error(w, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return
	}

	if req.Phone == "" {
		utils.Error(w, http.StatusBadRequest, CodeValidation, "phone is required")
		return
	}

	resp, err := h.Service.RequestChallenge(r.Context(), services.RequestParams{
		Phone:   req.Phone,
		Context: req.Context,
		Channel: req.Channel,
	})
	if err != nil {
		h.writeRequestError(w, err)
		return
	}

	utils.JSON(w, http.StatusOK, resp)
}

func (h *OTPHandler) writeRequestError(w http.ResponseWriter, err error) {
	var rateErr *services.RateLimitError
	if errors.As(err, &rateErr) {
		utils.JSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"success":             false,
			"error":               rateErr.Reason,
			"retry_after_seconds": rateErr.WaitSeconds,
			"code":                CodeRateLimit,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrInvalidChannel):
		utils.Error(w, http.StatusBadRequest, CodeBadChannel, err.Error())
	case errors.Is(err, services.ErrInvalidPhone):
		utils.Error(w, http.StatusBadRequest, CodeValidation, err.Error())
	default:
		h.writeInfrastructureError(w, err)
	}
}

// VerifyOTP checks a code against a challenge
// POST /otp/verify
func (h *OTPHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Error(w, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return
	}

	if req.ChallengeID == "" {
		utils.Error(w, http.StatusBadRequest, CodeValidation, "challengeId is required")
		return
	}

	resp, err := h.Service.VerifyChallenge(r.Context(), services.VerifyParams{
		ChallengeID: req.ChallengeID,
		Code:        req.Code,
		IPAddress:   clientIP(r),
		UserAgent:   r.Header.Get("User-Agent"),
	})
	if err != nil {
		h.writeVerifyError(w, err)
		return
	}

	utils.JSON(w, http.StatusOK, resp)
}

func (h *OTPHandler) writeVerifyError(w http.ResponseWriter, err error) {
	var mismatch *services.MismatchError
	if errors.As(err, &mismatch) {
		utils.JSON(w, http.StatusBadRequest, map[string]interface{}{
			"success":            false,
			"error":              "incorrect verification code",
			"attempts_remaining": mismatch.AttemptsRemaining,
			"code":               CodeMismatch,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrInvalidCode):
		utils.Error(w, http.StatusBadRequest, CodeInvalidCode, err.Error())
	case errors.Is(err, services.ErrInvalidState):
		utils.Error(w, http.StatusBadRequest, CodeInvalidState, err.Error())
	case errors.Is(err, services.ErrExpired):
		utils.Error(w, http.StatusBadRequest, CodeExpired, err.Error())
	case errors.Is(err, services.ErrMaxAttempts):
		utils.Error(w, http.StatusBadRequest, CodeMaxAttempts, err.Error())
	case errors.Is(err, repositories.ErrNotFound):
		utils.Error(w, http.StatusNotFound, CodeNotFound, "challenge not found")
	default:
		h.writeInfrastructureError(w, err)
	}
}

// writeInfrastructureError logs the full failure server-side and returns a
// generic message with a code operators can act on. Never leaks the
// plaintext code or hash.
func (h *OTPHandler) writeInfrastructureError(w http.ResponseWriter, err error) {
	log.Printf("[OTP] internal error: %v", err)

	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		switch storeErr.Kind {
		case repositories.StoreTableMissing:
			utils.Error(w, http.StatusInternalServerError, CodeTableMissing, "verification storage is not initialized")
			return
		case repositories.StorePermissionDenied:
			utils.Error(w, http.StatusInternalServerError, CodePermissionError, "verification storage denied access")
			return
		}
	}

	utils.Error(w, http.StatusInternalServerError, CodeInternal, "internal server error")
}

// clientIP prefers the forwarding header set by the edge proxy.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}
