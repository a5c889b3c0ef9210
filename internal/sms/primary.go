package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"verify-backend/internal/models"
)

// defaultBaseURL is the provider REST endpoint root.
const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// Config holds primary SMS provider credentials and sender identities.
type Config struct {
	AccountSID          string
	AuthToken           string
	MessagingServiceSID string
	SenderID            string // alphanumeric sender identity
	FromNumber          string // numeric sender
	ForceNumericSender  bool
	Timeout             time.Duration
	BaseURL             string // overridable for tests
}

// HTTPProvider sends messages through the provider's REST messaging API.
type HTTPProvider struct {
	cfg    Config
	client *http.Client
}

// NewHTTPProvider creates the primary SMS provider. Delivery calls are
// bounded by cfg.Timeout (15s when unset).
func NewHTTPProvider(cfg Config) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// IsConfigured reports whether credentials are present. Without them no
// network call is ever attempted.
func (p *HTTPProvider) IsConfigured() bool {
	return p.cfg.AccountSID != "" && p.cfg.AuthToken != ""
}

// Send delivers using the preferred sender identity. Precedence: forced
// numeric sender, then messaging-service pool, then alphanumeric sender,
// then plain sender number.
func (p *HTTPProvider) Send(ctx context.Context, to, body string) (*Result, error) {
	return p.send(ctx, to, body, p.cfg.ForceNumericSender)
}

// SendNumeric retries delivery with the numeric sender only. Used by the
// chain when the preferred identity was rejected.
func (p *HTTPProvider) SendNumeric(ctx context.Context, to, body string) (*Result, error) {
	return p.send(ctx, to, body, true)
}

// HasNumericSender reports whether a numeric retry tier is available.
func (p *HTTPProvider) HasNumericSender() bool {
	return p.cfg.FromNumber != ""
}

func (p *HTTPProvider) send(ctx context.Context, to, body string, numericOnly bool) (*Result, error) {
	if !p.IsConfigured() {
		return nil, &DeliveryError{
			Category: CategoryNotConfigured,
			Message:  "sms provider not configured",
		}
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("Body", body)

	switch {
	case numericOnly:
		if p.cfg.FromNumber == "" {
			return nil, &DeliveryError{
				Category: CategoryNotConfigured,
				Message:  "numeric sender not configured",
			}
		}
		form.Set("From", p.cfg.FromNumber)
	case p.cfg.MessagingServiceSID != "":
		form.Set("MessagingServiceSid", p.cfg.MessagingServiceSID)
	case p.cfg.SenderID != "":
		form.Set("From", p.cfg.SenderID)
	default:
		form.Set("From", p.cfg.FromNumber)
	}

	apiURL := fmt.Sprintf("%s/Accounts/%s/Messages.json", p.cfg.BaseURL, p.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &DeliveryError{
			Category: classifyTransport(err),
			Message:  "sms request failed",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(resp.Body)

	var apiResp struct {
		SID     string `json:"sid"`
		Status  string `json:"status"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	json.Unmarshal(payload, &apiResp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DeliveryError{
			Category: classifyAPIError(resp.StatusCode, apiResp.Code, apiResp.Message),
			Message:  fmt.Sprintf("SMS API error (status %d): %s", resp.StatusCode, apiResp.Message),
		}
	}

	return &Result{
		Provider: models.ProviderPrimarySMS,
		SID:      apiResp.SID,
		Status:   apiResp.Status,
	}, nil
}

func classifyTransport(err error) ErrorCategory {
	if errphrase := err.Error(); strings.Contains(errphrase, "context deadline exceeded") ||
		strings.Contains(strings.ToLower(errphrase), "timeout") {
		return CategoryTimeout
	}
	return CategoryUnknown
}

// Provider error codes for rejected sender identities: 21212 (invalid From),
// 21606 (From not reachable for this region), plus any message naming the
// alphanumeric sender.
func classifyAPIError(httpStatus, code int, message string) ErrorCategory {
	if httpStatus == http.StatusUnauthorized {
		return CategoryAuth
	}
	if code == 21212 || code == 21606 {
		return CategorySenderRejected
	}
	msg := strings.ToLower(message)
	if strings.Contains(msg, "alphanumeric") || strings.Contains(msg, "sender") || strings.Contains(msg, "from") {
		return CategorySenderRejected
	}
	if strings.Contains(msg, "authenticat") {
		return CategoryAuth
	}
	return CategoryUnknown
}
