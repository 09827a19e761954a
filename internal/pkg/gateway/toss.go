package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hanflix/billing/app/models"
	"github.com/hanflix/billing/internal/pkg/env"
)

const defaultTossAPIBaseURL = "https://api.tosspayments.com"

// TossClient implements Gateway against the Toss Payments REST API.
type TossClient struct {
	SecretKey     string
	WebhookSecret string
	APIBaseURL    string

	HTTPClient *http.Client
}

func NewTossClientFromEnv() *TossClient {
	return &TossClient{
		SecretKey:     strings.TrimSpace(env.GetEnv("TOSS_SECRET_KEY", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("TOSS_WEBHOOK_SECRET", "")),
		APIBaseURL:    strings.TrimRight(env.GetEnv("TOSS_API_BASE_URL", defaultTossAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type tossErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Declines that point at the instrument itself; everything else is treated
// as retryable on a later run.
var tossHardDeclineCodes = map[string]struct{}{
	"INVALID_CARD_NUMBER":        {},
	"INVALID_STOPPED_CARD":       {},
	"INVALID_CARD_EXPIRATION":    {},
	"NOT_SUPPORTED_CARD_TYPE":    {},
	"EXCEED_MAX_PAYMENT_AMOUNT":  {},
	"REJECT_ACCOUNT_PAYMENT":     {},
	"INVALID_BILLING_KEY":        {},
	"NOT_REGISTERED_BILLING_KEY": {},
}

func (c *TossClient) CreateCheckoutSession(ctx context.Context, user *models.User, plan *models.Plan, successURL, cancelURL string) (*CheckoutSession, error) {
	if c.SecretKey == "" {
		return nil, errors.New("TOSS_SECRET_KEY is not configured")
	}

	reqBody := map[string]interface{}{
		"orderId":       uuid.New().String(),
		"orderName":     plan.Name,
		"amount":        plan.Price,
		"currency":      plan.Currency,
		"customerEmail": user.Email,
		"customerKey":   user.ProviderCustomerRef,
		"successUrl":    successURL,
		"failUrl":       cancelURL,
	}

	var out struct {
		SessionID   string `json:"sessionId"`
		CheckoutURL string `json:"checkoutUrl"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/v1/checkout/sessions", reqBody, &out); err != nil {
		return nil, err
	}
	return &CheckoutSession{SessionID: out.SessionID, RedirectURL: out.CheckoutURL}, nil
}

func (c *TossClient) ChargeSavedMethod(ctx context.Context, customerRef, methodRef string, amount int64, currency, description string) (*ChargeResult, error) {
	if c.SecretKey == "" {
		return nil, errors.New("TOSS_SECRET_KEY is not configured")
	}

	reqBody := map[string]interface{}{
		"customerKey": customerRef,
		"orderId":     uuid.New().String(),
		"orderName":   description,
		"amount":      amount,
		"currency":    currency,
	}

	var out struct {
		PaymentKey string    `json:"paymentKey"`
		ApprovedAt time.Time `json:"approvedAt"`
		Receipt    struct {
			URL string `json:"url"`
		} `json:"receipt"`
	}
	err := c.doRequest(ctx, http.MethodPost, "/v1/billing/"+methodRef, reqBody, &out)
	if err != nil {
		var te *tossAPIError
		if errors.As(err, &te) {
			kind := SoftDecline
			if _, ok := tossHardDeclineCodes[te.Code]; ok {
				kind = HardDecline
			}
			return nil, &ChargeError{Kind: kind, Code: te.Code, Message: te.Message}
		}
		return nil, err
	}

	paidAt := out.ApprovedAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}
	return &ChargeResult{ProviderPaymentID: out.PaymentKey, PaidAt: paidAt, ReceiptURL: out.Receipt.URL}, nil
}

func (c *TossClient) IssueRefund(ctx context.Context, providerPaymentID string, amount int64) (*RefundResult, error) {
	if c.SecretKey == "" {
		return nil, errors.New("TOSS_SECRET_KEY is not configured")
	}

	reqBody := map[string]interface{}{
		"cancelReason": "customer refund",
		"cancelAmount": amount,
	}

	var out struct {
		TransactionKey string    `json:"transactionKey"`
		CanceledAt     time.Time `json:"canceledAt"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/v1/payments/"+providerPaymentID+"/cancel", reqBody, &out); err != nil {
		return nil, err
	}

	refundedAt := out.CanceledAt
	if refundedAt.IsZero() {
		refundedAt = time.Now()
	}
	return &RefundResult{ProviderRefundID: out.TransactionKey, RefundedAt: refundedAt}, nil
}

// VerifyWebhookSignature checks the HMAC-SHA256 signature Toss sends in the
// webhook header (base64 over the raw body).
func (c *TossClient) VerifyWebhookSignature(payload []byte, signature string) bool {
	sig := strings.TrimSpace(signature)
	secret := strings.TrimSpace(c.WebhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decoded)
}

type tossAPIError struct {
	Status  int
	Code    string
	Message string
}

func (e *tossAPIError) Error() string {
	return fmt.Sprintf("toss api error %d (%s): %s", e.Status, e.Code, e.Message)
}

func (c *TossClient) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.SecretKey+":")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr tossErrorResponse
		if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Code == "" {
			return &tossAPIError{Status: resp.StatusCode, Code: "UNKNOWN", Message: strings.TrimSpace(string(raw))}
		}
		return &tossAPIError{Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode toss response: %w", err)
		}
	}
	return nil
}
