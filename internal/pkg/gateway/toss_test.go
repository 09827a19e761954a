package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	c := &TossClient{WebhookSecret: "whsec_test"}
	payload := []byte(`{"eventId":"evt_1","status":"succeeded"}`)

	if !c.VerifyWebhookSignature(payload, signPayload("whsec_test", payload)) {
		t.Fatal("valid signature rejected")
	}
	if c.VerifyWebhookSignature(payload, signPayload("whsec_other", payload)) {
		t.Fatal("signature from wrong secret accepted")
	}
	if c.VerifyWebhookSignature([]byte(`{"tampered":true}`), signPayload("whsec_test", payload)) {
		t.Fatal("signature over different payload accepted")
	}
	if c.VerifyWebhookSignature(payload, "not-base64!!") {
		t.Fatal("malformed signature accepted")
	}
	if c.VerifyWebhookSignature(payload, "") {
		t.Fatal("empty signature accepted")
	}

	empty := &TossClient{}
	if empty.VerifyWebhookSignature(payload, signPayload("", payload)) {
		t.Fatal("verification without a configured secret must fail")
	}
}

func TestChargeSavedMethodDeclineClassification(t *testing.T) {
	cases := []struct {
		code string
		kind DeclineKind
	}{
		{"INVALID_STOPPED_CARD", HardDecline},
		{"NOT_REGISTERED_BILLING_KEY", HardDecline},
		{"INSUFFICIENT_FUNDS", SoftDecline},
		{"PROVIDER_ERROR", SoftDecline},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":"` + tc.code + `","message":"declined"}`))
			}))
			defer srv.Close()

			c := &TossClient{SecretKey: "sk_test", APIBaseURL: srv.URL, HTTPClient: srv.Client()}
			_, err := c.ChargeSavedMethod(context.Background(), "cust_1", "bill_1", 5000, "KRW", "test")

			var ce *ChargeError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ChargeError, got %v", err)
			}
			if ce.Kind != tc.kind {
				t.Fatalf("code %s classified as %s, want %s", tc.code, ce.Kind, tc.kind)
			}
			if ce.Code != tc.code {
				t.Fatalf("got code %s, want %s", ce.Code, tc.code)
			}
		})
	}
}

func TestChargeSavedMethodSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/v1/billing/bill_1" {
			t.Errorf("unexpected path %s", got)
		}
		if auth := r.Header.Get("Authorization"); auth == "" {
			t.Error("missing Authorization header")
		}
		_, _ = w.Write([]byte(`{"paymentKey":"pay_9","approvedAt":"2026-03-01T12:00:00Z","receipt":{"url":"https://r.example.com/9"}}`))
	}))
	defer srv.Close()

	c := &TossClient{SecretKey: "sk_test", APIBaseURL: srv.URL, HTTPClient: srv.Client()}
	res, err := c.ChargeSavedMethod(context.Background(), "cust_1", "bill_1", 5000, "KRW", "test")
	if err != nil {
		t.Fatalf("charge failed: %v", err)
	}
	if res.ProviderPaymentID != "pay_9" {
		t.Fatalf("got payment key %s", res.ProviderPaymentID)
	}
	if res.ReceiptURL != "https://r.example.com/9" {
		t.Fatalf("got receipt %s", res.ReceiptURL)
	}
	if res.PaidAt.IsZero() {
		t.Fatal("missing paid time")
	}
}

func TestChargeSavedMethodRequiresSecretKey(t *testing.T) {
	c := &TossClient{}
	if _, err := c.ChargeSavedMethod(context.Background(), "cust_1", "bill_1", 5000, "KRW", "test"); err == nil {
		t.Fatal("expected configuration error")
	}
}

func TestIssueRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/v1/payments/pay_9/cancel" {
			t.Errorf("unexpected path %s", got)
		}
		_, _ = w.Write([]byte(`{"transactionKey":"txn_1","canceledAt":"2026-03-01T13:00:00Z"}`))
	}))
	defer srv.Close()

	c := &TossClient{SecretKey: "sk_test", APIBaseURL: srv.URL, HTTPClient: srv.Client()}
	res, err := c.IssueRefund(context.Background(), "pay_9", 5000)
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if res.ProviderRefundID != "txn_1" {
		t.Fatalf("got refund id %s", res.ProviderRefundID)
	}
}
