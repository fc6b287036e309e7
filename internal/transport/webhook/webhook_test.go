package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/reflex/internal/domain"
	"github.com/djlord-it/reflex/internal/metrics"
)

type recordingSink struct {
	mu      sync.Mutex
	classes []string
}

func (r *recordingSink) TransportRequestCompleted(statusClass string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes = append(r.classes, statusClass)
}

func testEvent() domain.NotificationEvent {
	return domain.NotificationEvent{
		EventID:        "evt-123",
		TenantID:       "tenant-a",
		Channel:        domain.ChannelSlack,
		CorrelationKey: "order-9",
		Payload:        map[string]any{"text": "hello"},
	}
}

func TestSender_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := &recordingSink{}
	sender := New(server.URL, "test-secret").WithMetrics(sink)

	if err := sender.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.classes) != 1 || sink.classes[0] != metrics.StatusClass2xx {
		t.Errorf("expected one 2xx observation, got %v", sink.classes)
	}
}

func TestSender_RequestHeaders(t *testing.T) {
	var gotHeaders http.Header
	var gotMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := New(server.URL, "my-secret").Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if ct := gotHeaders.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if id := gotHeaders.Get(HeaderEventID); id != "evt-123" {
		t.Errorf("%s = %q, want evt-123", HeaderEventID, id)
	}
	if id := gotHeaders.Get(HeaderTenantID); id != "tenant-a" {
		t.Errorf("%s = %q, want tenant-a", HeaderTenantID, id)
	}
	if ch := gotHeaders.Get(HeaderChannel); ch != "slack" {
		t.Errorf("%s = %q, want slack", HeaderChannel, ch)
	}
	if sig := gotHeaders.Get(HeaderSignature); sig == "" {
		t.Errorf("%s should not be empty", HeaderSignature)
	}
}

func TestSender_PayloadBody(t *testing.T) {
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := New(server.URL, "secret").Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var payload Payload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}
	if payload.EventID != "evt-123" {
		t.Errorf("EventID = %q, want evt-123", payload.EventID)
	}
	if payload.CorrelationKey != "order-9" {
		t.Errorf("CorrelationKey = %q, want order-9", payload.CorrelationKey)
	}
	if payload.Payload["text"] != "hello" {
		t.Errorf("payload text = %v, want hello", payload.Payload["text"])
	}
}

func TestSender_SignatureCorrect(t *testing.T) {
	var gotSignature string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(HeaderSignature)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	secret := "my-webhook-secret"
	if err := New(server.URL, secret).Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	expectedSig := hex.EncodeToString(mac.Sum(nil))

	if gotSignature != expectedSig {
		t.Errorf("signature mismatch:\n  got:  %s\n  want: %s", gotSignature, expectedSig)
	}
}

func TestSender_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := &recordingSink{}
	err := New(server.URL, "secret").WithMetrics(sink).Send(context.Background(), testEvent())

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != 500 {
		t.Errorf("expected status 500, got %d", statusErr.Code)
	}
	if len(sink.classes) != 1 || sink.classes[0] != metrics.StatusClass5xx {
		t.Errorf("expected one 5xx observation, got %v", sink.classes)
	}
}

func TestSender_ConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sink := &recordingSink{}
	err := New(url, "secret").WithTimeout(time.Second).WithMetrics(sink).Send(context.Background(), testEvent())
	if err == nil {
		t.Fatal("expected connection error, got nil")
	}
	if len(sink.classes) != 1 || sink.classes[0] == metrics.StatusClass2xx {
		t.Errorf("expected one error observation, got %v", sink.classes)
	}
}

func TestSender_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	err := New(server.URL, "secret").WithTimeout(50*time.Millisecond).Send(context.Background(), testEvent())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

type countingRoundTripper struct {
	mu    sync.Mutex
	calls int
	next  http.RoundTripper
}

func (c *countingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.next.RoundTrip(r)
}

func TestSender_SharedHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rt := &countingRoundTripper{next: http.DefaultTransport}
	client := &http.Client{Transport: rt}
	slack := New(server.URL, "secret").WithHTTPClient(client)
	email := New(server.URL, "secret").WithHTTPClient(client)

	if err := slack.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("slack send: %v", err)
	}
	if err := email.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("email send: %v", err)
	}
	if rt.calls != 2 {
		t.Errorf("expected both senders to use the shared client, got %d round trips", rt.calls)
	}
}

func TestSender_RatePacing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := New(server.URL, "secret").WithRate(1)

	if err := sender.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("first send: %v", err)
	}

	// The burst is spent; the next token is a second away.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := sender.Send(ctx, testEvent()); err == nil {
		t.Error("expected second send to be paced out by the short deadline")
	}
}

func TestSender_WithRateZeroDisablesPacing(t *testing.T) {
	sender := New("http://example.invalid", "s").WithRate(5).WithRate(0)
	if sender.limiter != nil {
		t.Error("WithRate(0) should clear the limiter")
	}
}

func TestVerifySignature_Valid(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"event_id":"e1"}`)

	sig := computeSignature(secret, body)

	if !VerifySignature(secret, body, sig) {
		t.Error("VerifySignature should return true for valid signature")
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte(`{"event_id":"e1"}`)
	sig := computeSignature("correct-secret", body)

	if VerifySignature("wrong-secret", body, sig) {
		t.Error("VerifySignature should return false for wrong secret")
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	secret := "test-secret"
	sig := computeSignature(secret, []byte(`{"event_id":"e1"}`))

	if VerifySignature(secret, []byte(`{"event_id":"e2"}`), sig) {
		t.Error("VerifySignature should return false for tampered body")
	}
}

func TestComputeSignature_Deterministic(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"event_id":"e1"}`)

	sig1 := computeSignature(secret, body)
	sig2 := computeSignature(secret, body)

	if sig1 != sig2 {
		t.Errorf("computeSignature should be deterministic: %s != %s", sig1, sig2)
	}
	if _, err := hex.DecodeString(sig1); err != nil {
		t.Errorf("signature should be valid hex: %v", err)
	}
}
