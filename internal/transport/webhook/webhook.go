// Package webhook delivers notification events as signed JSON POSTs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/djlord-it/reflex/internal/domain"
	"github.com/djlord-it/reflex/internal/metrics"
)

// Request headers set on every delivery.
const (
	HeaderEventID   = "X-Reflex-Event-ID"
	HeaderTenantID  = "X-Reflex-Tenant-ID"
	HeaderChannel   = "X-Reflex-Channel"
	HeaderSignature = "X-Reflex-Signature"
)

const DefaultTimeout = 30 * time.Second

// MetricsSink defines the interface for recording transport metrics.
type MetricsSink interface {
	TransportRequestCompleted(statusClass string, duration time.Duration)
}

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.Code)
}

// Payload is the JSON body posted to the endpoint.
type Payload struct {
	EventID        string         `json:"event_id"`
	TenantID       string         `json:"tenant_id"`
	Channel        string         `json:"channel"`
	CorrelationKey string         `json:"correlation_key,omitempty"`
	Payload        map[string]any `json:"payload"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type Sender struct {
	client  *http.Client
	url     string
	secret  string
	timeout time.Duration
	limiter *rate.Limiter // nil = unpaced
	metrics MetricsSink
}

func New(url, secret string) *Sender {
	return &Sender{
		client:  &http.Client{},
		url:     url,
		secret:  secret,
		timeout: DefaultTimeout,
	}
}

// WithRate paces requests to perSec with a burst of one second's worth.
// perSec <= 0 disables pacing.
func (s *Sender) WithRate(perSec float64) *Sender {
	if perSec <= 0 {
		s.limiter = nil
		return s
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	return s
}

func (s *Sender) WithTimeout(d time.Duration) *Sender {
	if d > 0 {
		s.timeout = d
	}
	return s
}

func (s *Sender) WithHTTPClient(c *http.Client) *Sender {
	s.client = c
	return s
}

func (s *Sender) WithMetrics(m MetricsSink) *Sender {
	s.metrics = m
	return s
}

// Send posts the event with an HMAC signature of the body.
func (s *Sender) Send(ctx context.Context, event domain.NotificationEvent) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate wait: %w", err)
		}
	}

	start := time.Now()
	status, err := s.post(ctx, event)
	if s.metrics != nil {
		s.metrics.TransportRequestCompleted(metrics.ClassifyStatus(status, err), time.Since(start))
	}
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &StatusError{Code: status}
	}
	return nil
}

func (s *Sender) post(ctx context.Context, event domain.NotificationEvent) (int, error) {
	body, err := json.Marshal(Payload{
		EventID:        event.EventID,
		TenantID:       event.TenantID,
		Channel:        string(event.Channel),
		CorrelationKey: event.CorrelationKey,
		Payload:        event.Payload,
		Metadata:       event.Metadata,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal: %w", err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventID, event.EventID)
	req.Header.Set(HeaderTenantID, event.TenantID)
	req.Header.Set(HeaderChannel, string(event.Channel))
	req.Header.Set(HeaderSignature, computeSignature(s.secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode, nil
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming deliveries.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
