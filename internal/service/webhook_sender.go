package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"

	"github.com/pharmaintel/hub/internal/models"
	"github.com/pharmaintel/hub/internal/retry"
)

// Extra headers sent with every delivery.
const (
	headerWebhookEvent      = "X-Webhook-Event"
	headerWebhookEncryption = "X-Webhook-Encryption"
	headerRequestID         = "X-Request-ID"
	defaultAPIKeyHeader     = "X-API-Key"
	maxErrorBodyBytes       = 512
)

// DeliveryError is a failed delivery attempt. StatusCode is 0 when no response was received.
type DeliveryError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("endpoint returned status %d: %v", e.StatusCode, e.Err)
	}

	return e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsRetryableDeliveryError is the retry predicate for webhook delivery: network errors,
// timeouts, 5xx, 408 and 429 are retried. Anything else ends the delivery.
func IsRetryableDeliveryError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable
	}

	return false
}

var _ retry.Predicate = IsRetryableDeliveryError

func isRetryableStatus(code int) bool {
	return code >= http.StatusInternalServerError ||
		code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests
}

// statusCodeOf returns the HTTP status carried by err, or 0.
func statusCodeOf(err error) int {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.StatusCode
	}

	return 0
}

// WebhookSender makes one HTTP attempt of a delivery and returns the response status.
type WebhookSender interface {
	Send(ctx context.Context, endpoint *models.WebhookEndpoint, delivery *models.WebhookDelivery) (int, error)
}

// WebhookSenderImpl signs, optionally encrypts and sends delivery payloads.
type WebhookSenderImpl struct {
	httpClient *http.Client
	now        func() time.Time
}

// NewWebhookSenderImpl creates a sender. The HTTP client does not follow redirects;
// the per-request timeout comes from the endpoint.
func NewWebhookSenderImpl() *WebhookSenderImpl {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxIdleConnsPerHost = 20

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &WebhookSenderImpl{httpClient: client, now: time.Now}
}

// Send makes a single attempt. Failures are returned as *DeliveryError when they come from the
// network or the receiver, and as plain errors when the endpoint configuration is unusable.
func (s *WebhookSenderImpl) Send(
	ctx context.Context, endpoint *models.WebhookEndpoint, delivery *models.WebhookDelivery,
) (int, error) {
	canonical, err := CanonicalJSON(delivery.Payload)
	if err != nil {
		return 0, err
	}

	body := canonical
	contentType := "application/json"

	if endpoint.EncryptionEnabled {
		key, err := fernet.DecodeKey(endpoint.EncryptionKey)
		if err != nil {
			return 0, fmt.Errorf("decode endpoint encryption key: %w", err)
		}

		body, err = fernet.EncryptAndSign(canonical, key)
		if err != nil {
			return 0, fmt.Errorf("encrypt webhook payload: %w", err)
		}

		contentType = "application/octet-stream"
	}

	messageID := delivery.ID.String()

	wh, err := standardwebhooks.NewWebhook(endpoint.SigningSecret)
	if err != nil {
		return 0, fmt.Errorf("create webhook signer: %w", err)
	}

	timestamp := s.now()

	stdSignature, err := wh.Sign(messageID, timestamp, body)
	if err != nil {
		return 0, fmt.Errorf("sign webhook: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, endpoint.Timeout())
	defer cancel()

	method := endpoint.Method
	if method == "" {
		method = models.DefaultEndpointMethod
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	for k, v := range endpoint.Headers {
		req.Header.Set(k, v)
	}

	applyAuth(req, endpoint.Auth)

	req.Header.Set("Content-Type", contentType)
	req.Header.Set(SignatureHeader, Sign(endpoint.SigningSecret, canonical))
	req.Header.Set(headerWebhookEvent, delivery.EventType.String())
	req.Header.Set(headerRequestID, delivery.RequestID)
	req.Header.Set(standardwebhooks.HeaderWebhookID, messageID)
	req.Header.Set(standardwebhooks.HeaderWebhookSignature, stdSignature)
	req.Header.Set(standardwebhooks.HeaderWebhookTimestamp, strconv.FormatInt(timestamp.Unix(), 10))

	if endpoint.EncryptionEnabled {
		req.Header.Set(headerWebhookEncryption, "fernet")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, &DeliveryError{Retryable: true, Err: fmt.Errorf("send webhook: %w", err)}
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close webhook response body", "webhook_id", delivery.ID, "error", closeErr)
		}
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)

		return resp.StatusCode, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	return resp.StatusCode, &DeliveryError{
		StatusCode: resp.StatusCode,
		Retryable:  isRetryableStatus(resp.StatusCode),
		Err:        fmt.Errorf("non-2xx response: %s", strings.TrimSpace(string(snippet))),
	}
}

func applyAuth(req *http.Request, auth models.EndpointAuth) {
	switch auth.Type {
	case models.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case models.AuthBasic:
		req.SetBasicAuth(auth.Username, auth.Password)
	case models.AuthAPIKey:
		header := auth.HeaderName
		if header == "" {
			header = defaultAPIKeyHeader
		}

		req.Header.Set(header, auth.Token)
	case models.AuthNone:
	}
}
