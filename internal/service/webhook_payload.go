package service

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pharmaintel/hub/internal/datatypes"
	"github.com/pharmaintel/hub/internal/models"
)

// SignatureHeader carries the hex HMAC-SHA256 of the canonical payload.
const SignatureHeader = "X-Webhook-Signature"

// buildPayload returns the JSON body stored with a delivery. Empty data is omitted.
func buildPayload(requestID string, eventType datatypes.EventType, data map[string]any, at time.Time) (json.RawMessage, error) {
	if len(data) == 0 {
		data = nil
	}

	raw, err := json.Marshal(models.WebhookPayload{
		RequestID: requestID,
		Status:    eventType.String(),
		Timestamp: at.UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	return raw, nil
}

// CanonicalJSON re-encodes raw JSON compactly with object keys sorted at every depth.
// Numbers keep their original text.
func CanonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode canonical payload: %w", err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Sign returns "sha256=" followed by the hex HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
