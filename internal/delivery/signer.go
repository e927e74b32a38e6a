package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Webhook request headers. Subscribers recompute the HMAC over the exact
// raw request bytes and compare in constant time.
const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
	DeliveryHeader  = "X-Webhook-Delivery"
)

// Payload is the canonical webhook body. Field order is fixed by the
// struct so the signed bytes are reproducible on both sides.
type Payload struct {
	EventType  string          `json:"event_type"`
	EventData  json.RawMessage `json:"event_data"`
	DeliveryID string          `json:"delivery_id"`
	WebhookID  string          `json:"webhook_id"`
	Timestamp  string          `json:"timestamp"` // ISO-8601 UTC
}

// NewPayload builds the canonical payload for one attempt.
func NewPayload(eventType string, eventData json.RawMessage, deliveryID, webhookID string, at time.Time) Payload {
	return Payload{
		EventType:  eventType,
		EventData:  eventData,
		DeliveryID: deliveryID,
		WebhookID:  webhookID,
		Timestamp:  at.UTC().Format(time.RFC3339),
	}
}

// Sign returns hex(HMAC-SHA256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature against the raw body in constant
// time. This is the subscriber-side half of the contract.
func Verify(secret string, body []byte, signature string) bool {
	want := Sign(secret, body)
	return hmac.Equal([]byte(signature), []byte(want))
}
