package delivery

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSignVerify(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		body   []byte
	}{
		{"simple body", "whsec_test", []byte(`{"hello":"world"}`)},
		{"empty body", "whsec_test", []byte{}},
		{"binary-ish body", "s3cr3t", []byte{0x00, 0xff, 0x10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := Sign(tt.secret, tt.body)
			if sig == "" {
				t.Fatal("Sign() returned empty signature")
			}
			if len(sig) != 64 {
				t.Errorf("Sign() length = %d, want 64 hex chars for SHA-256", len(sig))
			}
			if !Verify(tt.secret, tt.body, sig) {
				t.Error("Verify() = false for a signature produced by Sign()")
			}
		})
	}
}

func TestVerifyRejects(t *testing.T) {
	body := []byte(`{"amount":1200}`)
	sig := Sign("correct-secret", body)

	if Verify("wrong-secret", body, sig) {
		t.Error("Verify() accepted a signature from a different secret")
	}
	if Verify("correct-secret", []byte(`{"amount":9999}`), sig) {
		t.Error("Verify() accepted a tampered body")
	}
	if Verify("correct-secret", body, "deadbeef") {
		t.Error("Verify() accepted a bogus signature")
	}
	if Verify("correct-secret", body, "") {
		t.Error("Verify() accepted an empty signature")
	}
}

func TestNewPayload(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	p := NewPayload("payment.succeeded", json.RawMessage(`{"invoice":"inv_1"}`), "del_1", "sub_1", at)

	if p.EventType != "payment.succeeded" {
		t.Errorf("NewPayload() EventType = %q, want %q", p.EventType, "payment.succeeded")
	}
	if p.DeliveryID != "del_1" || p.WebhookID != "sub_1" {
		t.Errorf("NewPayload() ids = (%q, %q), want (del_1, sub_1)", p.DeliveryID, p.WebhookID)
	}
	// Timestamp is normalized to UTC RFC3339.
	if p.Timestamp != "2025-06-01T11:30:00Z" {
		t.Errorf("NewPayload() Timestamp = %q, want %q", p.Timestamp, "2025-06-01T11:30:00Z")
	}
}

func TestPayloadFieldOrderStable(t *testing.T) {
	p := NewPayload("user.created", json.RawMessage(`{"id":1}`), "del_1", "sub_1", time.Unix(0, 0).UTC())
	b1, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	b2, _ := json.Marshal(p)
	if string(b1) != string(b2) {
		t.Error("payload marshaling is not reproducible; signatures would not verify")
	}
	want := `{"event_type":"user.created","event_data":{"id":1},"delivery_id":"del_1","webhook_id":"sub_1","timestamp":"1970-01-01T00:00:00Z"}`
	if string(b1) != want {
		t.Errorf("payload wire form = %s, want %s", b1, want)
	}
}
